// Package postgres provides PostgreSQL storage for tunnel session records.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/txn2/tunnels/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// recordColumns lists columns returned by record SELECT queries.
var recordColumns = []string{
	"id", "status", "created_at", "client_ip", "user_id", "last_step", "data",
}

// Store implements session.Repository using PostgreSQL.
type Store struct {
	db *sql.DB

	// now is swappable for tests.
	now func() time.Time
}

// New creates a new PostgreSQL session repository.
func New(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// Find retrieves a record by ID. Returns nil, nil when not found.
func (s *Store) Find(ctx context.Context, id string) (*session.Record, error) {
	query, args, err := psq.Select(recordColumns...).
		From("tunnel_sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building find query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, query, args...)
	return scanRecord(row)
}

// Create persists a new active record.
func (s *Store) Create(ctx context.Context, clientIP, userID string) (*session.Record, error) {
	r := &session.Record{
		ID:        uuid.NewString(),
		Status:    session.StatusActive,
		CreatedAt: s.now().UTC(),
		ClientIP:  clientIP,
		UserID:    userID,
		Data:      make(map[string]any),
	}

	query, args, err := psq.Insert("tunnel_sessions").
		Columns(recordColumns...).
		Values(r.ID, string(r.Status), r.CreatedAt, r.ClientIP, nullable(r.UserID), r.LastStep, []byte("{}")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("inserting session record: %w", err)
	}
	return r, nil
}

// Save persists the record's mutable fields.
func (s *Store) Save(ctx context.Context, r *session.Record) error {
	dataJSON, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("marshaling session data: %w", err)
	}

	query, args, err := psq.Update("tunnel_sessions").
		Set("status", string(r.Status)).
		Set("last_step", r.LastStep).
		Set("data", dataJSON).
		Where(sq.Eq{"id": r.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating session record: %w", err)
	}
	return nil
}

// scanRecord scans a single row into a Record.
func scanRecord(row *sql.Row) (*session.Record, error) {
	var r session.Record
	var status string
	var userID sql.NullString
	var dataJSON []byte

	err := row.Scan(&r.ID, &status, &r.CreatedAt, &r.ClientIP, &userID, &r.LastStep, &dataJSON)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // Repository specifies nil,nil for not-found
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session record: %w", err)
	}

	r.Status = session.Status(status)
	r.UserID = userID.String
	r.Data = make(map[string]any)
	if len(dataJSON) > 0 {
		_ = json.Unmarshal(dataJSON, &r.Data)
	}
	return &r, nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Verify interface compliance.
var _ session.Repository = (*Store)(nil)
