package session

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository implements Repository using an in-memory map. It is
// intended for tests and single-node deployments without a database.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Find retrieves a record by ID. Returns nil, nil when not found.
func (m *MemoryRepository) Find(_ context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, nil //nolint:nilnil // Repository specifies nil,nil for not-found
	}
	return cloneRecord(r), nil
}

// Create persists a new active record.
func (m *MemoryRepository) Create(_ context.Context, clientIP, userID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &Record{
		ID:        uuid.NewString(),
		Status:    StatusActive,
		CreatedAt: m.now(),
		ClientIP:  clientIP,
		UserID:    userID,
		Data:      make(map[string]any),
	}
	m.records[r.ID] = cloneRecord(r)
	return r, nil
}

// Save persists the record's mutable fields.
func (m *MemoryRepository) Save(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[r.ID] = cloneRecord(r)
	return nil
}

// Backdate rewrites a record's creation time. Test helper for exercising
// the age cutoff without waiting.
func (m *MemoryRepository) Backdate(id string, createdAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.records[id]; ok {
		r.CreatedAt = createdAt
	}
}

// cloneRecord copies a record one level deep so callers cannot mutate
// stored state without going through Save.
func cloneRecord(r *Record) *Record {
	c := *r
	c.Data = make(map[string]any, len(r.Data))
	maps.Copy(c.Data, r.Data)
	return &c
}

// Verify interface compliance.
var _ Repository = (*MemoryRepository)(nil)
