// Package session defines the durable tunnel session record and the
// Repository interface for its persistence. A record tracks one visitor's
// traversal attempt through a tunnel: which step was last reached, which
// steps are completed, and arbitrary per-traversal variables.
package session

import (
	"context"
	"strconv"
	"time"
)

// Status is the lifecycle state of a session record.
type Status string

const (
	// StatusActive marks a traversal still in progress.
	StatusActive Status = "active"

	// StatusCompleted marks a finished traversal. Completed records are
	// never rebound to new requests.
	StatusCompleted Status = "completed"
)

// completedKey is the reserved key inside Data holding the completion map.
const completedKey = "completed"

// Record is one visitor's traversal attempt through a tunnel.
type Record struct {
	// ID is the opaque record identifier, stable once created.
	ID string

	// Status is either active or completed.
	Status Status

	// CreatedAt is when the record was created. Immutable; records older
	// than the tunnel TTL are never rebound.
	CreatedAt time.Time

	// ClientIP is the client address captured at creation. Requests from a
	// different address never rebind to this record.
	ClientIP string

	// UserID identifies the authenticated owner, or empty for anonymous
	// traversals.
	UserID string

	// LastStep is the position of the most recently resolved step. Updated
	// on every request; back-navigation moves it down.
	LastStep int

	// Data holds the completion map under the reserved "completed" key plus
	// arbitrary variables set by step handlers.
	Data map[string]any
}

// Completed returns the completion map keyed by step position. Entries that
// do not round-trip cleanly (wrong type, unparseable key) are dropped rather
// than treated as completed.
func (r *Record) Completed() map[int]bool {
	out := make(map[int]bool)
	raw, ok := r.Data[completedKey]
	if !ok {
		return out
	}

	switch m := raw.(type) {
	case map[int]bool:
		for pos, done := range m {
			out[pos] = done
		}
	case map[string]any:
		// JSON round-trips integer keys as strings.
		for key, v := range m {
			pos, err := strconv.Atoi(key)
			if err != nil {
				continue
			}
			done, ok := v.(bool)
			if !ok {
				continue
			}
			out[pos] = done
		}
	}
	return out
}

// IsCompleted reports whether the step at the given position is completed.
func (r *Record) IsCompleted(position int) bool {
	return r.Completed()[position]
}

// SetCompleted sets the completion flag for the step at the given position.
func (r *Record) SetCompleted(position int, done bool) {
	m := r.Completed()
	m[position] = done
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[completedKey] = m
}

// ResetCompleted empties the completion map. Used when a visitor re-enters
// the first step, which starts a fresh traversal on the same record.
func (r *Record) ResetCompleted() {
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[completedKey] = map[int]bool{}
}

// SetVariable stores an arbitrary traversal variable. The reserved
// completion key cannot be shadowed.
func (r *Record) SetVariable(name string, value any) {
	if name == completedKey {
		return
	}
	if r.Data == nil {
		r.Data = make(map[string]any)
	}
	r.Data[name] = value
}

// Variable returns a traversal variable, or def when unset.
func (r *Record) Variable(name string, def any) any {
	if name == completedKey {
		return def
	}
	if v, ok := r.Data[name]; ok {
		return v
	}
	return def
}

// Repository defines persistence for session records.
type Repository interface {
	// Find retrieves a record by ID. Returns nil, nil when not found.
	Find(ctx context.Context, id string) (*Record, error)

	// Create persists a new active record stamped with the current time,
	// the client address, and the owning user (empty for anonymous).
	Create(ctx context.Context, clientIP, userID string) (*Record, error)

	// Save persists the record's mutable fields (status, last step, data).
	Save(ctx context.Context, r *Record) error
}
