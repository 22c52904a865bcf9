// Package browser provides the lightweight per-browser key/value bag used
// alongside the persisted session record. The bag carries hints such as the
// current tunnel session ID between requests from the same browser; it is
// not durable state and can be lost without breaking a traversal (a request
// parameter can re-establish the link).
//
// Bags are namespaced by bucket key ("tunnel-<name>") so multiple tunnel
// definitions can coexist in one browser session.
package browser

// Bag is one browser's key/value store, scoped to a single request.
type Bag interface {
	// Get returns the bucket stored under key, or false when absent.
	Get(key string) (map[string]any, bool)

	// Set replaces the bucket stored under key.
	Set(key string, data map[string]any)

	// Remove deletes the bucket stored under key.
	Remove(key string)
}

// MemoryBag is a Bag backed by a plain map. Used in tests and by callers
// that manage browser state elsewhere.
type MemoryBag struct {
	buckets map[string]map[string]any
}

// NewMemoryBag creates an empty in-memory bag.
func NewMemoryBag() *MemoryBag {
	return &MemoryBag{buckets: make(map[string]map[string]any)}
}

// Get returns the bucket stored under key.
func (b *MemoryBag) Get(key string) (map[string]any, bool) {
	data, ok := b.buckets[key]
	return data, ok
}

// Set replaces the bucket stored under key.
func (b *MemoryBag) Set(key string, data map[string]any) {
	b.buckets[key] = data
}

// Remove deletes the bucket stored under key.
func (b *MemoryBag) Remove(key string) {
	delete(b.buckets, key)
}

// Verify interface compliance.
var _ Bag = (*MemoryBag)(nil)
