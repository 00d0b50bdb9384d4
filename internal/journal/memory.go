package journal

import (
	"context"
	"sync"
)

// MemoryRepository keeps entries in process memory. It is used when the
// SQLite journal is disabled.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRepository creates an empty in-memory journal.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Record appends e. ID and CreatedAt are generated if empty.
func (r *MemoryRepository) Record(_ context.Context, e *Entry) error {
	if err := prepare(e); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries = append(r.entries, *e)
	r.mu.Unlock()
	return nil
}

// List returns entries matching filter, most recent first.
func (r *MemoryRepository) List(_ context.Context, filter Filter) (*ListResult, error) {
	filter = filter.clamp()

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.matches(r.entries[i]) {
			matched = append(matched, r.entries[i])
		}
	}

	start := min(filter.Offset, len(matched))
	end := min(start+filter.Limit, len(matched))

	return &ListResult{
		Entries: append([]Entry{}, matched[start:end]...),
		Total:   len(matched),
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
