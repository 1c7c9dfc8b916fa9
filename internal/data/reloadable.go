package data

import (
	"context"
	"sync"
)

// ReloadableSource wraps a SnapshotSource and allows atomic replacement.
// Reads delegate to the current underlying source.
type ReloadableSource struct {
	mu      sync.RWMutex
	current SnapshotSource
}

func NewReloadableSource(initial SnapshotSource) *ReloadableSource {
	return &ReloadableSource{
		current: initial,
	}
}

// Swap atomically replaces the underlying source and returns the old one.
// Caller is responsible for closing the old source after swap.
func (r *ReloadableSource) Swap(next SnapshotSource) SnapshotSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current
	r.current = next
	return old
}

func (r *ReloadableSource) Snapshot(ctx context.Context, tenantID, date string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Snapshot(ctx, tenantID, date)
}

func (r *ReloadableSource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Close()
}

var _ SnapshotSource = (*ReloadableSource)(nil)
