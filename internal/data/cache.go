package data

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedSource keeps recent snapshots in a ristretto cache in front of a
// slower SnapshotSource. Invalidate drops every cached day of a tenant by
// bumping the tenant's generation, which is part of the cache key.
type CachedSource struct {
	next  SnapshotSource
	cache *ristretto.Cache[string, *Snapshot]
	ttl   time.Duration

	mu          sync.Mutex
	generations map[string]uint64
}

// NewCachedSource creates a cache holding at most maxCost appointments.
func NewCachedSource(next SnapshotSource, maxCost int64, ttl time.Duration) (*CachedSource, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Snapshot]{
		NumCounters: maxCost * 10,
		MaxCost:     maxCost,
		BufferItems: 64,
		// cost is counted in appointments, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSource{
		next:        next,
		cache:       cache,
		ttl:         ttl,
		generations: make(map[string]uint64),
	}, nil
}

func (c *CachedSource) key(tenantID, date string) string {
	c.mu.Lock()
	gen := c.generations[tenantID]
	c.mu.Unlock()
	return tenantID + "/" + strconv.FormatUint(gen, 10) + "/" + date
}

func (c *CachedSource) Snapshot(ctx context.Context, tenantID, date string) (*Snapshot, error) {
	key := c.key(tenantID, date)
	if snap, ok := c.cache.Get(key); ok {
		return snap, nil
	}

	snap, err := c.next.Snapshot(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, snap, int64(len(snap.Appointments))+1, c.ttl)
	return snap, nil
}

// Invalidate makes later reads for the tenant miss the cache.
func (c *CachedSource) Invalidate(tenantID string) {
	c.mu.Lock()
	c.generations[tenantID]++
	c.mu.Unlock()
}

// Purge drops every cached snapshot.
func (c *CachedSource) Purge() {
	c.cache.Clear()
}

// Wait blocks until pending cache writes are applied.
func (c *CachedSource) Wait() {
	c.cache.Wait()
}

func (c *CachedSource) Close() error {
	c.cache.Close()
	return c.next.Close()
}

var _ SnapshotSource = (*CachedSource)(nil)
