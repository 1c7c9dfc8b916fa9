package data

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource counts fetches per tenant/date.
type countingSource struct {
	mu     sync.Mutex
	calls  map[string]int
	err    error
	closed bool
}

func newCountingSource() *countingSource {
	return &countingSource{calls: make(map[string]int)}
}

func (s *countingSource) Snapshot(_ context.Context, tenantID, date string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[tenantID+"/"+date]++
	if s.err != nil {
		return nil, s.err
	}
	return &Snapshot{
		TenantID:     tenantID,
		Date:         date,
		Appointments: []Appointment{{ID: "a1", TenantID: tenantID}},
	}, nil
}

func (s *countingSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *countingSource) count(tenantID, date string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[tenantID+"/"+date]
}

func newTestCache(t *testing.T, next SnapshotSource) *CachedSource {
	t.Helper()
	cache, err := NewCachedSource(next, 1000, time.Minute)
	require.NoError(t, err)
	return cache
}

func TestCachedSource_ServesRepeatReadsFromCache(t *testing.T) {
	next := newCountingSource()
	cache := newTestCache(t, next)
	ctx := context.Background()

	first, err := cache.Snapshot(ctx, "t1", "2024-03-01")
	require.NoError(t, err)
	cache.Wait()

	second, err := cache.Snapshot(ctx, "t1", "2024-03-01")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, next.count("t1", "2024-03-01"))
}

func TestCachedSource_KeysByTenantAndDate(t *testing.T) {
	next := newCountingSource()
	cache := newTestCache(t, next)
	ctx := context.Background()

	_, err := cache.Snapshot(ctx, "t1", "2024-03-01")
	require.NoError(t, err)
	cache.Wait()

	snap, err := cache.Snapshot(ctx, "t2", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "t2", snap.TenantID)

	_, err = cache.Snapshot(ctx, "t1", "2024-03-02")
	require.NoError(t, err)

	assert.Equal(t, 1, next.count("t2", "2024-03-01"))
	assert.Equal(t, 1, next.count("t1", "2024-03-02"))
}

func TestCachedSource_InvalidateForcesRefetch(t *testing.T) {
	next := newCountingSource()
	cache := newTestCache(t, next)
	ctx := context.Background()

	for _, tenant := range []string{"t1", "t2"} {
		_, err := cache.Snapshot(ctx, tenant, "2024-03-01")
		require.NoError(t, err)
	}
	cache.Wait()

	cache.Invalidate("t1")

	for _, tenant := range []string{"t1", "t2"} {
		_, err := cache.Snapshot(ctx, tenant, "2024-03-01")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, next.count("t1", "2024-03-01"))
	assert.Equal(t, 1, next.count("t2", "2024-03-01"))
}

func TestCachedSource_PurgeDropsEverything(t *testing.T) {
	next := newCountingSource()
	cache := newTestCache(t, next)
	ctx := context.Background()

	_, err := cache.Snapshot(ctx, "t1", "2024-03-01")
	require.NoError(t, err)
	cache.Wait()

	cache.Purge()

	_, err = cache.Snapshot(ctx, "t1", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 2, next.count("t1", "2024-03-01"))
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	next := newCountingSource()
	next.err = errors.New("database down")
	cache := newTestCache(t, next)
	ctx := context.Background()

	_, err := cache.Snapshot(ctx, "t1", "2024-03-01")
	require.Error(t, err)
	cache.Wait()
	_, err = cache.Snapshot(ctx, "t1", "2024-03-01")
	require.Error(t, err)

	assert.Equal(t, 2, next.count("t1", "2024-03-01"))
}

func TestCachedSource_CloseClosesUnderlying(t *testing.T) {
	next := newCountingSource()
	cache := newTestCache(t, next)

	require.NoError(t, cache.Close())
	assert.True(t, next.closed)
}
