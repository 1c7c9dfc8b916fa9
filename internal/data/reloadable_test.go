package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadableSource_Swap(t *testing.T) {
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	before := NewMemoryStore([]Appointment{appt("old", "t1", day)}, time.UTC)
	after := NewMemoryStore([]Appointment{appt("new", "t1", day)}, time.UTC)

	src := NewReloadableSource(before)

	snap, err := src.Snapshot(context.Background(), "t1", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "old", snap.Appointments[0].ID)

	old := src.Swap(after)
	assert.Same(t, before, old)

	snap, err = src.Snapshot(context.Background(), "t1", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, "new", snap.Appointments[0].ID)
}

func TestReloadableSource_ConcurrentSwapAndRead(t *testing.T) {
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	src := NewReloadableSource(NewMemoryStore([]Appointment{appt("a", "t1", day)}, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap, err := src.Snapshot(context.Background(), "t1", "2024-03-01")
				assert.NoError(t, err)
				assert.Len(t, snap.Appointments, 1)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		src.Swap(NewMemoryStore([]Appointment{appt("a", "t1", day)}, time.UTC))
	}
	wg.Wait()
}
