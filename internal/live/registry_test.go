package live

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterCreatesPartition(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())

	c := reg.Register("t1", "u1", newFakeChannel())

	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, "t1", c.TenantID())
	assert.Equal(t, "u1", c.UserID())
	assert.True(t, c.ConnectedAt().Equal(c.LastLivenessAt()))

	stats := reg.Stats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.TotalTenants)
	assert.Equal(t, map[string]int{"t1": 1}, stats.PerTenantCounts)
}

func TestRegistry_SameUserMultipleConnections(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())

	a := reg.Register("t1", "u1", newFakeChannel())
	b := reg.Register("t1", "u1", newFakeChannel())

	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, []*Conn{a, b}, reg.ConnectionsFor("t1"))
}

func TestRegistry_UnregisterRemovesEmptyPartition(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())
	a := reg.Register("t1", "u1", newFakeChannel())
	b := reg.Register("t1", "u2", newFakeChannel())

	assert.True(t, reg.Unregister(a))
	assert.Equal(t, 1, reg.Stats().TotalTenants)

	assert.True(t, reg.Unregister(b))
	stats := reg.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Equal(t, 0, stats.TotalTenants)
	assert.Empty(t, stats.PerTenantCounts)
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())
	a := reg.Register("t1", "u1", newFakeChannel())
	b := reg.Register("t1", "u2", newFakeChannel())

	assert.True(t, reg.Unregister(a))
	once := reg.Stats()

	assert.False(t, reg.Unregister(a))
	assert.Equal(t, once, reg.Stats())
	assert.Equal(t, []*Conn{b}, reg.ConnectionsFor("t1"))

	assert.False(t, reg.Unregister(nil))
}

func TestRegistry_ConnectionsForUnknownTenant(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())

	conns := reg.ConnectionsFor("nobody")
	assert.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestRegistry_ConnectionsForReturnsCopy(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())
	a := reg.Register("t1", "u1", newFakeChannel())
	b := reg.Register("t1", "u2", newFakeChannel())

	snapshot := reg.ConnectionsFor("t1")
	reg.Unregister(a)

	assert.Equal(t, []*Conn{a, b}, snapshot)
	assert.Equal(t, []*Conn{b}, reg.ConnectionsFor("t1"))
}

func TestRegistry_PreservesRegistrationOrder(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())
	var want []*Conn
	for i := 0; i < 5; i++ {
		want = append(want, reg.Register("t1", fmt.Sprintf("u%d", i), newFakeChannel()))
	}

	reg.Unregister(want[2])
	want = append(want[:2], want[3:]...)

	assert.Equal(t, want, reg.ConnectionsFor("t1"))
}

func TestRegistry_AdmitEnforcesPerUserCap(t *testing.T) {
	reg := newTestRegistry(clockwork.NewFakeClock())

	first, err := reg.Admit("t1", "u1", newFakeChannel(), 2)
	require.NoError(t, err)
	_, err = reg.Admit("t1", "u1", newFakeChannel(), 2)
	require.NoError(t, err)

	_, err = reg.Admit("t1", "u1", newFakeChannel(), 2)
	assert.ErrorIs(t, err, ErrUserCapacity)

	// other users and other tenants are unaffected
	_, err = reg.Admit("t1", "u2", newFakeChannel(), 2)
	assert.NoError(t, err)
	_, err = reg.Admit("t2", "u1", newFakeChannel(), 2)
	assert.NoError(t, err)

	reg.Unregister(first)
	_, err = reg.Admit("t1", "u1", newFakeChannel(), 2)
	assert.NoError(t, err)
	assert.Equal(t, 5, reg.Stats().TotalConnections)
}

func TestConn_Touch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := newTestRegistry(clock)
	c := reg.Register("t1", "u1", newFakeChannel())

	later := clock.Now().Add(15 * time.Second)
	c.Touch(later)

	assert.True(t, c.LastLivenessAt().Equal(later))
	assert.True(t, c.ConnectedAt().Before(later))
}

// A partition exists if and only if it holds at least one connection, for
// any interleaving of register and unregister.
func TestRegistry_PartitionHygieneRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	reg := newTestRegistry(clockwork.NewFakeClock())
	tenants := []string{"t1", "t2", "t3", "t4"}
	live := make(map[string][]*Conn)

	for step := 0; step < 2000; step++ {
		tenant := tenants[rng.Intn(len(tenants))]
		if rng.Intn(2) == 0 || len(live[tenant]) == 0 {
			c := reg.Register(tenant, fmt.Sprintf("u%d", rng.Intn(3)), newFakeChannel())
			live[tenant] = append(live[tenant], c)
		} else {
			i := rng.Intn(len(live[tenant]))
			reg.Unregister(live[tenant][i])
			// repeat unregister on half of the removals
			if rng.Intn(2) == 0 {
				reg.Unregister(live[tenant][i])
			}
			live[tenant] = append(live[tenant][:i], live[tenant][i+1:]...)
		}

		stats := reg.Stats()
		total := 0
		for _, id := range tenants {
			count, present := stats.PerTenantCounts[id]
			if len(live[id]) == 0 {
				require.False(t, present, "step %d: empty partition %s leaked", step, id)
				continue
			}
			require.True(t, present, "step %d: partition %s missing", step, id)
			require.Equal(t, len(live[id]), count)
			total += count
		}
		require.Equal(t, total, stats.TotalConnections)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := newTestRegistry(clockwork.NewRealClock())

	const workers = 32
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tenant := fmt.Sprintf("t%d", w%4)
			for i := 0; i < 100; i++ {
				c := reg.Register(tenant, "u", newFakeChannel())
				for _, other := range reg.ConnectionsFor(tenant) {
					assert.Equal(t, tenant, other.TenantID())
				}
				_ = reg.Stats()
				reg.Unregister(c)
				reg.Unregister(c)
			}
		}(w)
	}
	wg.Wait()

	stats := reg.Stats()
	assert.Equal(t, 0, stats.TotalConnections)
	assert.Equal(t, 0, stats.TotalTenants)
}
