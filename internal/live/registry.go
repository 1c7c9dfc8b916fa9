package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/metrics"
)

var (
	ErrChannelClosed  = errors.New("channel closed")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrUserCapacity   = errors.New("too many connections for user")
)

// Channel is the transport handle of one client connection. The registry
// references it but does not own it.
type Channel interface {
	// Send queues payload for delivery. It must not block on the network.
	Send(ctx context.Context, payload []byte) error
	// Close terminates the connection with an application close code.
	// Closing an already closed channel returns ErrChannelClosed.
	Close(code int, reason string) error
}

// Conn is one registered client connection.
type Conn struct {
	id          string
	tenantID    string
	userID      string
	channel     Channel
	connectedAt time.Time
	lastSeen    atomic.Int64 // unix nanos
}

func (c *Conn) ID() string             { return c.id }
func (c *Conn) TenantID() string       { return c.tenantID }
func (c *Conn) UserID() string         { return c.userID }
func (c *Conn) ConnectedAt() time.Time { return c.connectedAt }

// LastLivenessAt returns the time of the last inbound liveness or data
// message, or the registration time if none arrived yet.
func (c *Conn) LastLivenessAt() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Touch records inbound activity.
func (c *Conn) Touch(now time.Time) {
	c.lastSeen.Store(now.UnixNano())
}

// Send delivers payload through the underlying channel.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	return c.channel.Send(ctx, payload)
}

// Close closes the underlying channel.
func (c *Conn) Close(code int, reason string) error {
	return c.channel.Close(code, reason)
}

// Stats is an aggregate view of the registry for capacity monitoring.
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	TotalTenants     int            `json:"totalTenants"`
	PerTenantCounts  map[string]int `json:"perTenantCounts"`
}

// Registry maps tenant IDs to their live connections.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string][]*Conn // tenant -> connections in registration order
	total   int
	clock   clockwork.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(clock clockwork.Clock, m *metrics.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		tenants: make(map[string][]*Conn),
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Register adds a connection for the tenant. It always succeeds.
func (r *Registry) Register(tenantID, userID string, ch Channel) *Conn {
	c, _ := r.Admit(tenantID, userID, ch, 0)
	return c
}

// Admit registers a connection unless the user already holds maxPerUser
// connections in the tenant. A maxPerUser of zero disables the check.
func (r *Registry) Admit(tenantID, userID string, ch Channel, maxPerUser int) (*Conn, error) {
	now := r.clock.Now()
	c := &Conn{
		id:          uuid.New().String(),
		tenantID:    tenantID,
		userID:      userID,
		channel:     ch,
		connectedAt: now,
	}
	c.Touch(now)

	r.mu.Lock()
	partition := r.tenants[tenantID]
	if maxPerUser > 0 {
		held := 0
		for _, existing := range partition {
			if existing.userID == userID {
				held++
			}
		}
		if held >= maxPerUser {
			r.mu.Unlock()
			return nil, ErrUserCapacity
		}
	}
	r.tenants[tenantID] = append(partition, c)
	r.total++
	r.updateGauges()
	r.mu.Unlock()

	r.logger.Debug("connection registered",
		zap.String("tenantId", tenantID),
		zap.String("userId", userID),
		zap.String("connId", c.id),
	)
	return c, nil
}

// Unregister removes a connection. Removing an unknown or already removed
// connection is a no-op. It reports whether the connection was removed.
func (r *Registry) Unregister(c *Conn) bool {
	if c == nil {
		return false
	}

	r.mu.Lock()
	partition, ok := r.tenants[c.tenantID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	idx := -1
	for i, existing := range partition {
		if existing == c {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	if len(partition) == 1 {
		delete(r.tenants, c.tenantID)
	} else {
		next := make([]*Conn, 0, len(partition)-1)
		next = append(next, partition[:idx]...)
		next = append(next, partition[idx+1:]...)
		r.tenants[c.tenantID] = next
	}
	r.total--
	r.updateGauges()
	r.mu.Unlock()

	r.logger.Debug("connection unregistered",
		zap.String("tenantId", c.tenantID),
		zap.String("userId", c.userID),
		zap.String("connId", c.id),
	)
	return true
}

// ConnectionsFor returns a copy of the tenant's connections in registration
// order. Unknown tenants yield an empty slice.
func (r *Registry) ConnectionsFor(tenantID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	partition := r.tenants[tenantID]
	out := make([]*Conn, len(partition))
	copy(out, partition)
	return out
}

// All returns a copy of every registered connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Conn, 0, r.total)
	for _, partition := range r.tenants {
		out = append(out, partition...)
	}
	return out
}

// Stats returns connection counts per tenant.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	per := make(map[string]int, len(r.tenants))
	for tenantID, partition := range r.tenants {
		per[tenantID] = len(partition)
	}
	return Stats{
		TotalConnections: r.total,
		TotalTenants:     len(r.tenants),
		PerTenantCounts:  per,
	}
}

// updateGauges must be called with mu held.
func (r *Registry) updateGauges() {
	r.metrics.ActiveConnections.Set(float64(r.total))
	r.metrics.ActiveTenants.Set(float64(len(r.tenants)))
}
