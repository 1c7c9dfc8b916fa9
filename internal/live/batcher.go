package live

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/schedule-live/internal/metrics"
)

// ConnectionSource resolves the live connections of a tenant.
type ConnectionSource interface {
	ConnectionsFor(tenantID string) []*Conn
}

type batcherState int

const (
	// stateIdle: nothing pending, no timer.
	stateIdle batcherState = iota
	// stateAccumulating: events pending, exactly one flush timer running.
	stateAccumulating
)

func (s batcherState) String() string {
	if s == stateAccumulating {
		return "accumulating"
	}
	return "idle"
}

// Batcher coalesces update events into one batch_updates message per tenant
// per interval. The flush timer starts with the first event after a flush
// and is never reset by later events, so no event waits longer than one
// interval.
type Batcher struct {
	conns       ConnectionSource
	clock       clockwork.Clock
	interval    time.Duration
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu      sync.Mutex
	state   batcherState
	timer   clockwork.Timer
	pending map[string][]UpdateEvent
	queued  int
	closed  bool
	flushes sync.WaitGroup

	// held from taking a batch until it is delivered, so cycles reach
	// clients in the order they were drained
	dispatchMu sync.Mutex
}

// NewBatcher creates a Batcher flushing every interval. concurrency bounds
// how many tenants are dispatched in parallel during one flush.
func NewBatcher(conns ConnectionSource, clock clockwork.Clock, interval time.Duration, concurrency int, m *metrics.Metrics, logger *zap.Logger) *Batcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Batcher{
		conns:       conns,
		clock:       clock,
		interval:    interval,
		concurrency: concurrency,
		metrics:     m,
		logger:      logger,
		pending:     make(map[string][]UpdateEvent),
	}
}

// Enqueue appends ev to its tenant's pending batch. It never blocks on
// delivery and never drops events while the batcher is running.
func (b *Batcher) Enqueue(ev UpdateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Debug("batcher stopped, dropping event",
			zap.String("tenantId", ev.TenantID),
			zap.String("kind", string(ev.Kind)),
		)
		return
	}

	b.pending[ev.TenantID] = append(b.pending[ev.TenantID], ev)
	b.queued++
	b.metrics.EventsEnqueued.WithLabelValues(string(ev.Kind)).Inc()

	if b.state == stateIdle {
		b.state = stateAccumulating
		b.flushes.Add(1)
		b.timer = b.clock.AfterFunc(b.interval, b.flush)
	}
}

// Pending returns the number of events waiting for the next flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued
}

func (b *Batcher) currentState() batcherState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// flush runs on the timer. It swaps out every pending batch and returns the
// batcher to idle before any network work starts, so events arriving during
// dispatch start the next cycle.
func (b *Batcher) flush() {
	defer b.flushes.Done()
	b.drainAndDispatch()
}

func (b *Batcher) drainAndDispatch() {
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	b.mu.Lock()
	drained := b.takePending()
	b.mu.Unlock()

	b.dispatch(drained)
}

// takePending must be called with mu held.
func (b *Batcher) takePending() map[string][]UpdateEvent {
	drained := b.pending
	b.pending = make(map[string][]UpdateEvent)
	b.queued = 0
	b.timer = nil
	b.state = stateIdle
	return drained
}

// Stop cancels the running timer, delivers whatever is pending and waits
// for in-flight flushes. Events enqueued afterwards are discarded.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil && b.timer.Stop() {
		b.flushes.Done()
	}
	b.mu.Unlock()

	b.drainAndDispatch()
	b.flushes.Wait()
	b.logger.Info("batcher stopped")
}

func (b *Batcher) dispatch(drained map[string][]UpdateEvent) {
	if len(drained) == 0 {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for tenantID, events := range drained {
		tenantID, events := tenantID, events
		g.Go(func() error {
			b.deliver(tenantID, events)
			return nil
		})
	}
	_ = g.Wait()
}

// deliver sends one tenant's batch to each of its connections. A failure on
// one connection is logged and does not affect the others.
func (b *Batcher) deliver(tenantID string, events []UpdateEvent) {
	conns := b.conns.ConnectionsFor(tenantID)
	if len(conns) == 0 {
		b.metrics.EventsDropped.Add(float64(len(events)))
		b.logger.Debug("no listeners for tenant, batch dropped",
			zap.String("tenantId", tenantID),
			zap.Int("events", len(events)),
		)
		return
	}

	payload, err := BuildBatchMessage(events, b.clock.Now())
	if err != nil {
		b.logger.Error("failed to encode batch",
			zap.String("tenantId", tenantID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return
	}

	b.metrics.BatchesFlushed.Inc()
	b.metrics.BatchSize.Observe(float64(len(events)))

	ctx := context.Background()
	for _, c := range conns {
		if err := c.Send(ctx, payload); err != nil {
			b.metrics.DeliveryFailures.Inc()
			b.logger.Debug("batch delivery failed",
				zap.String("tenantId", tenantID),
				zap.String("connId", c.ID()),
				zap.Error(err),
			)
		}
	}

	b.logger.Debug("batch flushed",
		zap.String("tenantId", tenantID),
		zap.Int("events", len(events)),
		zap.Int("connections", len(conns)),
	)
}
