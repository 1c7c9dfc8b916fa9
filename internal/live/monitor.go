package live

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/metrics"
)

// Monitor evicts connections that have gone silent for longer than the
// liveness timeout.
type Monitor struct {
	registry *Registry
	clock    clockwork.Clock
	period   time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewMonitor creates a Monitor sweeping every period.
func NewMonitor(registry *Registry, clock clockwork.Clock, period, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		registry: registry,
		clock:    clock,
		period:   period,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// Run sweeps on every tick. Call this in a goroutine.
// Returns when context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.period)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started",
		zap.Duration("period", m.period),
		zap.Duration("timeout", m.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopping")
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep closes and unregisters every connection whose last liveness signal
// is older than the timeout. It returns the number of evicted connections.
func (m *Monitor) Sweep() int {
	now := m.clock.Now()
	evicted := 0

	for _, c := range m.registry.All() {
		silent := now.Sub(c.LastLivenessAt())
		if silent <= m.timeout {
			continue
		}

		if err := closeQuietly(c, CloseIdleTimeout, "idle timeout"); err != nil {
			m.logger.Debug("close during eviction failed",
				zap.String("connId", c.ID()),
				zap.Error(err),
			)
		}
		if m.registry.Unregister(c) {
			evicted++
			m.metrics.Evictions.Inc()
			m.logger.Debug("connection evicted",
				zap.String("tenantId", c.TenantID()),
				zap.String("userId", c.UserID()),
				zap.String("connId", c.ID()),
				zap.Duration("silent", silent),
			)
		}
	}

	if evicted > 0 {
		m.logger.Info("liveness sweep evicted connections", zap.Int("count", evicted))
	}
	return evicted
}

// closeQuietly converts a panicking transport into an error so one broken
// channel cannot stop the sweep.
func closeQuietly(c *Conn, code int, reason string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return c.Close(code, reason)
}
