// Package broadcast is the entry point mutation sources use to announce
// appointment changes to live clients.
package broadcast

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/dgnsrekt/schedule-live/internal/live"
)

var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrUnknownKind   = errors.New("unknown event kind")
)

// Enqueuer accepts events for batched delivery. Enqueue must not block.
type Enqueuer interface {
	Enqueue(ev live.UpdateEvent)
}

// Invalidator drops cached snapshots for a tenant.
type Invalidator interface {
	Invalidate(tenantID string)
}

// StatusPayload is the payload of a status_change event.
type StatusPayload struct {
	Previous string `json:"previousStatus"`
	Status   string `json:"status"`
}

// ReschedulePayload is the payload of a rescheduled event.
type ReschedulePayload struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Broadcaster stamps and enqueues update events. Emitting for a tenant with
// no live connections is not an error; the batcher drops those at flush.
type Broadcaster struct {
	enq         Enqueuer
	invalidator Invalidator
	clock       clockwork.Clock
	logger      *zap.Logger
}

// New creates a Broadcaster. invalidator may be nil.
func New(enq Enqueuer, invalidator Invalidator, clock clockwork.Clock, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		enq:         enq,
		invalidator: invalidator,
		clock:       clock,
		logger:      logger,
	}
}

// StatusChanged announces an appointment status transition.
func (b *Broadcaster) StatusChanged(tenantID, appointmentID, previous, current string) error {
	return b.emit(live.KindStatusChange, tenantID, appointmentID, StatusPayload{Previous: previous, Status: current})
}

// Created announces a new appointment. appointment is sent to clients as is.
func (b *Broadcaster) Created(tenantID, appointmentID string, appointment any) error {
	return b.emit(live.KindCreated, tenantID, appointmentID, appointment)
}

// Deleted announces a removed appointment.
func (b *Broadcaster) Deleted(tenantID, appointmentID string) error {
	return b.emit(live.KindDeleted, tenantID, appointmentID, nil)
}

// Rescheduled announces a moved appointment.
func (b *Broadcaster) Rescheduled(tenantID, appointmentID string, from, to time.Time) error {
	return b.emit(live.KindRescheduled, tenantID, appointmentID, ReschedulePayload{From: from, To: to})
}

// Emit is the untyped form used by the HTTP ingest route.
func (b *Broadcaster) Emit(kind, tenantID, entityID string, payload any) error {
	k, err := live.ParseEventKind(kind)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b.emit(k, tenantID, entityID, payload)
}

func (b *Broadcaster) emit(kind live.EventKind, tenantID, entityID string, payload any) error {
	if tenantID == "" {
		return ErrMissingTenant
	}

	b.enq.Enqueue(live.UpdateEvent{
		Kind:       kind,
		TenantID:   tenantID,
		EntityID:   entityID,
		Payload:    payload,
		OccurredAt: b.clock.Now(),
	})
	if b.invalidator != nil {
		b.invalidator.Invalidate(tenantID)
	}

	b.logger.Debug("update emitted",
		zap.String("kind", string(kind)),
		zap.String("tenantId", tenantID),
		zap.String("entityId", entityID),
	)
	return nil
}
