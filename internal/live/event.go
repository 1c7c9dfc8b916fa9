package live

import (
	"fmt"
	"time"
)

// EventKind identifies the domain mutation an UpdateEvent reports.
type EventKind string

const (
	KindStatusChange EventKind = "status_change"
	KindCreated      EventKind = "created"
	KindDeleted      EventKind = "deleted"
	KindRescheduled  EventKind = "rescheduled"
)

// ParseEventKind validates a kind received from outside the process.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case KindStatusChange, KindCreated, KindDeleted, KindRescheduled:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

// UpdateEvent is a single mutation notification. It is treated as immutable
// once handed to the Batcher.
type UpdateEvent struct {
	Kind       EventKind `json:"kind"`
	TenantID   string    `json:"tenantId"`
	EntityID   string    `json:"entityId"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
