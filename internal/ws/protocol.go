package ws

import (
	"encoding/json"
	"fmt"

	"github.com/dgnsrekt/schedule-live/internal/live"
)

// Inbound message types for internal routing
type (
	heartbeatRequest  struct{}
	dateChangeRequest struct {
		date string
	}
	refreshRequest struct{}
)

type inboundMessage struct {
	Type string `json:"type"`
	Date string `json:"date,omitempty"`
}

// parseInbound parses a client message. Unknown types are an error; the
// caller logs and ignores them.
func parseInbound(data []byte) (any, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal inbound message: %w", err)
	}

	switch msg.Type {
	case live.MsgHeartbeat:
		return &heartbeatRequest{}, nil
	case live.MsgDateChange:
		return &dateChangeRequest{date: msg.Date}, nil
	case live.MsgRequestRefresh:
		return &refreshRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}
