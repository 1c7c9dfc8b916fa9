package live

import (
	"encoding/json"
	"time"
)

// Outbound message types.
const (
	MsgInitialData  = "initial_data"
	MsgDateData     = "date_data"
	MsgBatchUpdates = "batch_updates"
	MsgHeartbeatAck = "heartbeat_ack"
	MsgError        = "error"
)

// Inbound message types.
const (
	MsgHeartbeat      = "heartbeat"
	MsgDateChange     = "date_change"
	MsgRequestRefresh = "request_refresh"
)

// Application close codes.
const (
	CloseBadHandshake = 4001
	CloseIdleTimeout  = 4002
	CloseCapacity     = 4003
)

// SnapshotMessage carries a full day of appointments, sent as initial_data
// or date_data.
type SnapshotMessage struct {
	Type         string    `json:"type"`
	Date         string    `json:"date"`
	Appointments any       `json:"appointments"`
	Timestamp    time.Time `json:"timestamp"`
}

// BatchMessage carries every event flushed for one tenant in one cycle.
type BatchMessage struct {
	Type      string        `json:"type"`
	Updates   []UpdateEvent `json:"updates"`
	Timestamp time.Time     `json:"timestamp"`
}

// AckMessage answers a heartbeat.
type AckMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage reports a request the server could not serve. The connection
// stays open.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// BuildSnapshotMessage encodes an initial_data or date_data message.
func BuildSnapshotMessage(msgType, date string, appointments any, now time.Time) ([]byte, error) {
	return json.Marshal(SnapshotMessage{
		Type:         msgType,
		Date:         date,
		Appointments: appointments,
		Timestamp:    now,
	})
}

// BuildBatchMessage encodes a batch_updates message.
func BuildBatchMessage(updates []UpdateEvent, now time.Time) ([]byte, error) {
	return json.Marshal(BatchMessage{
		Type:      MsgBatchUpdates,
		Updates:   updates,
		Timestamp: now,
	})
}

// BuildAckMessage encodes a heartbeat_ack message.
func BuildAckMessage(now time.Time) []byte {
	data, _ := json.Marshal(AckMessage{Type: MsgHeartbeatAck, Timestamp: now})
	return data
}

// BuildErrorMessage encodes an error message.
func BuildErrorMessage(message string, now time.Time) []byte {
	data, _ := json.Marshal(ErrorMessage{Type: MsgError, Message: message, Timestamp: now})
	return data
}
