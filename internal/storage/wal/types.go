package wal

import "encoding/json"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define core data structures for WAL
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventPhase          EventType = "PHASE"           // Coordinator phase changed
	EventSettings       EventType = "SETTINGS"        // Limits or manager changed
	EventOutboundUnsent EventType = "OUTBOUND_UNSENT" // Batch encoded, not yet delivered
	EventOutboundSent   EventType = "OUTBOUND_SENT"   // Batch delivered, awaiting acknowledgement
	EventOutboundResent EventType = "OUTBOUND_RESENT" // Batch delivered again under a new ticket
	EventOutboundAcked  EventType = "OUTBOUND_ACKED"  // Destination confirmed the batch
	EventOutboundDead   EventType = "OUTBOUND_DEAD"   // Batch exceeded its resend allowance
)

// Event represents a WAL event record
type Event struct {
	Seq       uint64          `json:"seq"`            // Event sequence number (monotonically increasing)
	Type      EventType       `json:"type"`           // Event type
	Key       string          `json:"key"`            // Ticket for outbound events, domain for phase events
	Data      json.RawMessage `json:"data,omitempty"` // Event body
	Timestamp int64           `json:"timestamp"`      // Unix millisecond timestamp
	Checksum  uint32          `json:"checksum"`       // CRC32 checksum
}

// Decode unmarshals the event body into v
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return ErrEmptyData
	}
	return json.Unmarshal(e.Data, v)
}

// EventHandler is the function type for processing WAL events
// Used during Replay to apply events to system state
type EventHandler func(event Event) error
