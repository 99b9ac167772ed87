package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind namespaces in use:
//
//	transport.*    connection lifecycle (connected, disconnected, state_changed)
//	frame.*        decoded inbound wire frames; payload is the typed frame
//	message.*      message model changes (upserted, updated, deleted)
//	conversation.* conversation model changes (updated, typing, presence)
//	call.*         call lifecycle (state_changed, incoming, track, error)
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
