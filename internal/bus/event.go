package bus

import "time"

// Event kinds published by the daemon and the messaging core.
const (
	KindMessageInsert  = "rows.messages.insert"
	KindFeedStatus     = "feed.status_changed"
	KindWindowUpdated  = "window.updated"
	KindWindowClosed   = "window.closed"
	KindThreadsChanged = "threads.changed"
	KindSendFailed     = "send.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
	// Origin names the remote instance an event was relayed from. Empty for local events.
	Origin string
}
