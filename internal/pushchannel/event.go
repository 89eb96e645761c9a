package pushchannel

import "clipster/internal/protocol"

// EventKind distinguishes connection events from job events.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventReconnected  EventKind = "reconnected"
	EventDisconnected EventKind = "disconnected"
	EventProgress     EventKind = "progress"
	EventComplete     EventKind = "complete"
	EventError        EventKind = "error"
)

// Event is a single item on the client's event channel.
type Event struct {
	Kind EventKind

	Attempt  int  // EventReconnected: attempts it took
	Terminal bool // EventDisconnected: retry budget exhausted

	JobID    string
	Progress int                     // EventProgress, 0..100
	Result   protocol.DownloadResult // EventComplete
	Message  string                  // EventError
}

// IsJobEvent reports whether the event carries a job identifier.
func (e Event) IsJobEvent() bool {
	switch e.Kind {
	case EventProgress, EventComplete, EventError:
		return true
	}
	return false
}

// WireType returns the push-channel message type a job event was decoded from.
func (e Event) WireType() string {
	switch e.Kind {
	case EventProgress:
		return protocol.TypeDownloadProgress
	case EventComplete:
		return protocol.TypeDownloadComplete
	case EventError:
		return protocol.TypeDownloadError
	}
	return string(e.Kind)
}
