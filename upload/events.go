package upload

import (
	"fmt"
	"time"
)

// EventKind ...
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventChunkSkipped     EventKind = "chunk_skipped"
	EventChunkUploaded    EventKind = "chunk_uploaded"
	EventPaused           EventKind = "paused"
	EventResumed          EventKind = "resumed"
	EventCompleted        EventKind = "completed"
	EventFailed           EventKind = "failed"
	EventSessionLoaded    EventKind = "session_loaded"
	EventReselectRequired EventKind = "reselect_required"
	EventReselected       EventKind = "reselected"
)

// Event is one human readable entry of the upload log.
type Event struct {
	Kind      EventKind
	SessionID string
	Index     int // zero based chunk index, -1 when the event is not about a chunk
	Total     int
	Progress  int
	Message   string
	Time      time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Time.Format(time.RFC3339), e.Message)
}

// eventLog is append-only. It is only read for display.
type eventLog struct {
	events []Event
	now    func() time.Time
}

func newEventLog() *eventLog {
	return &eventLog{now: time.Now}
}

func (l *eventLog) append(kind EventKind, sessionID string, index, total, progress int, format string, args ...interface{}) Event {
	e := Event{
		Kind:      kind,
		SessionID: sessionID,
		Index:     index,
		Total:     total,
		Progress:  progress,
		Message:   fmt.Sprintf(format, args...),
		Time:      l.now(),
	}
	l.events = append(l.events, e)
	return e
}

func (l *eventLog) reset() {
	l.events = nil
}

func (l *eventLog) snapshot() []Event {
	events := make([]Event, len(l.events))
	copy(events, l.events)
	return events
}
