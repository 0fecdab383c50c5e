package supervisor

import (
	"time"

	"github.com/duet-run/duet/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted by the
// session.
type EventType string

const (
	EventTypeStarting   EventType = "starting"
	EventTypeRunning    EventType = "running"
	EventTypeReady      EventType = "ready"
	EventTypeExited     EventType = "exited"
	EventTypeStopping   EventType = "stopping"
	EventTypeTerminated EventType = "terminated"
	EventTypeLog        EventType = "log"
	EventTypeError      EventType = "error"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Process   string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
}

func (s *Session) emit(process string, t EventType, message string, err error) {
	level := "info"
	if err != nil {
		level = "error"
	}
	s.events <- Event{
		Timestamp: time.Now(),
		Process:   process,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Err:       err,
	}
}
