package pipeline

import (
	"context"
	"time"
)

const (
	EventStarted   = "audio.started"
	EventCompleted = "audio.completed"
	EventFailed    = "audio.failed"
)

// Event is a session lifecycle notification.
type Event struct {
	SessionID string
	Type      string
	Jobs      int
	Lines     int
	Channels  int
	Filename  string
	Error     string
	ErrorKind string
	Duration  time.Duration
	At        time.Time
}

// Recorder observes session lifecycle. Implementations must not block the
// pipeline for long; errors are theirs to log.
type Recorder interface {
	Record(ctx context.Context, evt Event)
}

// Recorders fans one event out to several recorders in order.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, evt Event) {
	for _, r := range rs {
		if r != nil {
			r.Record(ctx, evt)
		}
	}
}
