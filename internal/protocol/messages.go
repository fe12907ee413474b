package protocol

import "time"

// AudioSessionEvent is broadcast on the bus at each stage of an audio
// generation session.
type AudioSessionEvent struct {
	SessionID  string    `json:"session_id"`
	Type       string    `json:"type"`
	Jobs       int       `json:"jobs"`
	Lines      int       `json:"lines"`
	Channels   int       `json:"channels"`
	Filename   string    `json:"filename,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	StreamAudioSessions = "PODCAST_AUDIO"

	SubjectAudioPrefix    = "podcast.audio"
	SubjectAudioWildcard  = SubjectAudioPrefix + ".>"
	SubjectAudioStarted   = SubjectAudioPrefix + ".started"
	SubjectAudioCompleted = SubjectAudioPrefix + ".completed"
	SubjectAudioFailed    = SubjectAudioPrefix + ".failed"
)

// SubjectForEvent maps an event type ("audio.completed") to its subject.
func SubjectForEvent(eventType string) string {
	switch eventType {
	case "audio.started":
		return SubjectAudioStarted
	case "audio.completed":
		return SubjectAudioCompleted
	case "audio.failed":
		return SubjectAudioFailed
	default:
		return SubjectAudioPrefix + ".other"
	}
}
