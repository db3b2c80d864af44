package domain

import "time"

type SessionID string
type ConsultationID string

type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionConnecting SessionStatus = "connecting"
	SessionActive     SessionStatus = "active"
	SessionEnded      SessionStatus = "ended"
)

// Session is one live consultation instance. Owned exclusively by the
// consultation service; Degraded is a sub-state of SessionActive meaning
// every remote link lost connectivity while the session identity persists.
type Session struct {
	ID              SessionID
	ConsultationID  ConsultationID
	Status          SessionStatus
	Degraded        bool
	StartedAt       time.Time
	EndedAt         *time.Time
	RecordingActive bool
}

func (s *Session) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
