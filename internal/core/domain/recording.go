package domain

import "time"

// RecordingArtifact is the finalized recording blob, assembled only at stop
// time. The core hands it to the caller and never persists it.
type RecordingArtifact struct {
	Data      []byte
	MimeType  string
	StartedAt time.Time
	StoppedAt time.Time
}

func (a *RecordingArtifact) Duration() time.Duration {
	return a.StoppedAt.Sub(a.StartedAt)
}
