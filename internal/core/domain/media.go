package domain

import "time"

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

type TrackID string

type TrackSource string

const (
	TrackSourceCamera     TrackSource = "camera"
	TrackSourceMicrophone TrackSource = "microphone"
	TrackSourceDisplay    TrackSource = "display"
)

// MediaTrackHandle references a capture-device track. The local audio/video
// pair is a singleton per media session and is shared by reference across
// every peer link; enablement is a track-level flag, not a structural change.
type MediaTrackHandle struct {
	ID       TrackID
	Kind     TrackKind
	Source   TrackSource
	DeviceID string
	Enabled  bool
}

type MediaConstraints struct {
	AudioDeviceID string
	VideoDeviceID string
	Width         int
	Height        int
	FrameRate     int
}

// MediaChunk is one timestamped slice of the composed local stream, as
// consumed by the recording pipeline.
type MediaChunk struct {
	Data      []byte
	Timestamp time.Time
}
