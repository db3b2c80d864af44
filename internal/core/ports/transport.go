package ports

import (
	"context"

	"vitalink/internal/core/domain"
)

type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

type TransportEventKind string

const (
	TransportEventState       TransportEventKind = "state"
	TransportEventRemoteTrack TransportEventKind = "remote_track"
	TransportEventData        TransportEventKind = "data"
	TransportEventCandidate   TransportEventKind = "candidate"
	TransportEventChannel     TransportEventKind = "channel"
)

type TransportEvent struct {
	Kind         TransportEventKind
	State        TransportState
	Track        *domain.MediaTrackHandle
	Data         []byte
	Candidate    *domain.ICECandidate
	ChannelState domain.DataChannelState
}

// PeerTransport is the platform media transport underneath a peer link. It
// owns connectivity retries after transport-level loss; the link state machine
// above it only observes. ReplaceVideoTrack may return
// domain.ErrReplaceUnsupported, in which case the link performs a full
// offer/answer round instead.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddICECandidate(candidate domain.ICECandidate) error
	AttachLocalTracks(audio, video *domain.MediaTrackHandle) error
	ReplaceVideoTrack(track *domain.MediaTrackHandle) error
	SendData(payload []byte) error
	Events() <-chan TransportEvent
	Close() error
}

type TransportFactory interface {
	NewTransport(remote domain.ParticipantID) (PeerTransport, error)
}

// CaptureDevice abstracts the platform capture layer: camera+microphone
// acquisition, display capture for screen share, and the composed local chunk
// stream the recording pipeline reads. DisplayEnded fires when the platform
// ends a screen share outside this API.
type CaptureDevice interface {
	AcquireMedia(ctx context.Context, constraints domain.MediaConstraints) (audio, video *domain.MediaTrackHandle, err error)
	AcquireVideo(ctx context.Context, deviceID string) (*domain.MediaTrackHandle, error)
	AcquireDisplay(ctx context.Context) (*domain.MediaTrackHandle, error)
	Release(track *domain.MediaTrackHandle) error
	Chunks() <-chan domain.MediaChunk
	DisplayEnded() <-chan struct{}
}
