package ports

import (
	"context"

	"vitalink/internal/core/domain"
)

// PeerLink owns the negotiation state machine for exactly one remote
// participant. All mutating operations are serialized internally; duplicate
// remote descriptions and candidates are tolerated per at-least-once delivery.
type PeerLink interface {
	RemoteParticipant() domain.ParticipantID
	State() domain.LinkState
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error
	AddRemoteICECandidate(candidate domain.ICECandidate) error
	SendData(payload []byte) error
	AttachLocalTracks(audio, video *domain.MediaTrackHandle) error
	ReplaceVideoTrack(ctx context.Context, track *domain.MediaTrackHandle) error
	Events() <-chan domain.LinkEvent
	Close() error
}

type LinkFactory interface {
	NewLink(remote domain.ParticipantID) (PeerLink, error)
}

// MediaSession owns the shared local capture tracks. Track mutations apply
// atomically across every registered link.
type MediaSession interface {
	AcquireLocalMedia(ctx context.Context, constraints domain.MediaConstraints) (audio, video *domain.MediaTrackHandle, err error)
	Tracks() (audio, video *domain.MediaTrackHandle)
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	SwitchCaptureDevice(ctx context.Context, deviceID string) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	ScreenSharing() bool
	RegisterLink(link PeerLink)
	UnregisterLink(remote domain.ParticipantID)
	Chunks() <-chan domain.MediaChunk
	ReleaseAll() error
}

// RecordingPipeline buffers timestamped chunks of the composed local stream
// and assembles a single artifact at stop time. Reattach swaps the chunk
// source without losing buffered data.
type RecordingPipeline interface {
	Start(ctx context.Context, source <-chan domain.MediaChunk) error
	Reattach(source <-chan domain.MediaChunk)
	Stop() (*domain.RecordingArtifact, error)
	Active() bool
}
