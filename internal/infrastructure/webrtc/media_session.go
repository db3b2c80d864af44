package webrtc

import (
	"context"
	"fmt"
	"sync"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"go.uber.org/zap"
)

// MediaSession owns the local capture tracks. Exactly one audio/video pair
// exists per session; the handles are shared by reference across every
// registered peer link, so enablement toggles and track substitutions apply
// to all links at once. Screen share is a substitution of the outgoing video
// track, never an addition.
type MediaSession struct {
	device ports.CaptureDevice

	mu       sync.Mutex
	audio    *domain.MediaTrackHandle
	video    *domain.MediaTrackHandle
	camera   *domain.MediaTrackHandle // parked while a display track is live
	links    map[domain.ParticipantID]ports.PeerLink
	released bool

	shareStop chan struct{}

	logger *zap.SugaredLogger
}

func NewMediaSession(device ports.CaptureDevice, logger *zap.SugaredLogger) *MediaSession {
	return &MediaSession{
		device: device,
		links:  make(map[domain.ParticipantID]ports.PeerLink),
		logger: logger,
	}
}

// AcquireLocalMedia requests camera and microphone. The acquired pair is a
// singleton; repeated calls return the existing handles. Acquisition errors
// (permission denied, device not found, device busy, constraints
// unsatisfiable) are recoverable and never tear down the session.
func (m *MediaSession) AcquireLocalMedia(ctx context.Context, constraints domain.MediaConstraints) (*domain.MediaTrackHandle, *domain.MediaTrackHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.audio != nil && m.video != nil {
		return m.audio, m.video, nil
	}

	audio, video, err := m.device.AcquireMedia(ctx, constraints)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire local media: %w", err)
	}

	m.audio = audio
	m.video = video
	m.released = false
	m.logger.Infow("local media acquired",
		"audio_device", audio.DeviceID, "video_device", video.DeviceID)
	return audio, video, nil
}

func (m *MediaSession) Tracks() (*domain.MediaTrackHandle, *domain.MediaTrackHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audio, m.video
}

// SetAudioEnabled toggles the shared audio track flag. No renegotiation
// happens on any link; enablement is track-level state.
func (m *MediaSession) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio != nil {
		m.audio.Enabled = enabled
	}
}

func (m *MediaSession) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video != nil {
		m.video.Enabled = enabled
	}
}

// SwitchCaptureDevice acquires a track from the named device, swaps it into
// every active link, then releases the old track. If acquisition fails the
// old track stays live everywhere and no state changes.
func (m *MediaSession) SwitchCaptureDevice(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.video == nil {
		return domain.ErrSessionNotJoined
	}

	next, err := m.device.AcquireVideo(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("switch capture device %s: %w", deviceID, err)
	}
	next.Enabled = m.video.Enabled

	old := m.video
	m.swapVideoLocked(ctx, next)
	m.video = next

	if err := m.device.Release(old); err != nil {
		m.logger.Warnw("release of replaced track failed", "track_id", old.ID, "error", err)
	}
	return nil
}

// StartScreenShare substitutes a display-capture track for the camera on
// every link. Idempotent while a share is active.
func (m *MediaSession) StartScreenShare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.video == nil {
		return domain.ErrSessionNotJoined
	}
	if m.camera != nil {
		return nil
	}

	display, err := m.device.AcquireDisplay(ctx)
	if err != nil {
		return fmt.Errorf("start screen share: %w", err)
	}
	display.Enabled = true

	m.camera = m.video
	m.swapVideoLocked(ctx, display)
	m.video = display

	// The platform may end the share on its own (user stops from the OS
	// chrome); that takes the same stop path as the API.
	stop := make(chan struct{})
	m.shareStop = stop
	go m.watchDisplayEnd(stop)

	m.logger.Infow("screen share started", "track_id", display.ID)
	return nil
}

// StopScreenShare restores the original camera track on every link and
// releases the display track. Idempotent.
func (m *MediaSession) StopScreenShare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopScreenShareLocked(ctx)
}

func (m *MediaSession) stopScreenShareLocked(ctx context.Context) error {
	if m.camera == nil {
		return nil
	}

	display := m.video
	m.swapVideoLocked(ctx, m.camera)
	m.video = m.camera
	m.camera = nil

	if m.shareStop != nil {
		close(m.shareStop)
		m.shareStop = nil
	}

	if err := m.device.Release(display); err != nil {
		m.logger.Warnw("release of display track failed", "track_id", display.ID, "error", err)
	}
	m.logger.Infow("screen share stopped", "restored_track_id", m.video.ID)
	return nil
}

func (m *MediaSession) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.camera != nil
}

func (m *MediaSession) RegisterLink(link ports.PeerLink) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links[link.RemoteParticipant()] = link
	if m.audio != nil && m.video != nil {
		if err := link.AttachLocalTracks(m.audio, m.video); err != nil {
			m.logger.Warnw("attach local tracks failed",
				"remote_participant", link.RemoteParticipant(), "error", err)
		}
	}
}

func (m *MediaSession) UnregisterLink(remote domain.ParticipantID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, remote)
}

// ReleaseAll stops every local track. Idempotent.
func (m *MediaSession) ReleaseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil
	}

	if m.camera != nil {
		// Screen share still live; drop the display track first.
		if err := m.stopScreenShareLocked(context.Background()); err != nil {
			m.logger.Warnw("stopping screen share during release", "error", err)
		}
	}

	for _, track := range []*domain.MediaTrackHandle{m.audio, m.video} {
		if track == nil {
			continue
		}
		if err := m.device.Release(track); err != nil {
			m.logger.Warnw("track release failed", "track_id", track.ID, "error", err)
		}
	}

	m.audio = nil
	m.video = nil
	m.released = true
	return nil
}

// Chunks exposes the composed local stream for the recording pipeline. The
// pipeline reads but never mutates shared local media.
func (m *MediaSession) Chunks() <-chan domain.MediaChunk {
	return m.device.Chunks()
}

// swapVideoLocked applies a video track substitution to every registered
// link. A link that cannot complete the swap fails on its own; the others
// still receive the new track so no link keeps sending the stale one.
func (m *MediaSession) swapVideoLocked(ctx context.Context, track *domain.MediaTrackHandle) {
	for remote, link := range m.links {
		if err := link.ReplaceVideoTrack(ctx, track); err != nil {
			m.logger.Errorw("video track swap failed on link",
				"remote_participant", remote, "error", err)
		}
	}
}

func (m *MediaSession) watchDisplayEnd(stop <-chan struct{}) {
	select {
	case <-m.device.DisplayEnded():
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.camera == nil {
			return
		}
		m.logger.Infow("platform ended screen share")
		if err := m.stopScreenShareLocked(context.Background()); err != nil {
			m.logger.Warnw("platform-side screen share stop", "error", err)
		}
	case <-stop:
	}
}
