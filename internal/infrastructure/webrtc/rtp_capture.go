package webrtc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/pkg/utils"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	captureReadBuffer = 1600
	chunkBuffer       = 256
)

// RTPCaptureConfig names the capture endpoints. Encoders (camera, microphone,
// screen scraper) deliver RTP to local UDP ports; each configured device id
// maps to one of them.
type RTPCaptureConfig struct {
	AudioDeviceID string
	VideoDeviceID string
	AudioAddr     string
	VideoAddr     string
	DisplayAddr   string
}

type boundTrack struct {
	handle *domain.MediaTrackHandle
	track  *webrtc.TrackLocalStaticRTP
	cancel context.CancelFunc
}

// RTPCapture implements ports.CaptureDevice over local RTP ingest. It also
// resolves track handles to pion local tracks for the transports and feeds
// the composed chunk stream the recording pipeline consumes.
type RTPCapture struct {
	config RTPCaptureConfig

	mu     sync.Mutex
	tracks map[domain.TrackID]*boundTrack

	chunks       chan domain.MediaChunk
	displayEnded chan struct{}

	logger *zap.SugaredLogger
}

func NewRTPCapture(config RTPCaptureConfig, logger *zap.SugaredLogger) *RTPCapture {
	return &RTPCapture{
		config:       config,
		tracks:       make(map[domain.TrackID]*boundTrack),
		chunks:       make(chan domain.MediaChunk, chunkBuffer),
		displayEnded: make(chan struct{}, 1),
		logger:       logger,
	}
}

func (c *RTPCapture) AcquireMedia(ctx context.Context, constraints domain.MediaConstraints) (*domain.MediaTrackHandle, *domain.MediaTrackHandle, error) {
	audioAddr := c.config.AudioAddr
	videoAddr := c.config.VideoAddr
	if constraints.AudioDeviceID != "" && constraints.AudioDeviceID != c.config.AudioDeviceID {
		return nil, nil, fmt.Errorf("%w: audio device %s", domain.ErrDeviceNotFound, constraints.AudioDeviceID)
	}
	if constraints.VideoDeviceID != "" && constraints.VideoDeviceID != c.config.VideoDeviceID {
		return nil, nil, fmt.Errorf("%w: video device %s", domain.ErrDeviceNotFound, constraints.VideoDeviceID)
	}

	audio, err := c.bind(ctx, domain.TrackKindAudio, domain.TrackSourceMicrophone, c.config.AudioDeviceID, audioAddr, webrtc.MimeTypeOpus)
	if err != nil {
		return nil, nil, err
	}
	video, err := c.bind(ctx, domain.TrackKindVideo, domain.TrackSourceCamera, c.config.VideoDeviceID, videoAddr, webrtc.MimeTypeVP8)
	if err != nil {
		c.Release(audio)
		return nil, nil, err
	}
	return audio, video, nil
}

func (c *RTPCapture) AcquireVideo(ctx context.Context, deviceID string) (*domain.MediaTrackHandle, error) {
	if deviceID != c.config.VideoDeviceID {
		return nil, fmt.Errorf("%w: video device %s", domain.ErrDeviceNotFound, deviceID)
	}
	return c.bind(ctx, domain.TrackKindVideo, domain.TrackSourceCamera, deviceID, c.config.VideoAddr, webrtc.MimeTypeVP8)
}

func (c *RTPCapture) AcquireDisplay(ctx context.Context) (*domain.MediaTrackHandle, error) {
	if c.config.DisplayAddr == "" {
		return nil, fmt.Errorf("%w: no display capture configured", domain.ErrDeviceNotFound)
	}
	return c.bind(ctx, domain.TrackKindVideo, domain.TrackSourceDisplay, "display", c.config.DisplayAddr, webrtc.MimeTypeVP8)
}

func (c *RTPCapture) Release(handle *domain.MediaTrackHandle) error {
	if handle == nil {
		return nil
	}
	c.mu.Lock()
	bound, ok := c.tracks[handle.ID]
	if ok {
		delete(c.tracks, handle.ID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	bound.cancel()
	c.logger.Infow("capture track released", "track_id", handle.ID, "source", handle.Source)
	return nil
}

func (c *RTPCapture) Chunks() <-chan domain.MediaChunk { return c.chunks }

func (c *RTPCapture) DisplayEnded() <-chan struct{} { return c.displayEnded }

// LocalTrack implements TrackResolver for the pion transports.
func (c *RTPCapture) LocalTrack(id domain.TrackID) (webrtc.TrackLocal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bound, ok := c.tracks[id]
	if !ok {
		return nil, false
	}
	return bound.track, true
}

func (c *RTPCapture) bind(ctx context.Context, kind domain.TrackKind, source domain.TrackSource, deviceID, addr, mimeType string) (*domain.MediaTrackHandle, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: no %s capture configured", domain.ErrDeviceNotFound, kind)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConstraintsUnsatisfiable, addr)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDeviceBusy, addr, err)
	}

	handle := &domain.MediaTrackHandle{
		ID:       domain.TrackID(utils.GenerateTrackID()),
		Kind:     kind,
		Source:   source,
		DeviceID: deviceID,
		Enabled:  true,
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: mimeType},
		string(kind),
		fmt.Sprintf("vitalink-%s", source),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	bound := &boundTrack{handle: handle, track: track, cancel: cancel}

	c.mu.Lock()
	c.tracks[handle.ID] = bound
	c.mu.Unlock()

	go c.pump(pumpCtx, conn, bound)

	c.logger.Infow("capture track bound",
		"track_id", handle.ID, "kind", kind, "source", source, "addr", addr)
	return handle, nil
}

// pump forwards RTP packets from the local encoder into the shared track.
// Disabled handles drop packets instead of pausing the reader so the socket
// never backs up.
func (c *RTPCapture) pump(ctx context.Context, conn *net.UDPConn, bound *boundTrack) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, captureReadBuffer)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() == nil && bound.handle.Source == domain.TrackSourceDisplay {
				// Platform ended the share underneath us.
				select {
				case c.displayEnded <- struct{}{}:
				default:
				}
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			c.logger.Debugw("dropping malformed rtp packet", "track_id", bound.handle.ID, "error", err)
			continue
		}

		if !bound.handle.Enabled {
			continue
		}

		if err := bound.track.WriteRTP(&pkt); err != nil {
			c.logger.Debugw("track write", "track_id", bound.handle.ID, "error", err)
		}

		if bound.handle.Kind == domain.TrackKindVideo {
			data := make([]byte, len(pkt.Payload))
			copy(data, pkt.Payload)
			select {
			case c.chunks <- domain.MediaChunk{Data: data, Timestamp: time.Now()}:
			default:
			}
		}
	}
}
