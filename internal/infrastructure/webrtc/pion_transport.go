package webrtc

import (
	"context"
	"fmt"
	"sync"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const dataChannelLabel = "consult-data"

// TransportConfig carries the platform-level connection settings.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// TrackResolver maps track handles to the platform-level local tracks backing
// them. The capture device implements it.
type TrackResolver interface {
	LocalTrack(id domain.TrackID) (webrtc.TrackLocal, bool)
}

// PionTransport implements ports.PeerTransport on a pion PeerConnection.
type PionTransport struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
	closed      bool

	resolver TrackResolver
	events   chan ports.TransportEvent
	logger   *zap.SugaredLogger
}

// PionTransportFactory builds one transport per remote participant.
type PionTransportFactory struct {
	config   TransportConfig
	resolver TrackResolver
	logger   *zap.SugaredLogger
}

func NewPionTransportFactory(config TransportConfig, resolver TrackResolver, logger *zap.SugaredLogger) *PionTransportFactory {
	return &PionTransportFactory{config: config, resolver: resolver, logger: logger}
}

func (f *PionTransportFactory) NewTransport(remote domain.ParticipantID) (ports.PeerTransport, error) {
	return NewPionTransport(f.config, f.resolver, f.logger.With("remote_participant", remote))
}

func NewPionTransport(config TransportConfig, resolver TrackResolver, logger *zap.SugaredLogger) (*PionTransport, error) {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(settingEngine),
		webrtc.WithMediaEngine(mediaEngine),
	)

	iceServers := config.ICEServers
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &PionTransport{
		pc:       pc,
		resolver: resolver,
		events:   make(chan ports.TransportEvent, linkEventBuffer),
		logger:   logger,
	}
	t.wireCallbacks()
	return t, nil
}

func (t *PionTransport) wireCallbacks() {
	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Infow("peer connection state", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			t.emit(ports.TransportEvent{Kind: ports.TransportEventState, State: ports.TransportConnecting})
		case webrtc.PeerConnectionStateConnected:
			t.emit(ports.TransportEvent{Kind: ports.TransportEventState, State: ports.TransportConnected})
		case webrtc.PeerConnectionStateDisconnected:
			t.emit(ports.TransportEvent{Kind: ports.TransportEventState, State: ports.TransportDisconnected})
		case webrtc.PeerConnectionStateFailed:
			t.emit(ports.TransportEvent{Kind: ports.TransportEventState, State: ports.TransportFailed})
		case webrtc.PeerConnectionStateClosed:
			t.emit(ports.TransportEvent{Kind: ports.TransportEventState, State: ports.TransportClosed})
		}
	})

	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		t.emit(ports.TransportEvent{
			Kind: ports.TransportEventCandidate,
			Candidate: &domain.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			},
		})
	})

	t.pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		kind := domain.TrackKindAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = domain.TrackKindVideo
		}
		t.logger.Infow("remote track received",
			"kind", kind, "track_id", remote.ID(), "stream_id", remote.StreamID())

		t.emit(ports.TransportEvent{
			Kind: ports.TransportEventRemoteTrack,
			Track: &domain.MediaTrackHandle{
				ID:      domain.TrackID(remote.ID()),
				Kind:    kind,
				Enabled: true,
			},
		})

		// Keep the receiver drained; rendering happens outside this core.
		go func() {
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.bindDataChannel(dc)
	})
}

func (t *PionTransport) bindDataChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() {
		t.emit(ports.TransportEvent{Kind: ports.TransportEventChannel, ChannelState: domain.DataChannelOpen})
	})
	dc.OnClose(func() {
		t.emit(ports.TransportEvent{Kind: ports.TransportEventChannel, ChannelState: domain.DataChannelClosed})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.emit(ports.TransportEvent{Kind: ports.TransportEventData, Data: msg.Data})
	})
}

func (t *PionTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	needChannel := t.dc == nil
	t.mu.Unlock()

	// Offering side opens the data channel so it is advertised in the offer.
	if needChannel {
		dc, err := t.pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			return domain.SessionDescription{}, fmt.Errorf("create data channel: %w", err)
		}
		t.bindDataChannel(dc)
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (t *PionTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (t *PionTransport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == domain.SDPTypeAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP})
}

func (t *PionTransport) AddICECandidate(candidate domain.ICECandidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
}

func (t *PionTransport) AttachLocalTracks(audio, video *domain.MediaTrackHandle) error {
	for _, handle := range []*domain.MediaTrackHandle{audio, video} {
		if handle == nil {
			continue
		}
		track, ok := t.resolver.LocalTrack(handle.ID)
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, handle.ID)
		}
		sender, err := t.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", handle.Kind, err)
		}
		go t.drainRTCP(sender)

		t.mu.Lock()
		if handle.Kind == domain.TrackKindAudio {
			t.audioSender = sender
		} else {
			t.videoSender = sender
		}
		t.mu.Unlock()
	}
	return nil
}

// ReplaceVideoTrack swaps the outgoing video track in place; the connection
// keeps running and no offer/answer round is required.
func (t *PionTransport) ReplaceVideoTrack(handle *domain.MediaTrackHandle) error {
	t.mu.Lock()
	sender := t.videoSender
	t.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("no video sender to replace")
	}
	track, ok := t.resolver.LocalTrack(handle.ID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDeviceNotFound, handle.ID)
	}
	if err := sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace track: %w", err)
	}
	return nil
}

func (t *PionTransport) SendData(payload []byte) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return domain.ErrChannelNotOpen
	}
	return dc.Send(payload)
}

func (t *PionTransport) Events() <-chan ports.TransportEvent { return t.events }

func (t *PionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	return t.pc.Close()
}

// drainRTCP keeps the interceptor pipeline fed; sender reports are not acted
// on at this layer.
func (t *PionTransport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
			t.logger.Debugw("rtcp unmarshal", "error", err)
		}
	}
}

func (t *PionTransport) emit(ev ports.TransportEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	select {
	case t.events <- ev:
	default:
		t.logger.Warnw("transport event buffer full, dropping event", "kind", ev.Kind)
	}
}
