package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"go.uber.org/zap"
)

const linkEventBuffer = 64

// PeerLink owns the negotiation state machine for one remote participant.
// Mutating operations are serialized on opMu; signaling messages arriving
// back-to-back queue on it rather than being rejected. The underlying
// transport drives connectivity retries, the link only observes them.
type PeerLink struct {
	remote    domain.ParticipantID
	transport ports.PeerTransport

	opMu sync.Mutex // serializes negotiation operations
	mu   sync.Mutex // guards fields below

	state             domain.LinkState
	closed            bool
	offerInFlight     bool
	renegotiating     bool
	appliedRemote     *domain.SessionDescription
	pendingCandidates []domain.ICECandidate
	seenCandidates    map[string]struct{}
	channelState      domain.DataChannelState
	reconnectAttempts int

	evMu         sync.Mutex
	eventsClosed bool
	events       chan domain.LinkEvent

	logger *zap.SugaredLogger
}

func NewPeerLink(remote domain.ParticipantID, transport ports.PeerTransport, logger *zap.SugaredLogger) *PeerLink {
	l := &PeerLink{
		remote:         remote,
		transport:      transport,
		state:          domain.LinkStateNew,
		seenCandidates: make(map[string]struct{}),
		channelState:   domain.DataChannelConnecting,
		events:         make(chan domain.LinkEvent, linkEventBuffer),
		logger:         logger,
	}
	go l.pumpTransportEvents()
	return l
}

func (l *PeerLink) RemoteParticipant() domain.ParticipantID { return l.remote }

func (l *PeerLink) State() domain.LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *PeerLink) DataChannelState() domain.DataChannelState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.channelState
}

func (l *PeerLink) ReconnectAttempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnectAttempts
}

func (l *PeerLink) Events() <-chan domain.LinkEvent { return l.events }

// CreateOffer generates a description advertising the current local tracks
// and data channel. Only valid from the new state; a second offer without an
// intervening answer is a protocol violation.
func (l *PeerLink) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.SessionDescription{}, domain.ErrLinkClosed
	}
	if l.offerInFlight {
		l.mu.Unlock()
		return domain.SessionDescription{}, domain.ErrOfferInFlight
	}
	if l.state != domain.LinkStateNew {
		l.mu.Unlock()
		return domain.SessionDescription{}, fmt.Errorf("%w: create offer in state %s", domain.ErrInvalidTransition, l.state)
	}
	l.offerInFlight = true
	l.setStateLocked(domain.LinkStateNegotiating)
	l.mu.Unlock()

	desc, err := l.transport.CreateOffer(ctx)
	if err != nil {
		if l.aborted() {
			return domain.SessionDescription{}, domain.ErrLinkClosed
		}
		l.fail(fmt.Errorf("create offer: %w", err))
		return domain.SessionDescription{}, err
	}
	return desc, nil
}

// CreateAnswer is only valid after a remote offer has been applied.
func (l *PeerLink) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.SessionDescription{}, domain.ErrLinkClosed
	}
	if l.appliedRemote == nil || l.appliedRemote.Type != domain.SDPTypeOffer {
		l.mu.Unlock()
		return domain.SessionDescription{}, domain.ErrNoRemoteDescription
	}
	l.mu.Unlock()

	desc, err := l.transport.CreateAnswer(ctx)
	if err != nil {
		if l.aborted() {
			return domain.SessionDescription{}, domain.ErrLinkClosed
		}
		l.fail(fmt.Errorf("create answer: %w", err))
		return domain.SessionDescription{}, err
	}
	return desc, nil
}

// SetRemoteDescription applies the counterpart's offer or answer. Applying
// the identical description twice is a no-op, tolerating at-least-once
// signaling delivery. Candidates buffered before the description arrive are
// flushed afterwards in original arrival order.
func (l *PeerLink) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if l.state == domain.LinkStateFailed {
		l.mu.Unlock()
		return domain.ErrLinkFailed
	}
	if l.appliedRemote != nil && l.appliedRemote.Equal(desc) {
		l.mu.Unlock()
		return nil
	}
	if desc.SDP == "" || (desc.Type != domain.SDPTypeOffer && desc.Type != domain.SDPTypeAnswer) {
		l.mu.Unlock()
		err := fmt.Errorf("%w: type=%q", domain.ErrMalformedDescription, desc.Type)
		l.fail(err)
		return err
	}
	switch {
	case desc.Type == domain.SDPTypeOffer && l.state == domain.LinkStateNew:
		// Answering side of initial negotiation.
		l.setStateLocked(domain.LinkStateNegotiating)
	case desc.Type == domain.SDPTypeOffer && l.state == domain.LinkStateConnected:
		// Remote-initiated renegotiation; externally visible state stays connected.
		l.renegotiating = true
	}
	l.mu.Unlock()

	if err := l.transport.SetRemoteDescription(ctx, desc); err != nil {
		if l.aborted() {
			return domain.ErrLinkClosed
		}
		l.fail(fmt.Errorf("set remote description: %w", err))
		return err
	}

	l.mu.Lock()
	applied := desc
	l.appliedRemote = &applied
	if desc.Type == domain.SDPTypeAnswer {
		l.offerInFlight = false
	}
	flush := l.pendingCandidates
	l.pendingCandidates = nil
	l.mu.Unlock()

	for _, candidate := range flush {
		if err := l.transport.AddICECandidate(candidate); err != nil {
			l.logger.Warnw("failed to apply buffered ICE candidate",
				"remote_participant", l.remote, "error", err)
		}
	}
	return nil
}

// AddRemoteICECandidate buffers candidates that arrive before the remote
// description and deduplicates by value.
func (l *PeerLink) AddRemoteICECandidate(candidate domain.ICECandidate) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	key := candidate.Key()
	if _, dup := l.seenCandidates[key]; dup {
		l.mu.Unlock()
		return nil
	}
	l.seenCandidates[key] = struct{}{}
	if l.appliedRemote == nil {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.transport.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// SendData sends a structured message over the link's data channel. The
// caller decides whether to queue or drop on ErrChannelNotOpen.
func (l *PeerLink) SendData(payload []byte) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if l.channelState != domain.DataChannelOpen {
		l.mu.Unlock()
		return domain.ErrChannelNotOpen
	}
	l.mu.Unlock()
	return l.transport.SendData(payload)
}

func (l *PeerLink) AttachLocalTracks(audio, video *domain.MediaTrackHandle) error {
	return l.transport.AttachLocalTracks(audio, video)
}

// ReplaceVideoTrack substitutes the outgoing video track. If the transport
// supports in-place replacement the connection state is untouched; otherwise
// a full offer/answer round runs while the externally visible state stays
// connected, failing only this link on error.
func (l *PeerLink) ReplaceVideoTrack(ctx context.Context, track *domain.MediaTrackHandle) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if l.state == domain.LinkStateFailed {
		l.mu.Unlock()
		return domain.ErrLinkFailed
	}
	l.mu.Unlock()

	err := l.transport.ReplaceVideoTrack(track)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrReplaceUnsupported) {
		l.fail(fmt.Errorf("replace video track: %w", err))
		return err
	}

	// Transport has staged the track; a renegotiation round makes it live.
	l.mu.Lock()
	l.renegotiating = true
	l.offerInFlight = true
	l.mu.Unlock()

	desc, err := l.transport.CreateOffer(ctx)
	if err != nil {
		if l.aborted() {
			return domain.ErrLinkClosed
		}
		l.fail(fmt.Errorf("renegotiation offer: %w", err))
		return err
	}

	l.emit(domain.LinkEvent{
		Kind:              domain.LinkEventRenegotiate,
		RemoteParticipant: l.remote,
		Description:       &desc,
	})
	return nil
}

// Close tears the link down on explicit request. Idempotent; a link closed
// mid-negotiation reports closed, never failed.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.setStateLocked(domain.LinkStateClosed)
	l.mu.Unlock()

	if err := l.transport.Close(); err != nil {
		l.logger.Warnw("transport close", "remote_participant", l.remote, "error", err)
	}
	return nil
}

// pumpTransportEvents drains the transport until it closes its channel on
// Close, then closes l.events so consumers ranging over Events() terminate.
func (l *PeerLink) pumpTransportEvents() {
	for ev := range l.transport.Events() {
		l.handleTransportEvent(ev)
	}
	l.evMu.Lock()
	l.eventsClosed = true
	close(l.events)
	l.evMu.Unlock()
}

func (l *PeerLink) handleTransportEvent(ev ports.TransportEvent) {
	switch ev.Kind {
	case ports.TransportEventState:
		l.handleTransportState(ev.State)

	case ports.TransportEventRemoteTrack:
		l.emit(domain.LinkEvent{
			Kind:              domain.LinkEventRemoteTrack,
			RemoteParticipant: l.remote,
			Track:             ev.Track,
		})

	case ports.TransportEventData:
		l.emit(domain.LinkEvent{
			Kind:              domain.LinkEventData,
			RemoteParticipant: l.remote,
			Data:              ev.Data,
		})

	case ports.TransportEventCandidate:
		l.emit(domain.LinkEvent{
			Kind:              domain.LinkEventCandidate,
			RemoteParticipant: l.remote,
			Candidate:         ev.Candidate,
		})

	case ports.TransportEventChannel:
		l.mu.Lock()
		l.channelState = ev.ChannelState
		l.mu.Unlock()
	}
}

func (l *PeerLink) handleTransportState(state ports.TransportState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.state == domain.LinkStateFailed {
		return
	}

	switch state {
	case ports.TransportConnected:
		l.renegotiating = false
		switch l.state {
		case domain.LinkStateNegotiating:
			l.reconnectAttempts = 0
			l.setStateLocked(domain.LinkStateConnected)
		case domain.LinkStateReconnecting:
			l.reconnectAttempts = 0
			l.setStateLocked(domain.LinkStateConnected)
		}

	case ports.TransportDisconnected:
		if l.state == domain.LinkStateConnected {
			l.setStateLocked(domain.LinkStateDisconnected)
		}

	case ports.TransportConnecting:
		// Transport retrying after loss; surface the attempt count.
		if l.state == domain.LinkStateDisconnected {
			l.reconnectAttempts++
			l.setStateLocked(domain.LinkStateReconnecting)
		} else if l.state == domain.LinkStateReconnecting {
			l.reconnectAttempts++
		}

	case ports.TransportFailed:
		l.failLocked(errors.New("transport reported failure"))

	case ports.TransportClosed:
		// Transport went away without an explicit Close; user-visible
		// outcome is closed, not failed.
		l.closed = true
		l.setStateLocked(domain.LinkStateClosed)
	}
}

func (l *PeerLink) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failLocked(err)
}

func (l *PeerLink) failLocked(err error) {
	if l.closed || l.state == domain.LinkStateFailed {
		return
	}
	l.logger.Errorw("peer link failed", "remote_participant", l.remote, "error", err)
	l.setStateLocked(domain.LinkStateFailed)
	go l.transport.Close()
}

func (l *PeerLink) aborted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// setStateLocked transitions the link state; callers hold l.mu and only
// request transitions the state machine allows.
func (l *PeerLink) setStateLocked(to domain.LinkState) {
	if !domain.ValidLinkTransition(l.state, to) {
		l.logger.Warnw("ignoring invalid link transition",
			"remote_participant", l.remote, "from", l.state, "to", to)
		return
	}
	l.state = to
	l.emit(domain.LinkEvent{
		Kind:              domain.LinkEventState,
		RemoteParticipant: l.remote,
		State:             to,
		ReconnectAttempt:  l.reconnectAttempts,
	})
}

func (l *PeerLink) emit(ev domain.LinkEvent) {
	l.evMu.Lock()
	defer l.evMu.Unlock()
	if l.eventsClosed {
		return
	}
	select {
	case l.events <- ev:
	default:
		l.logger.Warnw("link event buffer full, dropping event",
			"remote_participant", l.remote, "kind", ev.Kind)
	}
}
