package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/tracing"
	"vitalink/pkg/utils"

	"go.uber.org/zap"
)

type SessionEventKind string

const (
	SessionEventStatus            SessionEventKind = "status"
	SessionEventParticipantJoined SessionEventKind = "participant_joined"
	SessionEventParticipantLeft   SessionEventKind = "participant_left"
	SessionEventLinkState         SessionEventKind = "link_state"
	SessionEventRemoteTrack       SessionEventKind = "remote_track"
	SessionEventData              SessionEventKind = "data"
)

// SessionEvent surfaces roster and media changes to the embedding application.
type SessionEvent struct {
	Kind        SessionEventKind
	Status      domain.SessionStatus
	Degraded    bool
	Participant domain.ParticipantID
	Role        domain.Role
	LinkState   domain.LinkState
	Track       *domain.MediaTrackHandle
	Data        []byte
}

// SessionCoordinator orchestrates one consultation session: it owns the
// participant roster, keeps exactly one peer link per remote, routes signaling
// envelopes to the matching link, and enforces role-based permissions. All
// inbound envelopes and link events are applied on a single dispatch
// goroutine; local user actions synchronize with it through the session mutex.
type SessionCoordinator struct {
	consultationID domain.ConsultationID
	localID        domain.ParticipantID
	localRole      domain.Role

	bridge      ports.SignalingBridge
	linkFactory ports.LinkFactory
	media       ports.MediaSession
	recorder    ports.RecordingPipeline
	metrics     ports.SessionMetrics
	logger      *zap.SugaredLogger

	mu      sync.Mutex
	session *domain.Session
	roster  map[domain.ParticipantID]*domain.Participant
	links   map[domain.ParticipantID]ports.PeerLink

	linkEvents chan domain.LinkEvent
	events     chan SessionEvent
	done       chan struct{}
	dispatched bool
}

func NewSessionCoordinator(
	identity ports.Identity,
	bridge ports.SignalingBridge,
	linkFactory ports.LinkFactory,
	media ports.MediaSession,
	recorder ports.RecordingPipeline,
	metrics ports.SessionMetrics,
	logger *zap.SugaredLogger,
) *SessionCoordinator {
	return &SessionCoordinator{
		consultationID: identity.ConsultationID,
		localID:        identity.ParticipantID,
		localRole:      identity.Role,
		bridge:         bridge,
		linkFactory:    linkFactory,
		media:          media,
		recorder:       recorder,
		metrics:        metrics,
		logger:         logger,
		session: &domain.Session{
			ID:             domain.SessionID(utils.GenerateSessionID()),
			ConsultationID: identity.ConsultationID,
			Status:         domain.SessionIdle,
		},
		roster:     make(map[domain.ParticipantID]*domain.Participant),
		links:      make(map[domain.ParticipantID]ports.PeerLink),
		linkEvents: make(chan domain.LinkEvent, 64),
		events:     make(chan SessionEvent, 64),
		done:       make(chan struct{}),
	}
}

func (c *SessionCoordinator) Events() <-chan SessionEvent {
	return c.events
}

// Session returns a snapshot of the session state.
func (c *SessionCoordinator) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.session
}

// Roster returns a snapshot of the current participants, local side included.
func (c *SessionCoordinator) Roster() []*domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Participant, 0, len(c.roster))
	for _, p := range c.roster {
		copied := *p
		out = append(out, &copied)
	}
	return out
}

// Join acquires local media, announces this participant on the signaling
// bridge and starts the dispatch loop. Media acquisition failure leaves the
// session idle so the caller may retry with different constraints.
func (c *SessionCoordinator) Join(ctx context.Context, constraints domain.MediaConstraints) error {
	ctx, span := tracing.StartSpan(ctx, "session.join")
	defer span.End()
	tracing.AddSpanAttributes(ctx,
		tracing.ConsultationIDKey.String(string(c.consultationID)),
		tracing.ParticipantIDKey.String(string(c.localID)),
		tracing.RoleKey.String(string(c.localRole)))

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.session.Status {
	case domain.SessionEnded:
		return domain.ErrSessionEnded
	case domain.SessionConnecting, domain.SessionActive:
		return nil
	}

	if _, _, err := c.media.AcquireLocalMedia(ctx, constraints); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("acquire local media: %w", err)
	}

	c.session.Status = domain.SessionConnecting
	c.session.StartedAt = time.Now()
	c.roster[c.localID] = domain.NewParticipant(c.localID, c.localRole)
	if c.metrics != nil {
		c.metrics.SessionStarted()
	}

	if !c.dispatched {
		c.dispatched = true
		go c.dispatch()
	}

	c.sendLocked(ctx, domain.EnvelopeJoin, "", domain.JoinPayload{Role: c.localRole})
	c.emitLocked(SessionEvent{Kind: SessionEventStatus, Status: c.session.Status})

	c.logger.Infow("joined consultation",
		"consultation_id", c.consultationID, "participant_id", c.localID, "role", c.localRole)
	return nil
}

// Leave announces departure and tears the session down. A recording still
// running is finalized and returned.
func (c *SessionCoordinator) Leave(ctx context.Context) (*domain.RecordingArtifact, error) {
	c.mu.Lock()
	if c.session.Status == domain.SessionConnecting || c.session.Status == domain.SessionActive {
		c.sendLocked(ctx, domain.EnvelopeLeave, "", domain.LeavePayload{Reason: "left"})
	}
	c.mu.Unlock()
	return c.End(ctx)
}

// End closes every peer link, stops any active recording, releases local media
// and stops the dispatch loop. Idempotent; this is the only path that frees
// every resource the coordinator owns.
func (c *SessionCoordinator) End(ctx context.Context) (*domain.RecordingArtifact, error) {
	ctx, span := tracing.StartSpan(ctx, "session.end")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Status == domain.SessionEnded {
		return nil, nil
	}
	began := c.session.Status != domain.SessionIdle

	var artifact *domain.RecordingArtifact
	if c.recorder.Active() {
		var err error
		artifact, err = c.recorder.Stop()
		if err != nil {
			c.logger.Errorw("failed to finalize recording on end", "error", err)
		} else if c.metrics != nil {
			c.metrics.RecordingStopped(len(artifact.Data))
		}
	}
	c.session.RecordingActive = false

	for remote, link := range c.links {
		if err := link.Close(); err != nil {
			c.logger.Warnw("failed to close link", "remote", remote, "error", err)
		}
		c.media.UnregisterLink(remote)
		delete(c.links, remote)
	}
	c.roster = make(map[domain.ParticipantID]*domain.Participant)

	if err := c.media.ReleaseAll(); err != nil {
		c.logger.Warnw("failed to release local media", "error", err)
	}

	now := time.Now()
	c.session.Status = domain.SessionEnded
	c.session.Degraded = false
	c.session.EndedAt = &now
	if began && c.metrics != nil {
		c.metrics.SessionEnded(c.session.Duration())
	}

	close(c.done)
	c.emitLocked(SessionEvent{Kind: SessionEventStatus, Status: domain.SessionEnded})
	close(c.events)

	c.logger.Infow("consultation session ended",
		"consultation_id", c.consultationID, "duration", c.session.Duration())
	return artifact, nil
}

// SetAudioEnabled toggles the shared microphone track. Never triggers
// renegotiation or link state changes.
func (c *SessionCoordinator) SetAudioEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	c.media.SetAudioEnabled(enabled)
	if local, ok := c.roster[c.localID]; ok {
		local.MediaState.Audio = enabled
	}
	return nil
}

// SetVideoEnabled toggles the shared camera track without renegotiation.
func (c *SessionCoordinator) SetVideoEnabled(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	c.media.SetVideoEnabled(enabled)
	if local, ok := c.roster[c.localID]; ok {
		local.MediaState.Video = enabled
	}
	return nil
}

// SwitchCaptureDevice swaps the camera across all links, all-or-nothing.
func (c *SessionCoordinator) SwitchCaptureDevice(ctx context.Context, deviceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	return c.media.SwitchCaptureDevice(ctx, deviceID)
}

func (c *SessionCoordinator) StartScreenShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	local := c.roster[c.localID]
	if local == nil || !local.Permissions.CanScreenShare {
		return domain.ErrNotAuthorized
	}
	if err := c.media.StartScreenShare(ctx); err != nil {
		return err
	}
	local.MediaState.ScreenShare = true
	return nil
}

func (c *SessionCoordinator) StopScreenShare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	if err := c.media.StopScreenShare(ctx); err != nil {
		return err
	}
	if local, ok := c.roster[c.localID]; ok {
		local.MediaState.ScreenShare = false
	}
	return nil
}

// StartRecording begins buffering the composed local stream. Provider-only.
func (c *SessionCoordinator) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	local := c.roster[c.localID]
	if local == nil || !local.Permissions.CanRecord {
		return domain.ErrNotAuthorized
	}
	if err := c.recorder.Start(ctx, c.media.Chunks()); err != nil {
		return err
	}
	c.session.RecordingActive = true
	return nil
}

func (c *SessionCoordinator) StopRecording() (*domain.RecordingArtifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	local := c.roster[c.localID]
	if local == nil || !local.Permissions.CanRecord {
		return nil, domain.ErrNotAuthorized
	}
	artifact, err := c.recorder.Stop()
	if err != nil {
		return nil, err
	}
	c.session.RecordingActive = false
	if c.metrics != nil {
		c.metrics.RecordingStopped(len(artifact.Data))
	}
	return artifact, nil
}

// SendChat delivers a payload over every open data channel. Links whose
// channel is not open yet are skipped.
func (c *SessionCoordinator) SendChat(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireJoinedLocked(); err != nil {
		return err
	}
	delivered := 0
	for remote, link := range c.links {
		if err := link.SendData(payload); err != nil {
			c.logger.Debugw("chat not delivered", "remote", remote, "error", err)
			continue
		}
		delivered++
	}
	if delivered == 0 && len(c.links) > 0 {
		return domain.ErrChannelNotOpen
	}
	return nil
}

func (c *SessionCoordinator) requireJoinedLocked() error {
	switch c.session.Status {
	case domain.SessionIdle:
		return domain.ErrSessionNotJoined
	case domain.SessionEnded:
		return domain.ErrSessionEnded
	}
	return nil
}

func (c *SessionCoordinator) dispatch() {
	envelopes := c.bridge.Envelopes()
	connectivity := c.bridge.Connectivity()
	for {
		select {
		case <-c.done:
			return
		case env, ok := <-envelopes:
			if !ok {
				envelopes = nil
				continue
			}
			c.handleEnvelope(env)
		case state, ok := <-connectivity:
			if !ok {
				connectivity = nil
				continue
			}
			c.handleBridgeState(state)
		case ev := <-c.linkEvents:
			c.handleLinkEvent(ev)
		}
	}
}

// handleBridgeState reacts to signaling connectivity only. Bridge reconnection
// says nothing about media link state, so no link is touched here.
func (c *SessionCoordinator) handleBridgeState(state ports.BridgeState) {
	switch state {
	case ports.BridgeDisconnected:
		c.logger.Warnw("signaling bridge disconnected", "consultation_id", c.consultationID)
	case ports.BridgeReconnected:
		c.logger.Infow("signaling bridge reconnected", "consultation_id", c.consultationID)
	}
}

func (c *SessionCoordinator) handleEnvelope(env *domain.SignalingEnvelope) {
	if err := env.Validate(); err != nil {
		c.logger.Warnw("dropping invalid envelope", "error", err)
		return
	}
	if env.SenderID == c.localID || env.ConsultationID != c.consultationID {
		return
	}
	if env.TargetID != "" && env.TargetID != c.localID {
		return
	}
	if c.metrics != nil {
		c.metrics.EnvelopeRouted(env.Type)
	}

	ctx, span := tracing.TraceEnvelope(context.Background(), string(env.Type), string(env.SenderID))
	defer span.End()

	var err error
	switch env.Type {
	case domain.EnvelopeJoin:
		err = c.handleJoin(ctx, env)
	case domain.EnvelopeOffer:
		err = c.handleOffer(ctx, env)
	case domain.EnvelopeAnswer:
		err = c.handleAnswer(ctx, env)
	case domain.EnvelopeCandidate:
		err = c.handleCandidate(env)
	case domain.EnvelopeLeave:
		err = c.handleLeave(env)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to apply envelope",
			"type", env.Type, "sender", env.SenderID, "error", err)
	}
}

// handleJoin admits a remote participant. A broadcast join gets a directed
// announce back plus an offer; a directed announce only seeds the roster, the
// announcing side's offer follows on the same ordered signaling pair. A join
// from an already-known id is a reconnection: the old link is torn down and a
// fresh one negotiated.
func (c *SessionCoordinator) handleJoin(ctx context.Context, env *domain.SignalingEnvelope) error {
	var payload domain.JoinPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: join payload: %v", domain.ErrInvalidEnvelope, err)
	}
	if !payload.Role.Valid() {
		return fmt.Errorf("%w: join role %q", domain.ErrInvalidEnvelope, payload.Role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded || c.session.Status == domain.SessionIdle {
		return nil
	}

	if old, ok := c.links[env.SenderID]; ok {
		c.logger.Infow("duplicate join, treating as reconnection", "remote", env.SenderID)
		if err := old.Close(); err != nil {
			c.logger.Warnw("failed to close stale link", "remote", env.SenderID, "error", err)
		}
		c.media.UnregisterLink(env.SenderID)
		delete(c.links, env.SenderID)
	}

	link, err := c.openLinkLocked(env.SenderID)
	if err != nil {
		return err
	}
	c.roster[env.SenderID] = domain.NewParticipant(env.SenderID, payload.Role)
	c.emitLocked(SessionEvent{
		Kind:        SessionEventParticipantJoined,
		Participant: env.SenderID,
		Role:        payload.Role,
	})

	if env.TargetID != "" {
		// Directed announce: the existing member will offer to us.
		return nil
	}

	c.sendLocked(ctx, domain.EnvelopeJoin, env.SenderID, domain.JoinPayload{Role: c.localRole})

	negCtx, span := tracing.TraceNegotiation(ctx, "offer", string(env.SenderID))
	defer span.End()
	offer, err := link.CreateOffer(negCtx)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", env.SenderID, err)
	}
	c.sendLocked(ctx, domain.EnvelopeOffer, env.SenderID, domain.DescriptionPayload{Description: offer})
	return nil
}

func (c *SessionCoordinator) handleOffer(ctx context.Context, env *domain.SignalingEnvelope) error {
	var payload domain.DescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: offer payload: %v", domain.ErrInvalidEnvelope, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded {
		return nil
	}

	link, ok := c.links[env.SenderID]
	if !ok {
		return fmt.Errorf("%w: offer from unknown sender %s", domain.ErrLinkNotFound, env.SenderID)
	}

	negCtx, span := tracing.TraceNegotiation(ctx, "answer", string(env.SenderID))
	defer span.End()
	if err := link.SetRemoteDescription(negCtx, payload.Description); err != nil {
		return fmt.Errorf("apply offer from %s: %w", env.SenderID, err)
	}
	answer, err := link.CreateAnswer(negCtx)
	if err != nil {
		return fmt.Errorf("answer offer from %s: %w", env.SenderID, err)
	}
	c.sendLocked(ctx, domain.EnvelopeAnswer, env.SenderID, domain.DescriptionPayload{Description: answer})
	return nil
}

func (c *SessionCoordinator) handleAnswer(ctx context.Context, env *domain.SignalingEnvelope) error {
	var payload domain.DescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: answer payload: %v", domain.ErrInvalidEnvelope, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.links[env.SenderID]
	if !ok {
		return fmt.Errorf("%w: answer from unknown sender %s", domain.ErrLinkNotFound, env.SenderID)
	}
	if err := link.SetRemoteDescription(ctx, payload.Description); err != nil {
		return fmt.Errorf("apply answer from %s: %w", env.SenderID, err)
	}
	return nil
}

func (c *SessionCoordinator) handleCandidate(env *domain.SignalingEnvelope) error {
	var payload domain.CandidatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("%w: candidate payload: %v", domain.ErrInvalidEnvelope, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.links[env.SenderID]
	if !ok {
		c.logger.Debugw("dropping candidate from unknown sender", "sender", env.SenderID)
		return nil
	}
	return link.AddRemoteICECandidate(payload.Candidate)
}

// handleLeave removes only the leaving participant. The session itself is
// untouched, even when the roster empties out.
func (c *SessionCoordinator) handleLeave(env *domain.SignalingEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	link, ok := c.links[env.SenderID]
	if ok {
		if err := link.Close(); err != nil {
			c.logger.Warnw("failed to close link on leave", "remote", env.SenderID, "error", err)
		}
		c.media.UnregisterLink(env.SenderID)
		delete(c.links, env.SenderID)
	}
	if _, known := c.roster[env.SenderID]; !known {
		return nil
	}
	delete(c.roster, env.SenderID)
	c.emitLocked(SessionEvent{Kind: SessionEventParticipantLeft, Participant: env.SenderID})
	c.refreshSessionStateLocked()
	return nil
}

func (c *SessionCoordinator) handleLinkEvent(ev domain.LinkEvent) {
	switch ev.Kind {
	case domain.LinkEventState:
		c.applyLinkState(ev)
	case domain.LinkEventCandidate:
		c.relayCandidate(ev)
	case domain.LinkEventRenegotiate:
		c.relayRenegotiation(ev)
	case domain.LinkEventRemoteTrack:
		c.mu.Lock()
		if c.session.Status != domain.SessionEnded {
			c.emitLocked(SessionEvent{
				Kind:        SessionEventRemoteTrack,
				Participant: ev.RemoteParticipant,
				Track:       ev.Track,
			})
		}
		c.mu.Unlock()
	case domain.LinkEventData:
		c.mu.Lock()
		if c.session.Status != domain.SessionEnded {
			c.emitLocked(SessionEvent{
				Kind:        SessionEventData,
				Participant: ev.RemoteParticipant,
				Data:        ev.Data,
			})
		}
		c.mu.Unlock()
	}
}

func (c *SessionCoordinator) applyLinkState(ev domain.LinkEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded {
		return
	}

	participant, ok := c.roster[ev.RemoteParticipant]
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.LinkStateChanged(participant.LinkState, ev.State)
	}
	participant.LinkState = ev.State

	c.emitLocked(SessionEvent{
		Kind:        SessionEventLinkState,
		Participant: ev.RemoteParticipant,
		LinkState:   ev.State,
	})
	c.refreshSessionStateLocked()
}

// refreshSessionStateLocked advances connecting→active on the first connected
// link and tracks the degraded sub-state of active. Once active the session
// never returns to idle; it persists until explicitly ended.
func (c *SessionCoordinator) refreshSessionStateLocked() {
	connected := 0
	live := 0
	for remote := range c.links {
		p, ok := c.roster[remote]
		if !ok {
			continue
		}
		live++
		if p.LinkState == domain.LinkStateConnected {
			connected++
		}
	}

	prev := c.session.Status
	prevDegraded := c.session.Degraded

	if c.session.Status == domain.SessionConnecting && connected > 0 {
		c.session.Status = domain.SessionActive
	}
	if c.session.Status == domain.SessionActive {
		c.session.Degraded = live > 0 && connected == 0
	}

	if prev != c.session.Status || prevDegraded != c.session.Degraded {
		c.emitLocked(SessionEvent{
			Kind:     SessionEventStatus,
			Status:   c.session.Status,
			Degraded: c.session.Degraded,
		})
	}
}

func (c *SessionCoordinator) relayCandidate(ev domain.LinkEvent) {
	if ev.Candidate == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded {
		return
	}
	c.sendLocked(context.Background(), domain.EnvelopeCandidate, ev.RemoteParticipant,
		domain.CandidatePayload{Candidate: *ev.Candidate})
}

// relayRenegotiation forwards the offer a link produced when its transport
// could not replace a track in place. The link stays connected throughout.
func (c *SessionCoordinator) relayRenegotiation(ev domain.LinkEvent) {
	if ev.Description == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == domain.SessionEnded {
		return
	}
	c.sendLocked(context.Background(), domain.EnvelopeOffer, ev.RemoteParticipant,
		domain.DescriptionPayload{Description: *ev.Description})
}

// openLinkLocked creates the single peer link for a remote, registers it with
// the media session so it carries the shared local tracks, and starts the
// event pump feeding the dispatch loop.
func (c *SessionCoordinator) openLinkLocked(remote domain.ParticipantID) (ports.PeerLink, error) {
	if _, ok := c.links[remote]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateLink, remote)
	}
	link, err := c.linkFactory.NewLink(remote)
	if err != nil {
		return nil, fmt.Errorf("open link to %s: %w", remote, err)
	}
	c.media.RegisterLink(link)
	c.links[remote] = link

	go func() {
		for ev := range link.Events() {
			select {
			case c.linkEvents <- ev:
			case <-c.done:
				return
			}
		}
	}()
	return link, nil
}

func (c *SessionCoordinator) sendLocked(ctx context.Context, t domain.EnvelopeType, target domain.ParticipantID, payload interface{}) {
	env, err := domain.NewEnvelope(t, c.consultationID, c.localID, target, payload)
	if err != nil {
		c.logger.Errorw("failed to build envelope", "type", t, "error", err)
		return
	}
	if err := c.bridge.Send(ctx, env); err != nil {
		c.logger.Warnw("failed to send envelope", "type", t, "target", target, "error", err)
	}
}

func (c *SessionCoordinator) emitLocked(ev SessionEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warnw("session event dropped, consumer too slow", "kind", ev.Kind)
	}
}
