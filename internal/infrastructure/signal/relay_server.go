package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RelayMetrics receives relay-side measurements. A nil collector is tolerated.
type RelayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	EnvelopeRouted(envelopeType domain.EnvelopeType)
	EnvelopeRejected(reason string)
}

type RelayConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	AllowedOrigins    []string
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PingInterval:      30 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 50,
		Burst:             100,
		MaxMessageSize:    512 * 1024,
	}
}

type relayClient struct {
	conn           *websocket.Conn
	participantID  domain.ParticipantID
	consultationID domain.ConsultationID
	limiter        *rate.Limiter

	writeMu sync.Mutex
}

func (c *relayClient) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

// RelayServer forwards signaling envelopes between the participants of a
// consultation. It validates join tokens, keeps one socket per participant
// (a reconnect replaces the previous socket), guarantees per-connection write
// ordering and rate-limits inbound traffic. Envelope payloads are opaque; the
// relay routes on the envelope header only.
type RelayServer struct {
	identity ports.IdentityProvider
	cfg      RelayConfig
	metrics  RelayMetrics
	logger   *zap.SugaredLogger

	mu    sync.RWMutex
	rooms map[domain.ConsultationID]map[domain.ParticipantID]*relayClient

	upgrader websocket.Upgrader
}

func NewRelayServer(identity ports.IdentityProvider, cfg RelayConfig, metrics RelayMetrics, logger *zap.SugaredLogger) *RelayServer {
	s := &RelayServer{
		identity: identity,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		rooms:    make(map[domain.ConsultationID]map[domain.ParticipantID]*relayClient),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *RelayServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := s.identity.ValidateJoinToken(token)
	if err != nil {
		s.logger.Warnw("rejecting relay connection", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := &relayClient{
		conn:           conn,
		participantID:  identity.ParticipantID,
		consultationID: identity.ConsultationID,
		limiter:        rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst),
	}
	reconnect := s.register(client)
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	s.logger.Infow("participant connected",
		"consultation_id", identity.ConsultationID,
		"participant_id", identity.ParticipantID,
		"reconnect", reconnect)

	defer func() {
		if s.unregister(client) {
			s.broadcastLeave(client)
		}
		if s.metrics != nil {
			s.metrics.ConnectionClosed()
		}
		s.logger.Infow("participant disconnected",
			"consultation_id", client.consultationID,
			"participant_id", client.participantID)
	}()

	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	envelopes := make(chan *domain.SignalingEnvelope, 16)
	errs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			var env domain.SignalingEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				errs <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
			select {
			case envelopes <- &env:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case env := <-envelopes:
			if !client.limiter.Allow() {
				s.reject(client, "rate limit exceeded")
				continue
			}
			if err := s.route(client, env); err != nil {
				s.reject(client, err.Error())
			}

		case <-pingTicker.C:
			client.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				s.logger.Debugw("ping failed", "participant_id", client.participantID, "error", err)
				return
			}

		case err := <-errs:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("read failed", "participant_id", client.participantID, "error", err)
			}
			return
		}
	}
}

// register stores the client, closing any previous socket for the same
// participant. Returns whether this was a reconnect.
func (s *RelayServer) register(client *relayClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[client.consultationID]
	if !ok {
		room = make(map[domain.ParticipantID]*relayClient)
		s.rooms[client.consultationID] = room
	}

	old, reconnect := room[client.participantID]
	if reconnect && old != nil {
		old.conn.Close()
	}
	room[client.participantID] = client
	return reconnect
}

// unregister removes the client if it is still the registered socket for its
// participant. Returns false when a newer socket already replaced it.
func (s *RelayServer) unregister(client *relayClient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[client.consultationID]
	if !ok || room[client.participantID] != client {
		return false
	}
	delete(room, client.participantID)
	if len(room) == 0 {
		delete(s.rooms, client.consultationID)
	}
	return true
}

func (s *RelayServer) route(client *relayClient, env *domain.SignalingEnvelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.SenderID != client.participantID {
		return fmt.Errorf("%w: senderId %s does not match connection identity", domain.ErrInvalidEnvelope, env.SenderID)
	}
	if env.ConsultationID != client.consultationID {
		return fmt.Errorf("%w: consultationId %s does not match join token", domain.ErrInvalidEnvelope, env.ConsultationID)
	}

	if s.metrics != nil {
		s.metrics.EnvelopeRouted(env.Type)
	}

	if env.TargetID != "" {
		return s.sendTo(client.consultationID, env.TargetID, env)
	}
	s.broadcast(client.consultationID, client.participantID, env)
	return nil
}

func (s *RelayServer) sendTo(consultation domain.ConsultationID, target domain.ParticipantID, env *domain.SignalingEnvelope) error {
	s.mu.RLock()
	room := s.rooms[consultation]
	client, ok := room[target]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("target %s is not connected", target)
	}
	if err := client.writeJSON(env, s.cfg.WriteTimeout); err != nil {
		return fmt.Errorf("deliver to %s: %w", target, err)
	}
	return nil
}

func (s *RelayServer) broadcast(consultation domain.ConsultationID, sender domain.ParticipantID, env *domain.SignalingEnvelope) {
	s.mu.RLock()
	room := s.rooms[consultation]
	targets := make([]*relayClient, 0, len(room))
	for id, client := range room {
		if id != sender {
			targets = append(targets, client)
		}
	}
	s.mu.RUnlock()

	for _, client := range targets {
		if err := client.writeJSON(env, s.cfg.WriteTimeout); err != nil {
			s.logger.Warnw("broadcast delivery failed",
				"target", client.participantID, "type", env.Type, "error", err)
		}
	}
}

// broadcastLeave synthesizes a leave envelope when a participant drops without
// sending one, so the remaining peers clean up their links.
func (s *RelayServer) broadcastLeave(client *relayClient) {
	env, err := domain.NewEnvelope(domain.EnvelopeLeave, client.consultationID, client.participantID, "",
		domain.LeavePayload{Reason: "disconnected"})
	if err != nil {
		s.logger.Errorw("failed to build synthetic leave", "error", err)
		return
	}
	s.broadcast(client.consultationID, client.participantID, env)
}

func (s *RelayServer) reject(client *relayClient, reason string) {
	if s.metrics != nil {
		s.metrics.EnvelopeRejected(reason)
	}
	s.logger.Debugw("envelope rejected", "participant_id", client.participantID, "reason", reason)
	errMsg := map[string]interface{}{
		"type":    "error",
		"message": reason,
	}
	if err := client.writeJSON(errMsg, s.cfg.WriteTimeout); err != nil {
		s.logger.Debugw("failed to send error message", "participant_id", client.participantID, "error", err)
	}
}

func (s *RelayServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	connections := 0
	for _, room := range s.rooms {
		connections += len(room)
	}
	rooms := len(s.rooms)
	s.mu.RUnlock()

	response := map[string]interface{}{
		"status":        "healthy",
		"timestamp":     time.Now().Unix(),
		"connections":   connections,
		"consultations": rooms,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ConnectedParticipants lists who is currently connected for a consultation.
func (s *RelayServer) ConnectedParticipants(consultation domain.ConsultationID) []domain.ParticipantID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room := s.rooms[consultation]
	out := make([]domain.ParticipantID, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	return out
}
