package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bridgeTestServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	refuse   atomic.Bool

	mu       sync.Mutex
	conns    []*websocket.Conn
	received chan *domain.SignalingEnvelope
}

func newBridgeTestServer(t *testing.T) *bridgeTestServer {
	t.Helper()
	s := &bridgeTestServer{received: make(chan *domain.SignalingEnvelope, 32)}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if s.refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var env domain.SignalingEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.received <- &env
		}
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *bridgeTestServer) url() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
}

func (s *bridgeTestServer) latestConn(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.conns)
		var conn *websocket.Conn
		if n > 0 {
			conn = s.conns[n-1]
		}
		s.mu.Unlock()
		if conn != nil {
			return conn
		}
		select {
		case <-deadline:
			t.Fatal("no websocket connection established")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *bridgeTestServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func testBridgeConfig(url string) BridgeConfig {
	return BridgeConfig{
		URL:          url,
		JoinToken:    "test-token",
		WriteTimeout: 2 * time.Second,
		PongTimeout:  10 * time.Second,
		PingInterval: 5 * time.Second,
		Reconnect: retry.Config{
			Enabled:      true,
			MaxAttempts:  50,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   1.5,
		},
	}
}

func testEnvelope(t *testing.T, typ domain.EnvelopeType, target domain.ParticipantID) *domain.SignalingEnvelope {
	t.Helper()
	env, err := domain.NewEnvelope(typ, "consult-1", "local", target, domain.JoinPayload{Role: domain.RolePatient})
	require.NoError(t, err)
	return env
}

func waitBridgeState(t *testing.T, bridge *BridgeClient, want ports.BridgeState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case state := <-bridge.Connectivity():
			if state == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for bridge state %s", want)
		}
	}
}

func TestConnectRejectsInvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), BridgeConfig{URL: "http://relay.example.com/ws"}, zap.NewNop().Sugar())
	assert.Error(t, err)

	_, err = Connect(context.Background(), BridgeConfig{URL: ""}, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestSendDeliversEnvelope(t *testing.T) {
	server := newBridgeTestServer(t)
	bridge, err := Connect(context.Background(), testBridgeConfig(server.url()), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer bridge.Close()
	waitBridgeState(t, bridge, ports.BridgeConnected)

	require.NoError(t, bridge.Send(context.Background(), testEnvelope(t, domain.EnvelopeJoin, "")))

	select {
	case env := <-server.received:
		assert.Equal(t, domain.EnvelopeJoin, env.Type)
		assert.Equal(t, domain.ParticipantID("local"), env.SenderID)
	case <-time.After(2 * time.Second):
		t.Fatal("envelope never arrived at relay")
	}
}

func TestSendValidatesEnvelope(t *testing.T) {
	server := newBridgeTestServer(t)
	bridge, err := Connect(context.Background(), testBridgeConfig(server.url()), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer bridge.Close()

	err = bridge.Send(context.Background(), &domain.SignalingEnvelope{Type: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidEnvelope)
}

func TestInboundEnvelopesSurface(t *testing.T) {
	server := newBridgeTestServer(t)
	bridge, err := Connect(context.Background(), testBridgeConfig(server.url()), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer bridge.Close()

	conn := server.latestConn(t)
	require.NoError(t, conn.WriteJSON(testEnvelope(t, domain.EnvelopeOffer, "local")))

	select {
	case env := <-bridge.Envelopes():
		assert.Equal(t, domain.EnvelopeOffer, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound envelope never surfaced")
	}
}

func TestReconnectFlushesQueuedEnvelopes(t *testing.T) {
	server := newBridgeTestServer(t)
	bridge, err := Connect(context.Background(), testBridgeConfig(server.url()), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer bridge.Close()
	waitBridgeState(t, bridge, ports.BridgeConnected)

	// Refuse redials so sends pile up in the queue, then drop the socket.
	server.refuse.Store(true)
	server.dropConnections()
	waitBridgeState(t, bridge, ports.BridgeDisconnected)

	require.NoError(t, bridge.Send(context.Background(), testEnvelope(t, domain.EnvelopeCandidate, "remote")))
	require.NoError(t, bridge.Send(context.Background(), testEnvelope(t, domain.EnvelopeLeave, "")))

	server.refuse.Store(false)
	waitBridgeState(t, bridge, ports.BridgeReconnected)

	var types []domain.EnvelopeType
	for len(types) < 2 {
		select {
		case env := <-server.received:
			types = append(types, env.Type)
		case <-time.After(2 * time.Second):
			t.Fatalf("queued envelopes never flushed, got %v", types)
		}
	}
	assert.Equal(t, []domain.EnvelopeType{domain.EnvelopeCandidate, domain.EnvelopeLeave}, types)
}

func TestSendAfterCloseFails(t *testing.T) {
	server := newBridgeTestServer(t)
	bridge, err := Connect(context.Background(), testBridgeConfig(server.url()), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, bridge.Close())

	err = bridge.Send(context.Background(), testEnvelope(t, domain.EnvelopeJoin, ""))
	assert.ErrorIs(t, err, domain.ErrBridgeDisconnected)

	// Idempotent close.
	assert.NoError(t, bridge.Close())
}
