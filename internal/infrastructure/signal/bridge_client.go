package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/retry"
	"vitalink/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type BridgeConfig struct {
	URL          string
	JoinToken    string
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	Reconnect    retry.Config
}

// BridgeClient is the websocket implementation of the signaling bridge. It
// dials the relay, surfaces inbound envelopes and connectivity changes on
// channels, and reconnects with capped exponential backoff when the socket
// drops. Envelopes sent while disconnected are queued and flushed in order
// once the socket is back.
type BridgeClient struct {
	cfg    BridgeConfig
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending []*domain.SignalingEnvelope
	closed  bool

	envelopes    chan *domain.SignalingEnvelope
	connectivity chan ports.BridgeState
	done         chan struct{}
}

// Connect dials the relay and starts the read and keepalive loops.
func Connect(ctx context.Context, cfg BridgeConfig, logger *zap.SugaredLogger) (*BridgeClient, error) {
	if err := validation.ValidateRelayURL(cfg.URL); err != nil {
		return nil, err
	}
	c := &BridgeClient{
		cfg:          cfg,
		logger:       logger,
		envelopes:    make(chan *domain.SignalingEnvelope, 64),
		connectivity: make(chan ports.BridgeState, 8),
		done:         make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.notify(ports.BridgeConnected)

	go c.readLoop(conn)
	go c.keepalive(conn)
	return c, nil
}

func (c *BridgeClient) dial(ctx context.Context) (*websocket.Conn, error) {
	url := c.cfg.URL + "?token=" + c.cfg.JoinToken
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})
	conn.SetPingHandler(func(payload string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		c.mu.Lock()
		defer c.mu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		return conn.WriteMessage(websocket.PongMessage, []byte(payload))
	})
	return conn, nil
}

// Send delivers an envelope, queueing it when the bridge is disconnected. The
// queue is flushed in order on reconnect.
func (c *BridgeClient) Send(ctx context.Context, envelope *domain.SignalingEnvelope) error {
	if err := envelope.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrBridgeDisconnected
	}
	if c.conn == nil {
		c.pending = append(c.pending, envelope)
		return nil
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteJSON(envelope); err != nil {
		c.pending = append(c.pending, envelope)
		return nil
	}
	return nil
}

func (c *BridgeClient) Envelopes() <-chan *domain.SignalingEnvelope {
	return c.envelopes
}

func (c *BridgeClient) Connectivity() <-chan ports.BridgeState {
	return c.connectivity
}

func (c *BridgeClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		return conn.Close()
	}
	return nil
}

func (c *BridgeClient) readLoop(conn *websocket.Conn) {
	for {
		var env domain.SignalingEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		select {
		case c.envelopes <- &env:
		case <-c.done:
			return
		}
	}
}

func (c *BridgeClient) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn {
				c.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleDisconnect drops the dead socket and reconnects with backoff.
// Reconnection restores signaling only; media links recover independently.
func (c *BridgeClient) handleDisconnect(dead *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != dead {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	dead.Close()

	c.logger.Warnw("signaling bridge disconnected", "error", cause)
	c.notify(ports.BridgeDisconnected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := retry.RetryWithResult(ctx, c.cfg.Reconnect, func() (*websocket.Conn, error) {
		return c.dial(ctx)
	})
	if err != nil {
		c.logger.Errorw("signaling reconnect failed, giving up", "error", err)
		c.mu.Lock()
		alreadyClosed := c.closed
		c.closed = true
		if !alreadyClosed {
			close(c.done)
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.keepalive(conn)
	c.notify(ports.BridgeReconnected)
	c.logger.Infow("signaling bridge reconnected", "flushed", len(pending))

	for _, env := range pending {
		if err := c.Send(ctx, env); err != nil {
			c.logger.Warnw("failed to flush queued envelope", "type", env.Type, "error", err)
		}
	}
}

func (c *BridgeClient) notify(state ports.BridgeState) {
	select {
	case c.connectivity <- state:
	default:
		c.logger.Debugw("connectivity event dropped", "state", state)
	}
}
