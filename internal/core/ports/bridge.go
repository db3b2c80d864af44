package ports

import (
	"context"

	"vitalink/internal/core/domain"
)

type BridgeState string

const (
	BridgeConnected    BridgeState = "connected"
	BridgeDisconnected BridgeState = "disconnected"
	BridgeReconnected  BridgeState = "reconnected"
)

// SignalingBridge is the out-of-band signaling transport keyed by consultation
// id. Delivery is at-least-once and in order per (sender, target) pair; bridge
// reconnection says nothing about media link state.
type SignalingBridge interface {
	Send(ctx context.Context, envelope *domain.SignalingEnvelope) error
	Envelopes() <-chan *domain.SignalingEnvelope
	Connectivity() <-chan BridgeState
	Close() error
}
