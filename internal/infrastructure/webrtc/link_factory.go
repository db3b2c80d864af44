package webrtc

import (
	"fmt"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"go.uber.org/zap"
)

// PeerLinkFactory builds a peer link backed by a fresh transport for each
// remote participant.
type PeerLinkFactory struct {
	transports ports.TransportFactory
	logger     *zap.SugaredLogger
}

func NewPeerLinkFactory(transports ports.TransportFactory, logger *zap.SugaredLogger) *PeerLinkFactory {
	return &PeerLinkFactory{transports: transports, logger: logger}
}

func (f *PeerLinkFactory) NewLink(remote domain.ParticipantID) (ports.PeerLink, error) {
	transport, err := f.transports.NewTransport(remote)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", remote, err)
	}
	return NewPeerLink(remote, transport, f.logger), nil
}
