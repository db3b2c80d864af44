package webrtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTransport struct {
	mu           sync.Mutex
	remoteDescs  []domain.SessionDescription
	candidates   []domain.ICECandidate
	sent         [][]byte
	closed       bool
	offerErr     error
	setRemoteErr error
	replaceErr   error
	replaceCalls int
	events       chan ports.TransportEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ports.TransportEvent, 16)}
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if t.offerErr != nil {
		return domain.SessionDescription{}, t.offerErr
	}
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (t *fakeTransport) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	if t.setRemoteErr != nil {
		return t.setRemoteErr
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDescs = append(t.remoteDescs, desc)
	return nil
}

func (t *fakeTransport) AddICECandidate(candidate domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) AttachLocalTracks(audio, video *domain.MediaTrackHandle) error { return nil }

func (t *fakeTransport) ReplaceVideoTrack(track *domain.MediaTrackHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replaceCalls++
	return t.replaceErr
}

func (t *fakeTransport) SendData(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, payload)
	return nil
}

func (t *fakeTransport) Events() <-chan ports.TransportEvent { return t.events }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	return nil
}

func (t *fakeTransport) appliedCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.ICECandidate, len(t.candidates))
	copy(out, t.candidates)
	return out
}

func (t *fakeTransport) emitState(state ports.TransportState) {
	t.events <- ports.TransportEvent{Kind: ports.TransportEventState, State: state}
}

func newTestLink(t *testing.T) (*PeerLink, *fakeTransport) {
	t.Helper()
	transport := newFakeTransport()
	link := NewPeerLink("remote-1", transport, zap.NewNop().Sugar())
	t.Cleanup(func() { link.Close() })
	return link, transport
}

func waitLinkState(t *testing.T, link *PeerLink, want domain.LinkState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for link.State() != want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, have %s", want, link.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCreateOfferMovesToNegotiating(t *testing.T) {
	link, _ := newTestLink(t)

	desc, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeOffer, desc.Type)
	assert.Equal(t, domain.LinkStateNegotiating, link.State())
}

func TestSecondOfferWithoutAnswerRejected(t *testing.T) {
	link, _ := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)

	_, err = link.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrOfferInFlight)
}

func TestOfferAnswerRoundClearsInFlight(t *testing.T) {
	link, _ := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)

	answer := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), answer))

	// In-flight flag cleared; still negotiating until the transport connects,
	// so a fresh offer is an invalid transition rather than in-flight.
	_, err = link.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSetRemoteDescriptionIdempotent(t *testing.T) {
	link, transport := newTestLink(t)

	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), offer))
	require.NoError(t, link.SetRemoteDescription(context.Background(), offer))

	transport.mu.Lock()
	applied := len(transport.remoteDescs)
	transport.mu.Unlock()
	assert.Equal(t, 1, applied)
	assert.Equal(t, domain.LinkStateNegotiating, link.State())
}

func TestMalformedDescriptionFailsLink(t *testing.T) {
	link, _ := newTestLink(t)

	err := link.SetRemoteDescription(context.Background(), domain.SessionDescription{Type: "rollback", SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrMalformedDescription)
	assert.Equal(t, domain.LinkStateFailed, link.State())
}

func TestCreateAnswerRequiresRemoteOffer(t *testing.T) {
	link, _ := newTestLink(t)

	_, err := link.CreateAnswer(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoRemoteDescription)

	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), offer))

	answer, err := link.CreateAnswer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SDPTypeAnswer, answer.Type)
}

func TestEarlyCandidatesBufferedInOrder(t *testing.T) {
	link, transport := newTestLink(t)

	mid := "0"
	first := domain.ICECandidate{Candidate: "candidate:1", SDPMid: &mid}
	second := domain.ICECandidate{Candidate: "candidate:2", SDPMid: &mid}

	require.NoError(t, link.AddRemoteICECandidate(first))
	require.NoError(t, link.AddRemoteICECandidate(second))
	assert.Empty(t, transport.appliedCandidates())

	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), offer))

	applied := transport.appliedCandidates()
	require.Len(t, applied, 2)
	assert.Equal(t, "candidate:1", applied[0].Candidate)
	assert.Equal(t, "candidate:2", applied[1].Candidate)
}

func TestDuplicateCandidatesDropped(t *testing.T) {
	link, transport := newTestLink(t)

	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), offer))

	mid := "0"
	candidate := domain.ICECandidate{Candidate: "candidate:1", SDPMid: &mid}
	require.NoError(t, link.AddRemoteICECandidate(candidate))
	require.NoError(t, link.AddRemoteICECandidate(candidate))

	assert.Len(t, transport.appliedCandidates(), 1)
}

func TestConnectedOnlyAfterTransportConfirms(t *testing.T) {
	link, transport := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	answer := domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0 remote"}
	require.NoError(t, link.SetRemoteDescription(context.Background(), answer))

	// Applying the answer is not enough.
	assert.Equal(t, domain.LinkStateNegotiating, link.State())

	transport.emitState(ports.TransportConnected)
	waitLinkState(t, link, domain.LinkStateConnected)
}

func TestReconnectCycle(t *testing.T) {
	link, transport := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	transport.emitState(ports.TransportConnected)
	waitLinkState(t, link, domain.LinkStateConnected)

	transport.emitState(ports.TransportDisconnected)
	waitLinkState(t, link, domain.LinkStateDisconnected)

	transport.emitState(ports.TransportConnecting)
	waitLinkState(t, link, domain.LinkStateReconnecting)
	assert.Equal(t, 1, link.ReconnectAttempts())

	transport.emitState(ports.TransportConnected)
	waitLinkState(t, link, domain.LinkStateConnected)
	assert.Equal(t, 0, link.ReconnectAttempts())
}

func TestCloseMidNegotiationReportsClosedNotFailed(t *testing.T) {
	transport := newFakeTransport()
	link := NewPeerLink("remote-1", transport, zap.NewNop().Sugar())

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)

	require.NoError(t, link.Close())
	assert.Equal(t, domain.LinkStateClosed, link.State())
	assert.True(t, transport.closed)

	// Idempotent.
	require.NoError(t, link.Close())
	assert.Equal(t, domain.LinkStateClosed, link.State())
}

func TestOperationsAfterCloseReturnClosed(t *testing.T) {
	link, _ := newTestLink(t)
	require.NoError(t, link.Close())

	_, err := link.CreateOffer(context.Background())
	assert.ErrorIs(t, err, domain.ErrLinkClosed)

	err = link.SetRemoteDescription(context.Background(), domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrLinkClosed)

	err = link.AddRemoteICECandidate(domain.ICECandidate{Candidate: "candidate:1"})
	assert.ErrorIs(t, err, domain.ErrLinkClosed)

	err = link.SendData([]byte("hi"))
	assert.ErrorIs(t, err, domain.ErrLinkClosed)
}

func TestSendDataRequiresOpenChannel(t *testing.T) {
	link, transport := newTestLink(t)

	err := link.SendData([]byte("hi"))
	assert.ErrorIs(t, err, domain.ErrChannelNotOpen)

	transport.events <- ports.TransportEvent{Kind: ports.TransportEventChannel, ChannelState: domain.DataChannelOpen}
	deadline := time.After(2 * time.Second)
	for link.DataChannelState() != domain.DataChannelOpen {
		select {
		case <-deadline:
			t.Fatal("channel never opened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	require.NoError(t, link.SendData([]byte("hi")))
	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Len(t, transport.sent, 1)
}

func TestReplaceVideoTrackInPlace(t *testing.T) {
	link, transport := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	transport.emitState(ports.TransportConnected)
	waitLinkState(t, link, domain.LinkStateConnected)

	track := &domain.MediaTrackHandle{ID: "t-1", Kind: domain.TrackKindVideo}
	require.NoError(t, link.ReplaceVideoTrack(context.Background(), track))
	assert.Equal(t, domain.LinkStateConnected, link.State())
}

func TestReplaceVideoTrackFallsBackToRenegotiation(t *testing.T) {
	link, transport := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	transport.emitState(ports.TransportConnected)
	waitLinkState(t, link, domain.LinkStateConnected)
	transport.replaceErr = domain.ErrReplaceUnsupported

	track := &domain.MediaTrackHandle{ID: "t-2", Kind: domain.TrackKindVideo}
	require.NoError(t, link.ReplaceVideoTrack(context.Background(), track))

	// Visible state stays connected while the renegotiation offer is relayed.
	assert.Equal(t, domain.LinkStateConnected, link.State())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-link.Events():
			if ev.Kind == domain.LinkEventRenegotiate {
				require.NotNil(t, ev.Description)
				assert.Equal(t, domain.SDPTypeOffer, ev.Description.Type)
				return
			}
		case <-deadline:
			t.Fatal("renegotiation offer never emitted")
		}
	}
}

func TestTransportFailureFailsLink(t *testing.T) {
	link, transport := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	transport.emitState(ports.TransportFailed)
	waitLinkState(t, link, domain.LinkStateFailed)

	err = link.SetRemoteDescription(context.Background(), domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, domain.ErrLinkFailed)
}

func TestCloseTerminatesEventStream(t *testing.T) {
	link, _ := newTestLink(t)

	_, err := link.CreateOffer(context.Background())
	require.NoError(t, err)
	require.NoError(t, link.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-link.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Close")
		}
	}
}
