package domain

import "fmt"

type LinkState string

const (
	LinkStateNew          LinkState = "new"
	LinkStateNegotiating  LinkState = "negotiating"
	LinkStateConnected    LinkState = "connected"
	LinkStateDisconnected LinkState = "disconnected"
	LinkStateReconnecting LinkState = "reconnecting"
	LinkStateFailed       LinkState = "failed"
	LinkStateClosed       LinkState = "closed"
)

func (s LinkState) Terminal() bool {
	return s == LinkStateFailed || s == LinkStateClosed
}

// ValidLinkTransition reports whether a link may move from one state to
// another. Closed is reachable from everywhere; failed from every non-closed
// state. All other transitions follow the negotiation lifecycle strictly.
func ValidLinkTransition(from, to LinkState) bool {
	if from == to {
		return false
	}
	if to == LinkStateClosed {
		return from != LinkStateClosed
	}
	if to == LinkStateFailed {
		return from != LinkStateClosed && from != LinkStateFailed
	}

	switch from {
	case LinkStateNew:
		return to == LinkStateNegotiating
	case LinkStateNegotiating:
		return to == LinkStateConnected
	case LinkStateConnected:
		return to == LinkStateDisconnected
	case LinkStateDisconnected:
		return to == LinkStateReconnecting
	case LinkStateReconnecting:
		return to == LinkStateConnected
	}
	return false
}

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

func (d SessionDescription) Equal(other SessionDescription) bool {
	return d.Type == other.Type && d.SDP == other.SDP
}

type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Key identifies a candidate by value for duplicate suppression across
// at-least-once signaling delivery.
func (c ICECandidate) Key() string {
	mid := ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	idx := uint16(0)
	if c.SDPMLineIndex != nil {
		idx = *c.SDPMLineIndex
	}
	return fmt.Sprintf("%s|%s|%d", c.Candidate, mid, idx)
}

type DataChannelState string

const (
	DataChannelConnecting DataChannelState = "connecting"
	DataChannelOpen       DataChannelState = "open"
	DataChannelClosed     DataChannelState = "closed"
)

type LinkEventKind string

const (
	LinkEventState       LinkEventKind = "state"
	LinkEventRemoteTrack LinkEventKind = "remote_track"
	LinkEventData        LinkEventKind = "data"
	LinkEventCandidate   LinkEventKind = "candidate"
	LinkEventRenegotiate LinkEventKind = "renegotiate"
)

// LinkEvent is emitted by a peer link for every observable change: state
// transitions, inbound remote tracks, data-channel messages, locally gathered
// ICE candidates that must be relayed to the remote side, and renegotiation
// offers produced when the transport cannot replace a track in place.
type LinkEvent struct {
	Kind              LinkEventKind
	RemoteParticipant ParticipantID
	State             LinkState
	ReconnectAttempt  int
	Track             *MediaTrackHandle
	Data              []byte
	Candidate         *ICECandidate
	Description       *SessionDescription
}
