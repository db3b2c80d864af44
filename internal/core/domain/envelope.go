package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EnvelopeType string

const (
	EnvelopeOffer     EnvelopeType = "offer"
	EnvelopeAnswer    EnvelopeType = "answer"
	EnvelopeCandidate EnvelopeType = "ice-candidate"
	EnvelopeJoin      EnvelopeType = "join"
	EnvelopeLeave     EnvelopeType = "leave"
)

func (t EnvelopeType) Valid() bool {
	switch t {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeCandidate, EnvelopeJoin, EnvelopeLeave:
		return true
	}
	return false
}

// SignalingEnvelope is the wire-level signaling message. Transient; never
// persisted by the session core. TargetID is empty for broadcast types (join,
// leave) and set for directed negotiation messages.
type SignalingEnvelope struct {
	Type           EnvelopeType    `json:"type"`
	ConsultationID ConsultationID  `json:"consultationId"`
	SenderID       ParticipantID   `json:"senderId"`
	TargetID       ParticipantID   `json:"targetId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (e *SignalingEnvelope) Validate() error {
	if !e.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidEnvelope, e.Type)
	}
	if e.ConsultationID == "" {
		return fmt.Errorf("%w: missing consultationId", ErrInvalidEnvelope)
	}
	if e.SenderID == "" {
		return fmt.Errorf("%w: missing senderId", ErrInvalidEnvelope)
	}
	switch e.Type {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeCandidate:
		if e.TargetID == "" {
			return fmt.Errorf("%w: %s requires targetId", ErrInvalidEnvelope, e.Type)
		}
	}
	return nil
}

type DescriptionPayload struct {
	Description SessionDescription `json:"description"`
}

type CandidatePayload struct {
	Candidate ICECandidate `json:"candidate"`
}

type JoinPayload struct {
	Role Role `json:"role"`
}

type LeavePayload struct {
	Reason string `json:"reason,omitempty"`
}

func NewEnvelope(t EnvelopeType, consultation ConsultationID, sender, target ParticipantID, payload interface{}) (*SignalingEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return &SignalingEnvelope{
		Type:           t,
		ConsultationID: consultation,
		SenderID:       sender,
		TargetID:       target,
		Payload:        raw,
		Timestamp:      time.Now().UTC(),
	}, nil
}
