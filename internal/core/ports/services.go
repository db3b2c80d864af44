package ports

import (
	"context"
	"time"

	"vitalink/internal/core/domain"
)

// Identity is the opaque join-time input from the identity provider. The core
// never re-derives role from payload content.
type Identity struct {
	ParticipantID  domain.ParticipantID
	Role           domain.Role
	ConsultationID domain.ConsultationID
}

type IdentityProvider interface {
	IssueJoinToken(identity Identity, ttl time.Duration) (string, error)
	ValidateJoinToken(token string) (*Identity, error)
}

// SessionMetrics receives session-level measurements. Implementations must be
// safe for concurrent use; a nil collector is tolerated everywhere.
type SessionMetrics interface {
	SessionStarted()
	SessionEnded(duration time.Duration)
	LinkStateChanged(from, to domain.LinkState)
	EnvelopeRouted(envelopeType domain.EnvelopeType)
	RecordingStopped(bytes int)
}

type ConsultationService interface {
	CreateConsultation(ctx context.Context, patientID, providerID domain.ParticipantID, reason string, scheduledAt time.Time) (*domain.ConsultationRecord, error)
	GetConsultation(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error)
	ListConsultations(ctx context.Context) ([]*domain.ConsultationRecord, error)
	StartConsultation(ctx context.Context, id domain.ConsultationID) error
	CompleteConsultation(ctx context.Context, id domain.ConsultationID) error
	CancelConsultation(ctx context.Context, id domain.ConsultationID) error
}
