package domain

import "time"

type ConsultationStatus string

const (
	ConsultationScheduled  ConsultationStatus = "scheduled"
	ConsultationInProgress ConsultationStatus = "in_progress"
	ConsultationCompleted  ConsultationStatus = "completed"
	ConsultationCancelled  ConsultationStatus = "cancelled"
)

// ConsultationRecord is the persisted metadata of a consultation, managed by
// the API layer. The live media session references it by ID only.
type ConsultationRecord struct {
	ID          ConsultationID
	PatientID   ParticipantID
	ProviderID  ParticipantID
	Status      ConsultationStatus
	Reason      string
	ScheduledAt time.Time
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}
