package services

import (
	"context"
	"fmt"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/utils"
	"vitalink/pkg/validation"

	"go.uber.org/zap"
)

type consultationService struct {
	repo   ports.ConsultationRepository
	logger *zap.SugaredLogger
}

func NewConsultationService(repo ports.ConsultationRepository, logger *zap.SugaredLogger) ports.ConsultationService {
	return &consultationService{repo: repo, logger: logger}
}

func (s *consultationService) CreateConsultation(ctx context.Context, patientID, providerID domain.ParticipantID, reason string, scheduledAt time.Time) (*domain.ConsultationRecord, error) {
	if err := validation.ValidateParticipantID(string(patientID)); err != nil {
		return nil, fmt.Errorf("patient: %w", err)
	}
	if err := validation.ValidateParticipantID(string(providerID)); err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}
	if err := validation.ValidateReason(reason); err != nil {
		return nil, err
	}

	record := &domain.ConsultationRecord{
		ID:          domain.ConsultationID(utils.GenerateConsultationID()),
		PatientID:   patientID,
		ProviderID:  providerID,
		Status:      domain.ConsultationScheduled,
		Reason:      reason,
		ScheduledAt: scheduledAt,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}

	s.logger.Infow("consultation created",
		"consultation_id", record.ID, "patient_id", patientID, "provider_id", providerID)
	return record, nil
}

func (s *consultationService) GetConsultation(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *consultationService) ListConsultations(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	return s.repo.List(ctx)
}

func (s *consultationService) StartConsultation(ctx context.Context, id domain.ConsultationID) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != domain.ConsultationScheduled {
		return fmt.Errorf("consultation %s is %s, expected %s", id, record.Status, domain.ConsultationScheduled)
	}

	now := time.Now()
	record.Status = domain.ConsultationInProgress
	record.StartedAt = &now
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("start consultation: %w", err)
	}
	s.logger.Infow("consultation started", "consultation_id", id)
	return nil
}

func (s *consultationService) CompleteConsultation(ctx context.Context, id domain.ConsultationID) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status != domain.ConsultationInProgress {
		return fmt.Errorf("consultation %s is %s, expected %s", id, record.Status, domain.ConsultationInProgress)
	}

	now := time.Now()
	record.Status = domain.ConsultationCompleted
	record.EndedAt = &now
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("complete consultation: %w", err)
	}
	s.logger.Infow("consultation completed", "consultation_id", id)
	return nil
}

func (s *consultationService) CancelConsultation(ctx context.Context, id domain.ConsultationID) error {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == domain.ConsultationCompleted || record.Status == domain.ConsultationCancelled {
		return fmt.Errorf("consultation %s already %s", id, record.Status)
	}

	record.Status = domain.ConsultationCancelled
	if err := s.repo.Update(ctx, record); err != nil {
		return fmt.Errorf("cancel consultation: %w", err)
	}
	s.logger.Infow("consultation cancelled", "consultation_id", id)
	return nil
}
