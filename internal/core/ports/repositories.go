package ports

import (
	"context"

	"vitalink/internal/core/domain"
)

type ConsultationRepository interface {
	Create(ctx context.Context, record *domain.ConsultationRecord) error
	GetByID(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error)
	Update(ctx context.Context, record *domain.ConsultationRecord) error
	List(ctx context.Context) ([]*domain.ConsultationRecord, error)
	Delete(ctx context.Context, id domain.ConsultationID) error
}
