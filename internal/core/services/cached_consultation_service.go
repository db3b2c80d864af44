package services

import (
	"context"
	"fmt"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/cache"
)

// CachedConsultationService wraps a ConsultationService with read caching.
// Mutations invalidate the affected entries.
type CachedConsultationService struct {
	base  ports.ConsultationService
	cache *cache.CacheWithFallback
	ttl   time.Duration
}

func NewCachedConsultationService(base ports.ConsultationService, ttl time.Duration) *CachedConsultationService {
	return &CachedConsultationService{
		base:  base,
		cache: cache.NewCacheWithFallback(ttl),
		ttl:   ttl,
	}
}

func (s *CachedConsultationService) CreateConsultation(ctx context.Context, patientID, providerID domain.ParticipantID, reason string, scheduledAt time.Time) (*domain.ConsultationRecord, error) {
	record, err := s.base.CreateConsultation(ctx, patientID, providerID, reason, scheduledAt)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate("consultations:list")
	return record, nil
}

func (s *CachedConsultationService) GetConsultation(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	value, err := s.cache.GetOrSet(ctx, s.key(id), func(ctx context.Context) (interface{}, error) {
		return s.base.GetConsultation(ctx, id)
	}, s.ttl)
	if err != nil {
		return nil, err
	}
	return value.(*domain.ConsultationRecord), nil
}

func (s *CachedConsultationService) ListConsultations(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	value, err := s.cache.GetOrSet(ctx, "consultations:list", func(ctx context.Context) (interface{}, error) {
		return s.base.ListConsultations(ctx)
	}, s.ttl)
	if err != nil {
		return nil, err
	}
	return value.([]*domain.ConsultationRecord), nil
}

func (s *CachedConsultationService) StartConsultation(ctx context.Context, id domain.ConsultationID) error {
	if err := s.base.StartConsultation(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedConsultationService) CompleteConsultation(ctx context.Context, id domain.ConsultationID) error {
	if err := s.base.CompleteConsultation(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedConsultationService) CancelConsultation(ctx context.Context, id domain.ConsultationID) error {
	if err := s.base.CancelConsultation(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedConsultationService) Stop() {
	s.cache.Stop()
}

func (s *CachedConsultationService) key(id domain.ConsultationID) string {
	return fmt.Sprintf("consultation:%s", id)
}

func (s *CachedConsultationService) invalidate(id domain.ConsultationID) {
	s.cache.Invalidate(s.key(id))
	s.cache.Invalidate("consultations:list")
}
