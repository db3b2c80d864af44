package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
)

type MemoryConsultationRepository struct {
	consultations map[domain.ConsultationID]*domain.ConsultationRecord
	mu            sync.RWMutex
}

func NewMemoryConsultationRepository() ports.ConsultationRepository {
	return &MemoryConsultationRepository{
		consultations: make(map[domain.ConsultationID]*domain.ConsultationRecord),
	}
}

func (r *MemoryConsultationRepository) Create(ctx context.Context, record *domain.ConsultationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.consultations[record.ID]; exists {
		return fmt.Errorf("consultation already exists: %s", record.ID)
	}

	copied := *record
	r.consultations[record.ID] = &copied
	return nil
}

func (r *MemoryConsultationRepository) GetByID(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.consultations[id]
	if !exists {
		return nil, domain.ErrConsultationNotFound
	}

	copied := *record
	return &copied, nil
}

func (r *MemoryConsultationRepository) Update(ctx context.Context, record *domain.ConsultationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.consultations[record.ID]; !exists {
		return domain.ErrConsultationNotFound
	}

	copied := *record
	r.consultations[record.ID] = &copied
	return nil
}

func (r *MemoryConsultationRepository) List(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]*domain.ConsultationRecord, 0, len(r.consultations))
	for _, record := range r.consultations {
		copied := *record
		records = append(records, &copied)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (r *MemoryConsultationRepository) Delete(ctx context.Context, id domain.ConsultationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.consultations[id]; !exists {
		return domain.ErrConsultationNotFound
	}

	delete(r.consultations, id)
	return nil
}
