package memory

import (
	"context"
	"testing"
	"time"

	"vitalink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id domain.ConsultationID, createdAt time.Time) *domain.ConsultationRecord {
	return &domain.ConsultationRecord{
		ID:         id,
		PatientID:  "patient-1",
		ProviderID: "provider-1",
		Status:     domain.ConsultationScheduled,
		CreatedAt:  createdAt,
	}
}

func TestCreateAndGet(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	now := time.Now()

	require.NoError(t, repo.Create(context.Background(), record("c-1", now)))

	got, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationID("c-1"), got.ID)
	assert.Equal(t, domain.ConsultationScheduled, got.Status)
}

func TestCreateDuplicateRejected(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	now := time.Now()

	require.NoError(t, repo.Create(context.Background(), record("c-1", now)))
	assert.Error(t, repo.Create(context.Background(), record("c-1", now)))
}

func TestGetReturnsCopy(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	require.NoError(t, repo.Create(context.Background(), record("c-1", time.Now())))

	first, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	first.Status = domain.ConsultationCancelled

	second, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationScheduled, second.Status)
}

func TestUpdate(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	rec := record("c-1", time.Now())
	require.NoError(t, repo.Create(context.Background(), rec))

	rec.Status = domain.ConsultationInProgress
	require.NoError(t, repo.Update(context.Background(), rec))

	got, err := repo.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationInProgress, got.Status)
}

func TestUpdateMissing(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	err := repo.Update(context.Background(), record("ghost", time.Now()))
	assert.ErrorIs(t, err, domain.ErrConsultationNotFound)
}

func TestListSortedByCreation(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	base := time.Now()

	require.NoError(t, repo.Create(context.Background(), record("c-2", base.Add(time.Minute))))
	require.NoError(t, repo.Create(context.Background(), record("c-1", base)))

	records, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, domain.ConsultationID("c-1"), records[0].ID)
	assert.Equal(t, domain.ConsultationID("c-2"), records[1].ID)
}

func TestDelete(t *testing.T) {
	repo := NewMemoryConsultationRepository()
	require.NoError(t, repo.Create(context.Background(), record("c-1", time.Now())))

	require.NoError(t, repo.Delete(context.Background(), "c-1"))
	_, err := repo.GetByID(context.Background(), "c-1")
	assert.ErrorIs(t, err, domain.ErrConsultationNotFound)

	assert.ErrorIs(t, repo.Delete(context.Background(), "c-1"), domain.ErrConsultationNotFound)
}
