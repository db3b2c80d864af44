package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newConsultationService() ports.ConsultationService {
	return NewConsultationService(memory.NewMemoryConsultationRepository(), zap.NewNop().Sugar())
}

func createScheduled(t *testing.T, svc ports.ConsultationService) *domain.ConsultationRecord {
	t.Helper()
	record, err := svc.CreateConsultation(context.Background(),
		"patient-1", "provider-1", "annual check-up", time.Now().Add(time.Hour))
	require.NoError(t, err)
	return record
}

func TestCreateConsultation(t *testing.T) {
	svc := newConsultationService()
	record := createScheduled(t, svc)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, domain.ConsultationScheduled, record.Status)
	assert.Equal(t, domain.ParticipantID("patient-1"), record.PatientID)
	assert.Equal(t, domain.ParticipantID("provider-1"), record.ProviderID)

	fetched, err := svc.GetConsultation(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, fetched.ID)
}

func TestCreateConsultationValidatesInput(t *testing.T) {
	svc := newConsultationService()

	_, err := svc.CreateConsultation(context.Background(), "", "provider-1", "", time.Now())
	assert.Error(t, err)

	_, err = svc.CreateConsultation(context.Background(), "patient one", "provider-1", "", time.Now())
	assert.Error(t, err)

	_, err = svc.CreateConsultation(context.Background(),
		"patient-1", "provider-1", strings.Repeat("x", 501), time.Now())
	assert.Error(t, err)
}

func TestConsultationLifecycle(t *testing.T) {
	svc := newConsultationService()
	record := createScheduled(t, svc)

	require.NoError(t, svc.StartConsultation(context.Background(), record.ID))
	started, err := svc.GetConsultation(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationInProgress, started.Status)
	require.NotNil(t, started.StartedAt)

	require.NoError(t, svc.CompleteConsultation(context.Background(), record.ID))
	completed, err := svc.GetConsultation(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationCompleted, completed.Status)
	require.NotNil(t, completed.EndedAt)
}

func TestStartRequiresScheduledStatus(t *testing.T) {
	svc := newConsultationService()
	record := createScheduled(t, svc)

	require.NoError(t, svc.StartConsultation(context.Background(), record.ID))
	assert.Error(t, svc.StartConsultation(context.Background(), record.ID))
}

func TestCompleteRequiresInProgress(t *testing.T) {
	svc := newConsultationService()
	record := createScheduled(t, svc)

	assert.Error(t, svc.CompleteConsultation(context.Background(), record.ID))
}

func TestCancelBlockedAfterTerminalStatus(t *testing.T) {
	svc := newConsultationService()
	record := createScheduled(t, svc)

	require.NoError(t, svc.StartConsultation(context.Background(), record.ID))
	require.NoError(t, svc.CompleteConsultation(context.Background(), record.ID))
	assert.Error(t, svc.CancelConsultation(context.Background(), record.ID))

	other := createScheduled(t, svc)
	require.NoError(t, svc.CancelConsultation(context.Background(), other.ID))
	assert.Error(t, svc.CancelConsultation(context.Background(), other.ID))
}

func TestOperationsOnMissingConsultation(t *testing.T) {
	svc := newConsultationService()

	_, err := svc.GetConsultation(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConsultationNotFound)
	assert.ErrorIs(t, svc.StartConsultation(context.Background(), "missing"), domain.ErrConsultationNotFound)
	assert.ErrorIs(t, svc.CompleteConsultation(context.Background(), "missing"), domain.ErrConsultationNotFound)
	assert.ErrorIs(t, svc.CancelConsultation(context.Background(), "missing"), domain.ErrConsultationNotFound)
}

func TestListOrderedByCreation(t *testing.T) {
	svc := newConsultationService()
	first := createScheduled(t, svc)
	second := createScheduled(t, svc)

	records, err := svc.ListConsultations(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, second.ID, records[1].ID)
}
