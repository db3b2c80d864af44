package reliability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vitalink/internal/core/domain"
	"vitalink/pkg/circuitbreaker"
	"vitalink/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type flakyRepo struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	notFound bool
	records  map[domain.ConsultationID]*domain.ConsultationRecord
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{records: make(map[domain.ConsultationID]*domain.ConsultationRecord)}
}

func (r *flakyRepo) attempt() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.failures > 0 {
		r.failures--
		return errors.New("connection refused")
	}
	if r.notFound {
		return domain.ErrConsultationNotFound
	}
	return nil
}

func (r *flakyRepo) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *flakyRepo) Create(ctx context.Context, record *domain.ConsultationRecord) error {
	if err := r.attempt(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *flakyRepo) GetByID(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	if err := r.attempt(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, domain.ErrConsultationNotFound
	}
	return record, nil
}

func (r *flakyRepo) Update(ctx context.Context, record *domain.ConsultationRecord) error {
	return r.attempt()
}

func (r *flakyRepo) List(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	if err := r.attempt(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *flakyRepo) Delete(ctx context.Context, id domain.ConsultationID) error {
	return r.attempt()
}

func fastRetry() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newWrapper(repo *flakyRepo, cbConfig circuitbreaker.Config) *ConsultationRepositoryWrapper {
	return NewConsultationRepositoryWrapper(repo, fastRetry(), cbConfig, zap.NewNop().Sugar())
}

func TestTransientFailureRetried(t *testing.T) {
	repo := newFlakyRepo()
	repo.failures = 2
	w := newWrapper(repo, circuitbreaker.DefaultConfig())

	err := w.Create(context.Background(), &domain.ConsultationRecord{ID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.callCount())
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
}

func TestNotFoundPassesThroughWithoutRetry(t *testing.T) {
	repo := newFlakyRepo()
	w := newWrapper(repo, circuitbreaker.DefaultConfig())

	_, err := w.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrConsultationNotFound)
	assert.Equal(t, 1, repo.callCount(), "a definitive not-found must not be retried")
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	repo := newFlakyRepo()
	w := newWrapper(repo, circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	for i := 0; i < 5; i++ {
		_, err := w.GetByID(context.Background(), "missing")
		assert.ErrorIs(t, err, domain.ErrConsultationNotFound)
	}
	assert.Equal(t, circuitbreaker.StateClosed, w.State())
}

func TestPersistentFailureOpensBreaker(t *testing.T) {
	repo := newFlakyRepo()
	repo.failures = 1000
	w := newWrapper(repo, circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 1,
	})

	for i := 0; i < 2; i++ {
		assert.Error(t, w.Update(context.Background(), &domain.ConsultationRecord{ID: "c-1"}))
	}
	assert.Equal(t, circuitbreaker.StateOpen, w.State())

	// Open breaker fails fast without touching the store.
	before := repo.callCount()
	assert.Error(t, w.Update(context.Background(), &domain.ConsultationRecord{ID: "c-1"}))
	assert.Equal(t, before, repo.callCount())
}

func TestReadThroughAfterCreate(t *testing.T) {
	repo := newFlakyRepo()
	w := newWrapper(repo, circuitbreaker.DefaultConfig())

	require.NoError(t, w.Create(context.Background(), &domain.ConsultationRecord{ID: "c-1"}))
	record, err := w.GetByID(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationID("c-1"), record.ID)
}
