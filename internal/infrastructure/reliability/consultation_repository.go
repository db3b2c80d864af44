package reliability

import (
	"context"

	"vitalink/internal/core/domain"
	"vitalink/internal/core/ports"
	"vitalink/pkg/circuitbreaker"
	"vitalink/pkg/retry"

	"go.uber.org/zap"
)

// ConsultationRepositoryWrapper adds retry and circuit-breaker protection to a
// consultation repository backed by an external store. Not-found errors pass
// through untouched; only transport failures trip the breaker.
type ConsultationRepositoryWrapper struct {
	repo   ports.ConsultationRepository
	logger *zap.SugaredLogger

	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewConsultationRepositoryWrapper(
	repo ports.ConsultationRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ConsultationRepositoryWrapper {
	wrapper := &ConsultationRepositoryWrapper{
		repo:        repo,
		logger:      logger,
		retryConfig: retryConfig,
		breaker:     circuitbreaker.New(cbConfig),
	}

	wrapper.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("consultation store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

func (w *ConsultationRepositoryWrapper) execute(ctx context.Context, op func() error) error {
	return w.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, w.retryConfig, func() error {
			err := op()
			if err == domain.ErrConsultationNotFound {
				// Definitive answer from the store, not a failure.
				return nil
			}
			return err
		})
	})
}

func (w *ConsultationRepositoryWrapper) Create(ctx context.Context, record *domain.ConsultationRecord) error {
	return w.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, w.retryConfig, func() error {
			return w.repo.Create(ctx, record)
		})
	})
}

func (w *ConsultationRepositoryWrapper) GetByID(ctx context.Context, id domain.ConsultationID) (*domain.ConsultationRecord, error) {
	var record *domain.ConsultationRecord
	var opErr error
	err := w.execute(ctx, func() error {
		record, opErr = w.repo.GetByID(ctx, id)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return record, opErr
}

func (w *ConsultationRepositoryWrapper) Update(ctx context.Context, record *domain.ConsultationRecord) error {
	var opErr error
	err := w.execute(ctx, func() error {
		opErr = w.repo.Update(ctx, record)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

func (w *ConsultationRepositoryWrapper) List(ctx context.Context) ([]*domain.ConsultationRecord, error) {
	var records []*domain.ConsultationRecord
	err := w.breaker.Execute(ctx, func() error {
		return retry.Retry(ctx, w.retryConfig, func() error {
			var err error
			records, err = w.repo.List(ctx)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (w *ConsultationRepositoryWrapper) Delete(ctx context.Context, id domain.ConsultationID) error {
	var opErr error
	err := w.execute(ctx, func() error {
		opErr = w.repo.Delete(ctx, id)
		return opErr
	})
	if err != nil {
		return err
	}
	return opErr
}

// State exposes the breaker state for health reporting.
func (w *ConsultationRepositoryWrapper) State() circuitbreaker.State {
	return w.breaker.GetState()
}
