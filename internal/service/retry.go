package service

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-reconciliation/internal/domain"
	"github.com/Dhoini/Billing-reconciliation/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// withRetry выполняет операцию с экспоненциальными повторами.
// Повторяются только ошибки, которые шлюз пометил как временные;
// ошибки валидации и дубликаты прерывают повторы немедленно.
func withRetry(ctx context.Context, log *logger.Logger, name string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 30 * time.Second

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}

		if !domain.IsRetryable(err) {
			return backoff.Permanent(err)
		}

		log.Warnw("Retrying gateway operation", "operation", name, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx))
}
