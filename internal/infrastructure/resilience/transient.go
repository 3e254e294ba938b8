package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/mission-stats/internal/core/domain"
)

// TransientClassifier retries store outages and temporary failures. Caller
// cancellation is neither retried nor counted against the breaker.
func TransientClassifier(err error) ErrorClassification {
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{}
	}
	transient := domain.IsKind(err, domain.ErrStoreUnavailable) ||
		domain.IsKind(err, domain.ErrTemporary) ||
		errors.Is(err, context.DeadlineExceeded)
	return ErrorClassification{
		Retryable:     transient,
		RecordFailure: transient,
	}
}

// Do runs fn under the executor with TransientClassifier. An open breaker is
// reported as a store outage so callers see one failure class.
func (e *Executor) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := e.Execute(ctx, operation, fn, TransientClassifier)
	if err != nil && IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrStoreUnavailable, operation, err)
	}
	return err
}
