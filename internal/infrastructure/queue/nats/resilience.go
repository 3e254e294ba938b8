package nats

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/resilience"
)

// classifyPublishError decides whether a failed audit request publish is retried
// and whether it counts against the broker's circuit breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case isMalformedRequest(err):
		// the broker is healthy; resending the same request fails the same way
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case resilience.IsCircuitOpen(err), isBrokerUnreachable(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
}

func isMalformedRequest(err error) bool {
	return domain.IsKind(err, domain.ErrInvalidInput) ||
		errors.Is(err, nats.ErrBadSubject) ||
		errors.Is(err, nats.ErrMaxPayload)
}

func isBrokerUnreachable(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrConnectionDraining) ||
		errors.Is(err, nats.ErrStaleConnection) ||
		errors.Is(err, nats.ErrDisconnected)
}

// publishError marks broker outages temporary so callers can ask again later;
// a malformed request is reported as invalid input.
func publishError(err error) error {
	switch {
	case err == nil:
		return nil
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case isMalformedRequest(err):
		return domain.WrapError(domain.ErrInvalidInput, "publish audit request", err)
	case classifyPublishError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, "publish audit request", err)
	default:
		return err
	}
}

// handlerOutcome names the log event for a delivered audit request. Malformed
// payloads are dropped for good, while outages wait for the next scheduled run.
func handlerOutcome(err error) (slog.Level, string) {
	switch {
	case err == nil:
		return slog.LevelInfo, "audit_request_done"
	case errors.Is(err, context.Canceled):
		return slog.LevelInfo, "audit_request_interrupted"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return slog.LevelWarn, "audit_request_rejected"
	case domain.IsKind(err, domain.ErrTemporary),
		domain.IsKind(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return slog.LevelWarn, "audit_request_deferred"
	default:
		return slog.LevelError, "audit_request_failed"
	}
}
