package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/infrastructure/resilience"
)

const auditWorkers = "auditors"

// auditRequest is the wire payload of an audit trigger.
type auditRequest struct {
	AsOf time.Time `json:"as_of"`
}

type Queue struct {
	conn     *nats.Conn
	subject  string
	executor *resilience.Executor
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("mission-stats"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		executor: options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// PublishAuditRequested asks one worker to reconcile as of the given instant.
func (q *Queue) PublishAuditRequested(ctx context.Context, asOf time.Time) error {
	payload, err := encodeAuditRequest(asOf)
	if err != nil {
		return publishError(err)
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishError(err)
}

// SubscribeAuditRequested blocks until ctx is done, handing each request to exactly
// one member of the worker queue group.
func (q *Queue) SubscribeAuditRequested(ctx context.Context, handler func(context.Context, time.Time) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, auditWorkers, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		asOf, err := decodeAuditRequest(msg.Data)
		if err != nil {
			level, event := handlerOutcome(err)
			slog.Log(ctx, level, event, "payload", string(msg.Data), "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		err = handler(handlerCtx, asOf)
		level, event := handlerOutcome(err)
		attrs := []any{"as_of", asOf}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		slog.Log(ctx, level, event, attrs...)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func encodeAuditRequest(asOf time.Time) ([]byte, error) {
	if asOf.IsZero() {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode audit request", errors.New("as_of is required"))
	}
	payload, err := json.Marshal(auditRequest{AsOf: asOf.UTC()})
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode audit request", err)
	}
	return payload, nil
}

func decodeAuditRequest(data []byte) (time.Time, error) {
	var req auditRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return time.Time{}, domain.WrapError(domain.ErrInvalidInput, "decode audit request", err)
	}
	if req.AsOf.IsZero() {
		return time.Time{}, domain.WrapError(domain.ErrInvalidInput, "decode audit request", errors.New("as_of is required"))
	}
	return req.AsOf.UTC(), nil
}
