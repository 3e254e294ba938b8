package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/mission-stats/internal/bootstrap"
	"github.com/kirillkom/mission-stats/internal/config"
	"github.com/kirillkom/mission-stats/internal/observability/logging"
	"github.com/kirillkom/mission-stats/internal/observability/metrics"
	"github.com/kirillkom/mission-stats/internal/scheduler"
)

const auditTimeout = 10 * time.Minute

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("mission-stats-worker", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	sched := scheduler.New(workerMetrics)
	if err := sched.Add(cfg.AuditCron, "audit_request", func(ctx context.Context) error {
		return app.Queue.PublishAuditRequested(ctx, time.Now().UTC())
	}); err != nil {
		slog.Error("schedule_failed", "error", err)
		os.Exit(1)
	}
	if err := sched.Add(cfg.PurgeCron, "retention_purge", func(ctx context.Context) error {
		removed, err := app.Retention.PurgeExpired(ctx, time.Now().UTC())
		workerMetrics.ObservePurge(removed)
		return err
	}); err != nil {
		slog.Error("schedule_failed", "error", err)
		os.Exit(1)
	}
	go sched.Run(ctx)

	slog.Info("worker_subscribed", "subject", cfg.AuditSubject)
	err = app.Queue.SubscribeAuditRequested(ctx, func(handlerCtx context.Context, asOf time.Time) error {
		workerMetrics.ObserveRequestLag(time.Since(asOf))
		runCtx, cancel := context.WithTimeout(handlerCtx, auditTimeout)
		defer cancel()

		workerMetrics.StartJob()
		start := time.Now()
		report, err := app.Audit.Run(runCtx, asOf)
		workerMetrics.FinishJob("audit", time.Since(start), err)
		if err != nil {
			return err
		}
		workerMetrics.ObserveAudit(report)
		slog.Info("audit_report",
			"as_of", report.AsOf,
			"candidates", report.Candidates,
			"corrected", report.Corrected,
			"confirmed", report.Confirmed,
			"pending", report.Pending,
			"flags", len(report.Flags),
		)
		return nil
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
