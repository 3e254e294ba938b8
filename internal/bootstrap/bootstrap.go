package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/mission-stats/internal/config"
	"github.com/kirillkom/mission-stats/internal/core/domain"
	"github.com/kirillkom/mission-stats/internal/core/ports"
	"github.com/kirillkom/mission-stats/internal/core/usecase"
	"github.com/kirillkom/mission-stats/internal/infrastructure/imaging"
	"github.com/kirillkom/mission-stats/internal/infrastructure/layout"
	"github.com/kirillkom/mission-stats/internal/infrastructure/ocr/glyph"
	"github.com/kirillkom/mission-stats/internal/infrastructure/ocr/ollama"
	natsqueue "github.com/kirillkom/mission-stats/internal/infrastructure/queue/nats"
	"github.com/kirillkom/mission-stats/internal/infrastructure/repository/memory"
	"github.com/kirillkom/mission-stats/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/mission-stats/internal/infrastructure/resilience"
	"github.com/kirillkom/mission-stats/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Catalog *layout.Catalog
	Store   ports.RecordStore
	Reviews ports.ReviewStore
	Queue   ports.AuditQueue

	Gate      *usecase.SubmissionGateUseCase
	Retention *usecase.RetentionUseCase
	Audit     *usecase.AuditReconcilerUseCase
	Review    *usecase.ReviewUseCase

	StoreExecutor *resilience.Executor

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	catalog, err := layout.Load(cfg.LayoutFile)
	if err != nil {
		return nil, fmt.Errorf("load layouts: %w", err)
	}
	extra, err := parseResolutions(cfg.KnownResolutions)
	if err != nil {
		return nil, fmt.Errorf("parse known resolutions: %w", err)
	}

	store, reviews, closeStore, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	evidence, err := localfs.New(cfg.StoragePath)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("init evidence storage: %w", err)
	}

	queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.AuditSubject, natsqueue.Options{
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("init audit queue: %w", err)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		queue.Close()
		closeStore()
		return nil, err
	}

	storeExecutor := resilience.NewExecutor(storeRetryConfig(cfg))
	parser := usecase.NewRecordParserUseCase()
	normalizer := imaging.NewNormalizer(append(catalog.Known(), extra...), cfg.ResolutionTolerancePX)
	extractor := usecase.NewFieldExtractorUseCase(engine, usecase.ExtractorOptions{
		Timeout:       cfg.OCRTimeout,
		PerSubmission: cfg.OCRConcurrency,
	})

	gate := usecase.NewSubmissionGateUseCase(
		normalizer,
		catalog,
		extractor,
		parser,
		store,
		storeExecutor,
		evidence,
		usecase.GateConfig{
			ConfidenceLow:  cfg.ConfidenceLow,
			ConfidenceHigh: cfg.ConfidenceHigh,
			FieldThreshold: cfg.FieldConfidenceThreshold,
			MinPlayers:     cfg.MinPlayers,
			Retention:      cfg.Retention(),
		},
	)
	audit := usecase.NewAuditReconcilerUseCase(store, reviews, catalog, parser, usecase.AuditConfig{
		Window:     cfg.AuditWindow(),
		SampleRate: cfg.AuditSampleRate,
	})

	slog.Info("bootstrap_ready",
		"store_driver", cfg.StoreDriver,
		"ocr_engine", cfg.OCREngine,
		"resolutions", len(catalog.Known())+len(extra),
	)

	return &App{
		Config:  cfg,
		Catalog: catalog,
		Store:   store,
		Reviews: reviews,
		Queue:   queue,

		Gate:      gate,
		Retention: usecase.NewRetentionUseCase(store, evidence),
		Audit:     audit,
		Review:    usecase.NewReviewUseCase(store, reviews, catalog, parser),

		StoreExecutor: storeExecutor,

		closeFn: func() {
			queue.Close()
			closeStore()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openStores(ctx context.Context, cfg config.Config) (ports.RecordStore, ports.ReviewStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		slog.Warn("memory_store_enabled", "note", "records are lost on restart and not shared between processes")
		return memory.NewRecordStore(), memory.NewReviewStore(), func() {}, nil
	case "postgres", "":
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		records := postgres.NewRecordRepository(db)
		if err := records.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return records, postgres.NewReviewRepository(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func buildEngine(cfg config.Config) (ports.OCREngine, error) {
	switch cfg.OCREngine {
	case "glyph", "":
		return glyph.New(), nil
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaOCRModel).
			WithExecutor(resilience.NewExecutor(resilience.OCRConfig()))
		return ollama.NewEngine(client), nil
	default:
		return nil, fmt.Errorf("unknown OCR_ENGINE %q", cfg.OCREngine)
	}
}

func storeRetryConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	if cfg.StoreRetryAttempts > 0 {
		rc.RetryMaxAttempts = cfg.StoreRetryAttempts
	}
	if cfg.StoreRetryBackoff > 0 {
		rc.RetryInitialBackoff = cfg.StoreRetryBackoff
		rc.RetryMaxBackoff = max(rc.RetryMaxBackoff, 8*cfg.StoreRetryBackoff)
	}
	rc.BreakerEnabled = cfg.StoreBreakerEnabled
	return rc
}

func parseResolutions(values []string) ([]domain.Resolution, error) {
	out := make([]domain.Resolution, 0, len(values))
	for _, v := range values {
		res, err := domain.ParseResolution(v)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
