// Package app assembles the store, processor, dispatcher and services from
// one Config. The binaries share it so they run the same pipeline.
package app

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/docintake/internal/async"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/dedup"
	"github.com/joseph-ayodele/docintake/internal/export"
	"github.com/joseph-ayodele/docintake/internal/extract"
	"github.com/joseph-ayodele/docintake/internal/ingest"
	"github.com/joseph-ayodele/docintake/internal/metrics"
	"github.com/joseph-ayodele/docintake/internal/ocr"
	"github.com/joseph-ayodele/docintake/internal/pipeline"
	"github.com/joseph-ayodele/docintake/internal/repository"
	"github.com/joseph-ayodele/docintake/internal/services/batch"
)

// App owns everything that has to be closed on exit.
type App struct {
	Config     *common.Config
	Batches    repository.BatchRepository
	Documents  repository.DocumentRepository
	Index      *dedup.Index
	Metrics    *metrics.Metrics
	Processor  *pipeline.Processor
	Dispatcher *async.Dispatcher
	Service    *batch.Service
	Export     *export.Service

	drv    *entsql.Driver
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// StoreConfig maps the database section of cfg onto repository.Config.
func StoreConfig(cfg common.DatabaseConfig) repository.Config {
	return repository.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}
}

// New opens and migrates the store, loads the dedup index and starts the
// dispatcher workers. Metrics register on reg; pass nil to skip them.
func New(ctx context.Context, cfg *common.Config, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureFolders(); err != nil {
		return nil, err
	}

	drv, pool, err := repository.Open(ctx, StoreConfig(cfg.Database), logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &App{Config: cfg, drv: drv, pool: pool, logger: logger}

	if err := repository.HealthCheck(ctx, drv, cfg.Database.DialTimeout, logger); err != nil {
		a.closeStore()
		return nil, fmt.Errorf("store health: %w", err)
	}
	if err := repository.Migrate(ctx, drv, logger); err != nil {
		a.closeStore()
		return nil, err
	}

	extractor, err := extract.New(cfg.Processing.ExtractionEngine)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.Batches = repository.NewBatchRepository(drv, logger)
	a.Documents = repository.NewDocumentRepository(drv, logger)

	a.Index = dedup.New()
	if err := a.Index.Load(ctx, a.Batches); err != nil {
		a.closeStore()
		return nil, fmt.Errorf("load dedup index: %w", err)
	}

	ocrCfg := ocr.ConfigFrom(cfg.OCR)
	runner := ocr.NewExecRunner(logger)

	var procOpts []pipeline.Option
	dispOpts := []async.Option{async.WithWorkers(cfg.Processing.Workers)}
	if reg != nil {
		a.Metrics = metrics.New(reg)
		procOpts = append(procOpts, pipeline.WithObserver(a.Metrics))
		dispOpts = append(dispOpts, async.WithObserver(a.Metrics))
	}

	a.Processor = pipeline.NewProcessor(
		cfg,
		a.Batches,
		a.Documents,
		extractor,
		ocr.NewPDFInspector(),
		ocr.NewRasterizer(ocrCfg, runner, logger),
		ocr.NewTesseract(ocrCfg, runner, logger),
		logger,
		procOpts...,
	)
	a.Dispatcher = async.NewDispatcher(a.Processor, logger, dispOpts...)
	a.Service = batch.NewService(cfg, a.Batches, a.Documents, a.Index, a.Dispatcher, logger)
	a.Export = export.NewService(a.Batches, a.Documents, logger)

	logger.Info("pipeline ready",
		"workers", cfg.Processing.Workers,
		"engine", cfg.Processing.ExtractionEngine,
		"known_hashes", a.Index.Len(),
	)
	return a, nil
}

// Intake builds the validate-and-create path feeding the dispatcher.
func (a *App) Intake() *ingest.Intake {
	var opts []ingest.IntakeOption
	if a.Metrics != nil {
		opts = append(opts, ingest.WithObserver(a.Metrics))
	}
	return ingest.NewIntake(a.Config, a.Batches, a.Index, a.Dispatcher, a.logger, opts...)
}

// Close stops the dispatcher, letting running batches finish unless ctx
// ends first, then closes the store.
func (a *App) Close(ctx context.Context) error {
	err := a.Dispatcher.Shutdown(ctx, true)
	a.closeStore()
	return err
}

func (a *App) closeStore() {
	repository.Close(a.drv, a.pool, a.logger)
}
