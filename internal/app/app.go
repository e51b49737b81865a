package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/ternarybob/jobsift/internal/services/analysis"
	"github.com/ternarybob/jobsift/internal/services/events"
	"github.com/ternarybob/jobsift/internal/services/llm"
	"github.com/ternarybob/jobsift/internal/services/maintenance"
	"github.com/ternarybob/jobsift/internal/services/matching"
	"github.com/ternarybob/jobsift/internal/services/pipeline"
	"github.com/ternarybob/jobsift/internal/services/pipeline/adapters"
	"github.com/ternarybob/jobsift/internal/services/preferences"
	badgerstore "github.com/ternarybob/jobsift/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	db *badgerstore.BadgerDB

	// Storage
	RawScrapes     interfaces.RawScrapeStorage
	CleanedScrapes interfaces.CleanedScrapeStorage
	Companies      interfaces.CompanyStorage
	Jobs           interfaces.JobStorage
	Queue          interfaces.QueueStorage
	Detections     interfaces.DetectionStorage
	Preferences    interfaces.PreferenceStorage
	EventLog       interfaces.EventLogStorage
	Usage          interfaces.UsageStorage
	KV             interfaces.KeyValueStorage

	// Pipeline
	Ingest   *pipeline.IngestService
	Cleaner  *pipeline.CleanerService
	Deduper  *pipeline.DedupService
	Transfer *pipeline.TransferService
	Matcher  *matching.Matcher

	// Analysis
	Events      interfaces.EventService
	Provider    *llm.ProviderFactory
	Limiter     *analysis.RateLimiter
	Optimizer   *analysis.Optimizer
	Security    *analysis.SecurityManager
	Scheduler   *analysis.Scheduler
	Maintenance *maintenance.Scheduler

	// Preferences
	Trainer *preferences.Trainer
	Scorer  *preferences.Scorer
}

// New wires the application from configuration. Storage first, then the
// services in dependency order.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	a := &App{
		Config: config,
		Logger: logger,
		db:     db,

		RawScrapes:     badgerstore.NewRawScrapeStorage(db, logger),
		CleanedScrapes: badgerstore.NewCleanedScrapeStorage(db, logger),
		Companies:      badgerstore.NewCompanyStorage(db, logger),
		Jobs:           badgerstore.NewJobStorage(db, logger),
		Queue:          badgerstore.NewQueueStorage(db, logger, config.Queue.MaxAttempts),
		Detections:     badgerstore.NewDetectionStorage(db, logger),
		Preferences:    badgerstore.NewPreferenceStorage(db, logger),
		EventLog:       badgerstore.NewEventLogStorage(db, logger),
		Usage:          badgerstore.NewUsageStorage(db, logger),
		KV:             badgerstore.NewKVStorage(db, logger),
	}

	a.Events = events.NewService(a.EventLog)

	registry := adapters.NewRegistry()
	for _, adapter := range []interfaces.ScrapeAdapter{
		adapters.NewGenericAdapter("generic"),
		adapters.NewIndeedAdapter(),
		adapters.NewJobBankAdapter(),
	} {
		if err := registry.Register(adapter); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to register adapter: %w", err)
		}
	}

	a.Matcher = matching.NewMatcher(config)
	a.Ingest = pipeline.NewIngestService(a.RawScrapes)
	a.Cleaner = pipeline.NewCleanerService(registry, config)
	a.Deduper = pipeline.NewDedupService(a.CleanedScrapes, a.Matcher, config)
	a.Transfer = pipeline.NewTransferService(a.CleanedScrapes, a.Companies, a.Jobs, a.Queue, a.Events, a.Matcher, config)

	a.Provider = llm.NewProviderFactory(&config.Claude, &config.Gemini, &config.LLM, a.KV, logger)
	a.Limiter = analysis.NewRateLimiter(&config.LLM, a.Usage, a.Events)
	a.Optimizer = analysis.NewOptimizer(config, a.Usage)

	a.Security, err = analysis.NewSecurityManager(&config.Security, a.Detections, a.Events)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	a.Scheduler = analysis.NewScheduler(config, a.Queue, a.Jobs, a.Usage, a.Events, a.Optimizer, a.Security, a.Limiter, a.Provider)
	a.Maintenance = maintenance.NewScheduler(&config.Maintenance, a.Queue, a.Limiter)

	a.Trainer = preferences.NewTrainer(&config.Preferences, a.Preferences, a.Events)
	a.Scorer = preferences.NewScorer(&config.Preferences, a.Preferences)

	logger.Info().
		Str("data_path", config.Storage.Badger.Path).
		Int("llm_concurrency", config.LLM.Concurrency).
		Msg("Application wired")

	return a, nil
}

// Start begins the background loops: maintenance sweeps and the analysis
// scheduler. Returns once both are running.
func (a *App) Start(ctx context.Context) error {
	if err := a.Maintenance.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}

	go a.Scheduler.Run(ctx)
	return nil
}

// ProcessScrape runs one provider record through ingest, clean, and dedup.
// Synchronous per request; returns the cleaned record id.
func (a *App) ProcessScrape(ctx context.Context, req pipeline.IngestRequest) (string, error) {
	scrapeID, err := a.Ingest.Ingest(ctx, req)
	if err != nil {
		return "", err
	}

	raw, err := a.RawScrapes.GetRawScrape(ctx, scrapeID)
	if err != nil {
		return "", fmt.Errorf("failed to reload raw scrape: %w", err)
	}

	cleaned, err := a.Cleaner.Clean(raw)
	if err != nil {
		return "", err
	}

	return a.Deduper.UpsertCleaned(ctx, cleaned)
}

// TransferRecent moves cleaned records seen inside the dedup window into
// canonical jobs, in batches of the configured transfer size
func (a *App) TransferRecent(ctx context.Context) (*pipeline.TransferReport, error) {
	since := time.Now().UTC().AddDate(0, 0, -a.Config.Pipeline.DedupWindowDays)
	batch, err := a.CleanedScrapes.ListRecent(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleaned records: %w", err)
	}
	if max := a.Config.Pipeline.TransferBatchSize; len(batch) > max {
		batch = batch[:max]
	}
	return a.Transfer.TransferToJobs(ctx, batch)
}

// QueueStats exposes queue counts by state and tier for external polling
func (a *App) QueueStats(ctx context.Context) (*models.QueueStats, error) {
	return a.Queue.Stats(ctx)
}

// Close shuts down in reverse dependency order: stop leasing, finish
// in-flight work, stop cron, flush events, close storage
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Maintenance.Stop()
	_ = a.Events.Close()
	_ = a.Provider.Close()

	if err := a.db.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
	}
	a.Logger.Info().Msg("Application stopped")
}
