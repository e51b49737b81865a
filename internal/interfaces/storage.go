package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/jobsift/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// RawScrapeStorage persists immutable raw scrape records
type RawScrapeStorage interface {
	SaveRawScrape(ctx context.Context, raw *models.RawScrape) error
	GetRawScrape(ctx context.Context, id string) (*models.RawScrape, error)
	ListRawScrapes(ctx context.Context, source string, limit int) ([]*models.RawScrape, error)
}

// CleanedScrapeStorage persists cleaned scrape records
type CleanedScrapeStorage interface {
	SaveCleanedScrape(ctx context.Context, cleaned *models.CleanedScrape) error
	GetCleanedScrape(ctx context.Context, id string) (*models.CleanedScrape, error)
	// FindByExternalID looks up a cleaned record by (external_job_id, source)
	FindByExternalID(ctx context.Context, externalID, source string) (*models.CleanedScrape, error)
	// ListRecentBySource returns records from the same source seen since the cutoff
	ListRecentBySource(ctx context.Context, source string, since time.Time) ([]*models.CleanedScrape, error)
	// ListRecent returns records from any source seen since the cutoff
	ListRecent(ctx context.Context, since time.Time) ([]*models.CleanedScrape, error)
	ListPendingReview(ctx context.Context) ([]*models.CleanedScrape, error)
}

// CompanyStorage persists canonical company records
type CompanyStorage interface {
	SaveCompany(ctx context.Context, company *models.Company) error
	GetCompany(ctx context.Context, id string) (*models.Company, error)
	GetCompanyByName(ctx context.Context, name string) (*models.Company, error)
	ListCompanies(ctx context.Context) ([]*models.Company, error)
}

// JobStorage persists canonical job records
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	// FindByExternalID looks up a job by (external_job_id, source)
	FindByExternalID(ctx context.Context, externalID, source string) (*models.Job, error)
	// ListAnalyzed returns jobs with analysis_completed = true
	ListAnalyzed(ctx context.Context) ([]*models.Job, error)
	ListByState(ctx context.Context, state models.AnalysisState) ([]*models.Job, error)
}

// QueueStorage is the durable backing of the analysis queue. Lease is the
// only way an entry moves from pending to in_flight, and it is atomic per
// entry, so two workers can never hold the same (job, tier).
type QueueStorage interface {
	// Enqueue inserts a pending entry; idempotent while a non-terminal entry
	// exists for the same (job, tier)
	Enqueue(ctx context.Context, jobID string, tier int, priority models.QueuePriority) error
	// Lease returns up to n pending entries with not_before <= now ordered by
	// (priority desc, not_before asc, created_at asc), marking them in_flight
	Lease(ctx context.Context, n int, now time.Time, leaseFor time.Duration) ([]*models.QueueEntry, error)
	// Complete finalizes a leased entry: done deletes it, retryable returns it
	// to pending with a new not_before, permanent failure retains it as failed
	MarkDone(ctx context.Context, entryID string) error
	MarkRetry(ctx context.Context, entryID string, reason string, notBefore time.Time, countAttempt bool) error
	MarkFailed(ctx context.Context, entryID string, reason string) error
	// ExpireLeases returns in_flight entries past their lease deadline to pending
	ExpireLeases(ctx context.Context, now time.Time) (int, error)
	GetEntry(ctx context.Context, entryID string) (*models.QueueEntry, error)
	Stats(ctx context.Context) (*models.QueueStats, error)
}

// DetectionStorage is the append-only security detection log
type DetectionStorage interface {
	AppendDetection(ctx context.Context, detection *models.SecurityDetection) error
	ListDetections(ctx context.Context, jobID string, limit int) ([]*models.SecurityDetection, error)
}

// PreferenceStorage persists scenarios, trained models, and job scores
type PreferenceStorage interface {
	SaveScenarios(ctx context.Context, set *models.ScenarioSet) error
	GetScenarios(ctx context.Context, userID string) (*models.ScenarioSet, error)
	SaveModel(ctx context.Context, model *models.PreferenceModel) error
	GetModel(ctx context.Context, userID string) (*models.PreferenceModel, error)
	SaveJobScore(ctx context.Context, score *models.JobScore) error
	GetJobScore(ctx context.Context, userID, jobID string) (*models.JobScore, error)
}

// EventLogStorage is the append-only event log
type EventLogStorage interface {
	AppendEvent(ctx context.Context, event *models.EventRecord) error
	ListEvents(ctx context.Context, eventType models.EventType, limit int) ([]*models.EventRecord, error)
}

// UsageStorage persists rate-limit counters, optimizer EMA state, and the
// LLM audit trail
type UsageStorage interface {
	GetCounters(ctx context.Context, modelID string) (*models.UsageCounters, error)
	SaveCounters(ctx context.Context, counters *models.UsageCounters) error
	GetEfficiency(ctx context.Context, tier int) (*models.EfficiencyState, error)
	SaveEfficiency(ctx context.Context, state *models.EfficiencyState) error
	AppendAudit(ctx context.Context, record *models.AuditRecord) error
}

// KeyValueStorage is a small string KV bucket (API keys, settings)
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context) (map[string]string, error)
}
