package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	badgerstore "github.com/ternarybob/jobsift/internal/storage/badger"
	"github.com/ternarybob/jobsift/internal/services/matching"
	"github.com/ternarybob/jobsift/internal/services/pipeline/adapters"
)

type testEnv struct {
	config   *common.Config
	ingest   *IngestService
	cleaner  *CleanerService
	deduper  *DedupService
	transfer *TransferService

	rawStorage     interfaces.RawScrapeStorage
	cleanedStorage interfaces.CleanedScrapeStorage
	companyStorage interfaces.CompanyStorage
	jobStorage     interfaces.JobStorage
	queueStorage   interfaces.QueueStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.InMemory = true

	logger := common.GetLogger()
	db, err := badgerstore.NewBadgerDB(logger, &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rawStorage := badgerstore.NewRawScrapeStorage(db, logger)
	cleanedStorage := badgerstore.NewCleanedScrapeStorage(db, logger)
	companyStorage := badgerstore.NewCompanyStorage(db, logger)
	jobStorage := badgerstore.NewJobStorage(db, logger)
	queueStorage := badgerstore.NewQueueStorage(db, logger, cfg.Queue.MaxAttempts)

	registry := adapters.NewRegistry()
	require.NoError(t, registry.Register(adapters.NewGenericAdapter("generic")))
	require.NoError(t, registry.Register(adapters.NewIndeedAdapter()))
	require.NoError(t, registry.Register(adapters.NewJobBankAdapter()))

	matcher := matching.NewMatcher(cfg)

	return &testEnv{
		config:         cfg,
		ingest:         NewIngestService(rawStorage),
		cleaner:        NewCleanerService(registry, cfg),
		deduper:        NewDedupService(cleanedStorage, matcher, cfg),
		transfer:       NewTransferService(cleanedStorage, companyStorage, jobStorage, queueStorage, nil, matcher, cfg),
		rawStorage:     rawStorage,
		cleanedStorage: cleanedStorage,
		companyStorage: companyStorage,
		jobStorage:     jobStorage,
		queueStorage:   queueStorage,
	}
}

// runPipeline ingests, cleans, and dedups one generic payload, returning the
// surviving cleaned record
func (e *testEnv) runPipeline(t *testing.T, source string, payload map[string]any) *models.CleanedScrape {
	t.Helper()
	ctx := context.Background()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	scrapeID, err := e.ingest.Ingest(ctx, IngestRequest{
		Source:    source,
		SourceURL: "https://example.ca/jobs",
		Payload:   data,
	})
	require.NoError(t, err)

	raw, err := e.rawStorage.GetRawScrape(ctx, scrapeID)
	require.NoError(t, err)

	cleaned, err := e.cleaner.Clean(raw)
	require.NoError(t, err)

	cleanedID, err := e.deduper.UpsertCleaned(ctx, cleaned)
	require.NoError(t, err)

	result, err := e.cleanedStorage.GetCleanedScrape(ctx, cleanedID)
	require.NoError(t, err)
	return result
}

func TestIngest_StoresPayloadVerbatim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"title":"Data Analyst","company":"Acme Inc","custom_field":42}`)
	scrapeID, err := env.ingest.Ingest(ctx, IngestRequest{
		Source:  "generic",
		Payload: payload,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, scrapeID)

	raw, err := env.rawStorage.GetRawScrape(ctx, scrapeID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(raw.Payload))
	assert.Equal(t, "generic", raw.Source)
}

func TestIngest_RequiresSourceAndPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.ingest.Ingest(ctx, IngestRequest{Payload: json.RawMessage(`{}`)})
	assert.Error(t, err)

	_, err = env.ingest.Ingest(ctx, IngestRequest{Source: "generic"})
	assert.Error(t, err)
}

func TestCleaner_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	raw := &models.RawScrape{
		ID:      common.NewScrapeID(),
		Source:  "no_such_provider",
		Payload: json.RawMessage(`{}`),
	}
	_, err := env.cleaner.Clean(raw)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestCleaner_NormalizesFields(t *testing.T) {
	env := newTestEnv(t)

	cleaned := env.runPipeline(t, "generic", map[string]any{
		"title":            "  Software Developer ",
		"company":          "acme widgets inc",
		"location":         "Toronto, ON, Canada",
		"work_arrangement": "Hybrid",
		"salary":           "$80,000 - $100,000 per year",
		"description":      "We build widgets.\n\nYou will write Go.",
		"external_job_id":  "ext-100",
	})

	assert.Equal(t, "Software Developer", cleaned.JobTitle)
	assert.Equal(t, "Acme Widgets Inc", cleaned.CompanyName)
	assert.Equal(t, "Toronto", cleaned.Location.City)
	assert.Equal(t, "Ontario", cleaned.Location.Province)
	assert.Equal(t, "Canada", cleaned.Location.Country)
	assert.Equal(t, models.WorkHybrid, cleaned.WorkArrangement)
	assert.Equal(t, 80000.0, cleaned.Salary.Low)
	assert.Equal(t, 100000.0, cleaned.Salary.High)
	assert.Equal(t, "CAD", cleaned.Salary.Currency)
	assert.Equal(t, models.SalaryAnnual, cleaned.Salary.Period)
	assert.Equal(t, 1, cleaned.DuplicatesCount)
	assert.Len(t, cleaned.RawScrapeIDs, 1)
}

func TestParseSalary(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		low      float64
		high     float64
		currency string
		period   models.SalaryPeriod
	}{
		{"annual range", "$80,000 - $100,000 a year", 80000, 100000, "CAD", models.SalaryAnnual},
		{"hourly single", "CAD 45.50/hour", 45.50, 45.50, "CAD", models.SalaryHourly},
		{"k shorthand", "90k to 110k per year", 90000, 110000, "CAD", models.SalaryAnnual},
		{"usd explicit", "USD $120,000 annually", 120000, 120000, "USD", models.SalaryAnnual},
		{"bare hourly figure", "$25.00", 25, 25, "CAD", models.SalaryHourly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSalary(tt.text, "CAD")
			assert.Equal(t, tt.low, got.Low)
			assert.Equal(t, tt.high, got.High)
			assert.Equal(t, tt.currency, got.Currency)
			assert.Equal(t, tt.period, got.Period)
		})
	}

	t.Run("unparseable", func(t *testing.T) {
		assert.True(t, parseSalary("competitive compensation", "CAD").IsEmpty())
	})
}

func TestParseLocation(t *testing.T) {
	provinces := common.NewDefaultConfig().Pipeline.ProvinceTable

	loc := parseLocation("Vancouver, BC", provinces)
	assert.Equal(t, "Vancouver", loc.City)
	assert.Equal(t, "British Columbia", loc.Province)
	assert.Equal(t, "Canada", loc.Country)

	loc = parseLocation("123 Main St, Calgary, Alberta, Canada", provinces)
	assert.Equal(t, "123 Main St", loc.StreetAddress)
	assert.Equal(t, "Calgary", loc.City)
	assert.Equal(t, "Alberta", loc.Province)

	assert.True(t, parseLocation("", provinces).IsEmpty())
}

func TestConfidenceScore(t *testing.T) {
	scorer := NewConfidenceScorer()
	now := time.Now()

	rich := &models.CleanedScrape{
		JobTitle:        "Software Engineer",
		CompanyName:     "Acme Inc",
		Description:     "We build widgets for the energy sector.\n\nYou will design, build and operate Go services. Our stack spans ingestion pipelines, queue workers and analytics. You will own features end to end and mentor junior developers while working with product on roadmap priorities. We offer mentorship, a learning budget and flexible hours for every engineer on the team.",
		Location:        models.Location{City: "Toronto"},
		WorkArrangement: models.WorkHybrid,
		JobType:         "Full-time",
		PostingDate:     &now,
		CompanyWebsite:  "https://acme.example",
		ExternalJobID:   "ext-1",
	}
	sparse := &models.CleanedScrape{
		JobTitle:    "Software Engineer",
		CompanyName: "N/A",
	}

	richScore := scorer.Score(rich)
	sparseScore := scorer.Score(sparse)

	assert.Greater(t, richScore, sparseScore)
	assert.GreaterOrEqual(t, richScore, 0.9)
	assert.LessOrEqual(t, richScore, 1.0)
	assert.LessOrEqual(t, sparseScore, 0.35)

	// Two decimals
	assert.Equal(t, roundTwoDecimals(richScore), richScore)
}

func TestDedup_SameExternalID(t *testing.T) {
	env := newTestEnv(t)

	payload := map[string]any{
		"title":           "Software Engineer",
		"company":         "Acme Inc",
		"external_job_id": "ext-7",
		"description":     "Original description",
	}

	first := env.runPipeline(t, "generic", payload)
	second := env.runPipeline(t, "generic", payload)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.DuplicatesCount)
	assert.Len(t, second.RawScrapeIDs, 2)
}

func TestDedup_FuzzyAcrossSources(t *testing.T) {
	env := newTestEnv(t)

	first := env.runPipeline(t, "generic", map[string]any{
		"title":           "Software Engineer",
		"company":         "Acme Inc",
		"external_job_id": "src-a-1",
		"description":     "Long description of the role.\n\nMany details about the work, the team, the stack and the growth path for the successful candidate across several paragraphs of posting text.",
	})
	second := env.runPipeline(t, "jobbank", map[string]any{
		"title":     "Software Engineer II",
		"employer":  "Acme, Inc.",
		"job_id":    "src-b-9",
		"city":      "Toronto",
		"province":  "ON",
	})

	assert.Equal(t, first.ID, second.ID, "expected fuzzy dedup to collapse the postings")
	assert.Equal(t, 2, second.DuplicatesCount)
	assert.Len(t, second.RawScrapeIDs, 2)
}

func TestDedup_HigherConfidenceWinsFieldByField(t *testing.T) {
	env := newTestEnv(t)

	// Low-quality first: no description, no location
	first := env.runPipeline(t, "generic", map[string]any{
		"title":           "Marketing Manager",
		"company":         "Globex Corp",
		"external_job_id": "g-1",
	})
	assert.Empty(t, first.Description)

	// High-quality duplicate arrives later
	second := env.runPipeline(t, "generic", map[string]any{
		"title":            "Marketing Manager",
		"company":          "Globex Corp",
		"external_job_id":  "g-1",
		"location":         "Ottawa, ON",
		"work_arrangement": "remote",
		"description":      "Own the marketing function.\n\nBuild campaigns, manage the budget and report to the VP. You will hire and grow a small team over the next year while owning brand, demand generation and analytics end to end.",
	})

	assert.Equal(t, first.ID, second.ID)
	assert.NotEmpty(t, second.Description, "winner fields should come from the higher-confidence record")
	assert.Equal(t, "Ottawa", second.Location.City)
	assert.Equal(t, models.WorkRemote, second.WorkArrangement)
}

func TestTransfer_CreatesJobAndEnqueuesTier1(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cleaned := env.runPipeline(t, "generic", map[string]any{
		"title":           "Data Engineer",
		"company":         "Initech Ltd",
		"external_job_id": "it-1",
		"description":     "Pipelines all day.",
	})

	report, err := env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{cleaned})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Failed)

	job, err := env.jobStorage.FindByExternalID(ctx, "it-1", "generic")
	require.NoError(t, err)
	assert.Equal(t, "Data Engineer", job.Title)
	assert.Equal(t, models.AnalysisTier1Pending, job.AnalysisState)
	assert.False(t, job.Protected())

	company, err := env.companyStorage.GetCompany(ctx, job.CompanyID)
	require.NoError(t, err)
	assert.Equal(t, "Initech Ltd", company.Name)

	entry, err := env.queueStorage.GetEntry(ctx, models.QueueEntryID(job.ID, 1))
	require.NoError(t, err)
	assert.Equal(t, models.QueuePending, entry.State)
	assert.Equal(t, models.PriorityNormal, entry.Priority)
}

func TestTransfer_ProtectedJobKeepsIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := env.runPipeline(t, "generic", map[string]any{
		"title":           "Senior Marketing Manager",
		"company":         "Acme Inc",
		"external_job_id": "mk-1",
		"description":     "Rich original description.\n\nDetailed responsibilities and requirements covering strategy, demand generation, analytics and team leadership across multiple paragraphs of high quality posting text.",
	})

	report, err := env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{original})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	job, err := env.jobStorage.FindByExternalID(ctx, "mk-1", "generic")
	require.NoError(t, err)

	// Simulate tier-1 completion
	job.AnalysisCompleted = true
	job.AnalysisState = models.AnalysisTier1Done
	job.TierRecords = []models.TierRecord{{Tier: 1, Completed: true, CompletedAt: time.Now().UTC()}}
	job.Tier1 = &models.TierOneAnalysis{Seniority: "senior"}
	require.NoError(t, env.jobStorage.SaveJob(ctx, job))
	previousSeen := job.LastSeenAt

	// Same opening re-appears under an abbreviated title with a worse
	// description and a different external id
	reappearance := env.runPipeline(t, "generic", map[string]any{
		"title":           "Sr. Marketing Manager",
		"company":         "Acme, Inc.",
		"external_job_id": "mk-1-repost",
		"description":     "short",
	})

	report, err = env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{reappearance})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Protected)
	assert.Equal(t, 0, report.Created)

	refreshed, err := env.jobStorage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Senior Marketing Manager", refreshed.Title, "identity must not change")
	assert.Equal(t, job.Description, refreshed.Description, "description must not change")
	assert.True(t, refreshed.LastSeenAt.After(previousSeen) || refreshed.LastSeenAt.Equal(previousSeen))
	assert.Contains(t, refreshed.ProvenanceCleanedIDs, reappearance.ID)
}

func TestTransfer_ProtectedJobRetitledSameExternalID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	original := env.runPipeline(t, "generic", map[string]any{
		"title":           "Senior Marketing Manager",
		"company":         "Acme Inc",
		"external_job_id": "mk-2",
		"description":     "Rich original description.\n\nDetailed responsibilities and requirements covering strategy, demand generation, analytics and team leadership across multiple paragraphs of high quality posting text.",
	})

	report, err := env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{original})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)

	job, err := env.jobStorage.FindByExternalID(ctx, "mk-2", "generic")
	require.NoError(t, err)
	job.AnalysisCompleted = true
	job.AnalysisState = models.AnalysisTier1Done
	job.TierRecords = []models.TierRecord{{Tier: 1, Completed: true, CompletedAt: time.Now().UTC()}}
	job.Tier1 = &models.TierOneAnalysis{Seniority: "senior"}
	require.NoError(t, env.jobStorage.SaveJob(ctx, job))

	// Employer retitled the posting: title similarity falls far below the
	// match threshold, so only the external id still names the opening
	repost := &models.CleanedScrape{
		ID:            common.NewCleanedID(),
		Source:        "generic",
		ExternalJobID: "mk-2",
		JobTitle:      "Growth Lead",
		CompanyName:   "Acme Inc",
		Description:   "junk",
	}

	report, err = env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{repost})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Protected)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Created)

	refreshed, err := env.jobStorage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "Senior Marketing Manager", refreshed.Title, "identity must not change")
	assert.NotEqual(t, "junk", refreshed.Description)
	assert.Contains(t, refreshed.ProvenanceCleanedIDs, repost.ID)
}

func TestTransfer_AmbiguousCompanyHeldForReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two distinct companies that both resolve to "acme" after suffix
	// stripping
	now := time.Now().UTC()
	require.NoError(t, env.companyStorage.SaveCompany(ctx, &models.Company{
		ID: common.NewCompanyID(), Name: "Acme Ltd", CreatedAt: now,
	}))
	require.NoError(t, env.companyStorage.SaveCompany(ctx, &models.Company{
		ID: common.NewCompanyID(), Name: "Acme Corp", CreatedAt: now,
	}))

	cleaned := env.runPipeline(t, "generic", map[string]any{
		"title":           "Accountant",
		"company":         "Acme Co",
		"external_job_id": "am-1",
	})

	report, err := env.transfer.TransferToJobs(ctx, []*models.CleanedScrape{cleaned})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Created)

	held, err := env.cleanedStorage.ListPendingReview(ctx)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, cleaned.ID, held[0].ID)
	assert.Contains(t, held[0].ReviewReason, "ambiguous")
}
