package analysis

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/ternarybob/jobsift/internal/services/llm"
)

// Retry policy: exponential backoff base 2s capped at 5 minutes with ±20%
// jitter. Validation failures get a shorter leash than infrastructure ones.
const (
	backoffBase           = 2 * time.Second
	backoffCap            = 5 * time.Minute
	backoffJitter         = 0.20
	validationMaxAttempts = 3
	minCallTimeout        = 30 * time.Second
)

// Scheduler runs the tiered analysis loop: lease, plan, secure, dispatch,
// validate, persist, advance. One logical worker with bounded internal
// concurrency for calls in flight.
type Scheduler struct {
	config     *common.Config
	queue      interfaces.QueueStorage
	jobs       interfaces.JobStorage
	usage      interfaces.UsageStorage
	events     interfaces.EventService
	optimizer  *Optimizer
	security   *SecurityManager
	prompts    *PromptBuilder
	validator  *Validator
	limiter    *RateLimiter
	provider   interfaces.LLMProvider
	logger     arbor.ILogger

	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewScheduler wires the analysis scheduler
func NewScheduler(
	config *common.Config,
	queue interfaces.QueueStorage,
	jobs interfaces.JobStorage,
	usage interfaces.UsageStorage,
	events interfaces.EventService,
	optimizer *Optimizer,
	security *SecurityManager,
	limiter *RateLimiter,
	provider interfaces.LLMProvider,
) *Scheduler {
	return &Scheduler{
		config:    config,
		queue:     queue,
		jobs:      jobs,
		usage:     usage,
		events:    events,
		optimizer: optimizer,
		security:  security,
		prompts:   NewPromptBuilder(&config.Security),
		validator: NewValidator(),
		limiter:   limiter,
		provider:  provider,
		logger:    common.GetLogger(),
		sem:       make(chan struct{}, config.LLM.Concurrency),
		stopCh:    make(chan struct{}),
	}
}

// Run drives the scheduler loop until the context is cancelled or Stop is
// called. An empty queue is polled with backoff; the loop never spins.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Int("concurrency", s.config.LLM.Concurrency).
		Msg("Analysis scheduler started")

	pollInterval := s.config.PollInterval()
	maxPoll := s.config.MaxPollInterval()
	idleWait := pollInterval

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return
		case <-s.stopCh:
			s.drain()
			return
		default:
		}

		leased, err := s.queue.Lease(ctx, s.config.LLM.Concurrency, time.Now().UTC(), s.config.LeaseTimeout())
		if err != nil {
			s.logger.Error().Err(err).Msg("Queue lease failed")
			s.sleep(ctx, idleWait)
			continue
		}

		if len(leased) == 0 {
			s.sleep(ctx, idleWait)
			idleWait *= 2
			if idleWait > maxPoll {
				idleWait = maxPoll
			}
			continue
		}
		idleWait = pollInterval

		for tier, group := range groupByTier(leased) {
			tier, group := tier, group
			s.sem <- struct{}{}
			s.wg.Add(1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						// Worker boundary: unexpected panics are transient
						// infrastructure, never fatal to the loop
						s.logger.Error().Str("panic", fmt.Sprint(r)).Int("tier", tier).Msg("Recovered panic in analysis worker")
						for _, entry := range group {
							s.retryEntry(ctx, entry, fmt.Sprintf("worker panic: %v", r), true)
						}
					}
					<-s.sem
					s.wg.Done()
				}()
				s.processGroup(ctx, tier, group)
			}()
		}
	}
}

// Stop ends the loop gracefully: no new leases, in-flight calls finish or
// time out, leases expire naturally so recovery is automatic
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info().Msg("Analysis scheduler stopped")
}

func (s *Scheduler) drain() {
	s.wg.Wait()
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case <-time.After(d):
	}
}

func groupByTier(entries []*models.QueueEntry) map[int][]*models.QueueEntry {
	groups := make(map[int][]*models.QueueEntry)
	for _, e := range entries {
		groups[e.Tier] = append(groups[e.Tier], e)
	}
	return groups
}

// processGroup runs one tier batch end to end. Per-batch failures return the
// whole batch to the queue.
func (s *Scheduler) processGroup(ctx context.Context, tier int, entries []*models.QueueEntry) {
	jobs, entries := s.loadJobs(ctx, tier, entries)
	if len(jobs) == 0 {
		return
	}

	plan, err := s.optimizer.Plan(ctx, tier, jobs)
	if err != nil {
		for _, entry := range entries {
			s.retryEntry(ctx, entry, err.Error(), true)
		}
		return
	}

	// Entries the plan could not fit go straight back to pending
	for i := plan.BatchSize; i < len(entries); i++ {
		s.retryEntry(ctx, entries[i], "", false)
	}
	jobs = jobs[:plan.BatchSize]
	entries = entries[:plan.BatchSize]

	estCost := s.optimizer.EstimateCostUSD(plan, jobs)
	if err := s.limiter.Acquire(ctx, plan.ModelID, estCost); err != nil {
		var denial *Denial
		if errors.As(err, &denial) {
			for _, entry := range entries {
				s.retryAt(ctx, entry, string(denial.Reason), denial.Until)
			}
			return
		}
		for _, entry := range entries {
			s.retryEntry(ctx, entry, err.Error(), true)
		}
		return
	}

	s.dispatch(ctx, tier, plan, jobs, entries, estCost)
}

// dispatch builds the secured prompt, calls the provider, validates, and
// persists. The spend reservation is committed on success and rolled back on
// failure.
func (s *Scheduler) dispatch(ctx context.Context, tier int, plan *BatchPlan, jobs []*models.Job, entries []*models.QueueEntry, reservedUSD float64) {
	token, err := NewSecurityToken()
	if err != nil {
		_ = s.limiter.Rollback(ctx, plan.ModelID, reservedUSD)
		for _, entry := range entries {
			s.retryEntry(ctx, entry, err.Error(), true)
		}
		return
	}

	for _, job := range jobs {
		s.security.ScanJobText(ctx, job.ID, job.Description+"\n"+job.Requirements)
	}

	model, _ := s.config.ModelByID(plan.ModelID)
	request := &interfaces.ContentRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: s.prompts.BuildPrompt(tier, jobs, token)},
		},
		SystemInstruction: s.prompts.SystemInstruction(token),
		Model:             plan.ModelID,
		MaxTokens:         plan.MaxOutputTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout(plan.MaxOutputTokens, model.OutputMsPerToken))
	defer cancel()

	start := time.Now()
	resp, err := s.provider.GenerateContent(callCtx, request)
	duration := time.Since(start)

	batchID := common.NewBatchID()
	if err != nil {
		_ = s.limiter.Rollback(ctx, plan.ModelID, reservedUSD)
		s.handleCallError(ctx, tier, plan, entries, err)
		s.audit(ctx, batchID, tier, plan, 0, 0, duration, "retryable_failure", err.Error())
		return
	}

	actualCost := s.actualCostUSD(model, resp.InputTokens, resp.OutputTokens)

	results, err := s.validator.Validate(tier, token, plan.JobIDs, resp.Text)
	if err != nil {
		// The call happened and cost real money even though the response is
		// unusable
		_ = s.limiter.Commit(ctx, plan.ModelID, reservedUSD, actualCost)
		if errors.Is(err, ErrTokenMismatch) {
			for _, job := range jobs {
				s.security.RecordTokenMismatch(ctx, job.ID, token, resp.Text)
			}
		}
		for _, entry := range entries {
			s.retryValidation(ctx, entry, err.Error())
		}
		s.audit(ctx, batchID, tier, plan, resp.InputTokens, resp.OutputTokens, duration, "retryable_failure", "validation: "+err.Error())
		return
	}

	_ = s.limiter.Commit(ctx, plan.ModelID, reservedUSD, actualCost)
	_ = s.optimizer.RecordUsage(ctx, tier, plan.MaxOutputTokens, resp.OutputTokens)

	s.persistResults(ctx, tier, plan, jobs, entries, results, resp, duration)
	s.audit(ctx, batchID, tier, plan, resp.InputTokens, resp.OutputTokens, duration, "done", "")
}

// handleCallError classifies a provider error into the retry policy:
// rate-limit errors requeue without counting an attempt, transient errors
// back off exponentially, payload errors are permanent
func (s *Scheduler) handleCallError(ctx context.Context, tier int, plan *BatchPlan, entries []*models.QueueEntry, err error) {
	switch {
	case llm.IsRateLimitError(err):
		notBefore := time.Now().UTC().Add(backoff(0))
		if delay := llm.ExtractRetryDelay(err); delay > 0 {
			notBefore = time.Now().UTC().Add(delay)
		}
		for _, entry := range entries {
			s.retryAt(ctx, entry, "provider rate limited", notBefore)
		}
	case llm.IsRetryableError(err) || errors.Is(err, context.DeadlineExceeded):
		for _, entry := range entries {
			s.retryEntry(ctx, entry, err.Error(), true)
		}
	default:
		for _, entry := range entries {
			s.failEntry(ctx, entry, err.Error())
		}
		s.markJobsFailed(ctx, tier, plan.JobIDs, err.Error())
	}
}

// persistResults writes each job's tier analysis in a single save per job,
// appends the tier record, marks the entry done, and advances the pipeline
func (s *Scheduler) persistResults(ctx context.Context, tier int, plan *BatchPlan, jobs []*models.Job, entries []*models.QueueEntry, results []*JobAnalysis, resp *interfaces.ContentResponse, duration time.Duration) {
	byJob := make(map[string]*JobAnalysis, len(results))
	for _, r := range results {
		byJob[r.JobID] = r
	}
	entryByJob := make(map[string]*models.QueueEntry, len(entries))
	for _, e := range entries {
		entryByJob[e.JobID] = e
	}

	perJobTokens := 0
	if len(jobs) > 0 {
		perJobTokens = resp.OutputTokens / len(jobs)
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		result, ok := byJob[job.ID]
		entry := entryByJob[job.ID]
		if !ok || entry == nil {
			continue
		}

		switch tier {
		case 1:
			job.Tier1 = result.Tier1
			job.AnalysisState = models.AnalysisTier1Done
			job.AnalysisCompleted = true
		case 2:
			job.Tier2 = result.Tier2
			job.AnalysisState = models.AnalysisTier2Done
		case 3:
			job.Tier3 = result.Tier3
			job.AnalysisState = models.AnalysisTier3Done
		}

		job.TierRecords = append(job.TierRecords, models.TierRecord{
			Tier:           tier,
			Completed:      true,
			CompletedAt:    now,
			TokensUsed:     perJobTokens,
			ModelUsed:      resp.Model,
			ResponseTimeMs: duration.Milliseconds(),
		})
		job.UpdatedAt = now

		if err := s.jobs.SaveJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist analysis results")
			s.retryEntry(ctx, entry, err.Error(), true)
			continue
		}

		if err := s.queue.MarkDone(ctx, entry.ID); err != nil {
			s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to mark queue entry done")
		}

		if s.events != nil {
			_ = s.events.Publish(ctx, models.EventTierCompleted, map[string]string{
				"job_id": job.ID,
				"tier":   fmt.Sprint(tier),
				"model":  resp.Model,
			})
		}

		// Tier 3 completion ends the pipeline for the job
		if tier < 3 {
			if err := s.queue.Enqueue(ctx, job.ID, tier+1, entry.Priority); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Int("tier", tier+1).Msg("Failed to enqueue next tier")
			} else {
				job.AnalysisState = models.TierPendingState(tier + 1)
				if err := s.jobs.SaveJob(ctx, job); err != nil {
					s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record pending state")
				}
			}
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Int("tier", tier).
			Str("model", resp.Model).
			Int64("duration_ms", duration.Milliseconds()).
			Msg("Tier analysis completed")
	}
}

// loadJobs resolves queue entries to jobs, failing entries whose job is gone
// and requeueing entries whose prior tier has not completed yet
func (s *Scheduler) loadJobs(ctx context.Context, tier int, entries []*models.QueueEntry) ([]*models.Job, []*models.QueueEntry) {
	jobs := make([]*models.Job, 0, len(entries))
	kept := make([]*models.QueueEntry, 0, len(entries))

	for _, entry := range entries {
		job, err := s.jobs.GetJob(ctx, entry.JobID)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				s.failEntry(ctx, entry, "job no longer exists")
			} else {
				s.retryEntry(ctx, entry, err.Error(), true)
			}
			continue
		}
		if tier > 1 && !job.TierCompleted(tier-1) {
			s.retryEntry(ctx, entry, fmt.Sprintf("tier %d not completed yet", tier-1), false)
			continue
		}
		jobs = append(jobs, job)
		kept = append(kept, entry)
	}
	return jobs, kept
}

// markJobsFailed records terminal analysis failure at a tier
func (s *Scheduler) markJobsFailed(ctx context.Context, tier int, jobIDs []string, reason string) {
	for _, jobID := range jobIDs {
		job, err := s.jobs.GetJob(ctx, jobID)
		if err != nil {
			continue
		}
		job.AnalysisState = models.AnalysisFailed
		job.FailedTier = tier
		job.UpdatedAt = time.Now().UTC()
		if err := s.jobs.SaveJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark job analysis_failed")
		}
		if s.events != nil {
			_ = s.events.Publish(ctx, models.EventTierFailed, map[string]string{
				"job_id": jobID,
				"tier":   fmt.Sprint(tier),
				"reason": reason,
			})
		}
	}
}

func (s *Scheduler) retryEntry(ctx context.Context, entry *models.QueueEntry, reason string, countAttempt bool) {
	notBefore := time.Now().UTC()
	if countAttempt {
		notBefore = notBefore.Add(backoff(entry.Attempts))
	}
	if err := s.queue.MarkRetry(ctx, entry.ID, reason, notBefore, countAttempt); err != nil {
		s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to requeue entry")
	}
}

func (s *Scheduler) retryAt(ctx context.Context, entry *models.QueueEntry, reason string, notBefore time.Time) {
	// Rate-limit and budget denials are not attempts
	if err := s.queue.MarkRetry(ctx, entry.ID, reason, notBefore, false); err != nil {
		s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to requeue entry")
	}
}

// retryValidation counts the attempt and goes permanent after the shorter
// validation cap
func (s *Scheduler) retryValidation(ctx context.Context, entry *models.QueueEntry, reason string) {
	if entry.Attempts+1 >= validationMaxAttempts {
		s.failEntry(ctx, entry, reason)
		s.markJobsFailed(ctx, entry.Tier, []string{entry.JobID}, reason)
		return
	}
	s.retryEntry(ctx, entry, reason, true)
}

func (s *Scheduler) failEntry(ctx context.Context, entry *models.QueueEntry, reason string) {
	if err := s.queue.MarkFailed(ctx, entry.ID, reason); err != nil {
		s.logger.Error().Err(err).Str("entry_id", entry.ID).Msg("Failed to mark entry failed")
	}
}

func (s *Scheduler) audit(ctx context.Context, batchID string, tier int, plan *BatchPlan, inputTokens, outputTokens int, duration time.Duration, outcome, detail string) {
	record := &models.AuditRecord{
		ID:           common.NewEventID(),
		BatchID:      batchID,
		Tier:         tier,
		ModelID:      plan.ModelID,
		JobIDs:       plan.JobIDs,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		DurationMs:   duration.Milliseconds(),
		Outcome:      outcome,
		Detail:       detail,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.usage.AppendAudit(ctx, record); err != nil {
		s.logger.Error().Err(err).Msg("Failed to append audit record")
	}
}

func (s *Scheduler) actualCostUSD(model common.ModelConfig, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*model.InputUSDPerMTok +
		float64(outputTokens)/1e6*model.OutputUSDPerMTok
}

// callTimeout derives the hard dispatch timeout from the output budget
func callTimeout(maxOutputTokens int, msPerToken float64) time.Duration {
	if msPerToken <= 0 {
		msPerToken = 15
	}
	derived := time.Duration(float64(maxOutputTokens)*msPerToken*1.5) * time.Millisecond
	if derived < minCallTimeout {
		return minCallTimeout
	}
	return derived
}

// backoff computes the exponential wait for an attempt with ±20% jitter
func backoff(attempt int) time.Duration {
	wait := backoffBase << uint(attempt)
	if wait > backoffCap || wait <= 0 {
		wait = backoffCap
	}
	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(wait) * jitter)
}
