package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/ternarybob/jobsift/internal/services/matching"
)

// TransferReport summarizes one transfer batch
type TransferReport struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Protected int `json:"protected"`
	Failed    int `json:"failed"`
}

// TransferService promotes cleaned records into canonical jobs. Analyzed
// jobs are protected: a re-appearance refreshes last_seen_at and is_expired
// but never touches identity or description fields.
type TransferService struct {
	cleanedStorage interfaces.CleanedScrapeStorage
	companyStorage interfaces.CompanyStorage
	jobStorage     interfaces.JobStorage
	queueStorage   interfaces.QueueStorage
	events         interfaces.EventService
	matcher        *matching.Matcher
	config         *common.Config
	logger         arbor.ILogger
}

// NewTransferService creates the protected transfer service
func NewTransferService(
	cleanedStorage interfaces.CleanedScrapeStorage,
	companyStorage interfaces.CompanyStorage,
	jobStorage interfaces.JobStorage,
	queueStorage interfaces.QueueStorage,
	events interfaces.EventService,
	matcher *matching.Matcher,
	config *common.Config,
) *TransferService {
	return &TransferService{
		cleanedStorage: cleanedStorage,
		companyStorage: companyStorage,
		jobStorage:     jobStorage,
		queueStorage:   queueStorage,
		events:         events,
		matcher:        matcher,
		config:         config,
		logger:         common.GetLogger(),
	}
}

// TransferToJobs processes a batch of cleaned records. Per-record failures
// are isolated; one failing record never stops the batch.
func (s *TransferService) TransferToJobs(ctx context.Context, batch []*models.CleanedScrape) (*TransferReport, error) {
	report := &TransferReport{}

	for _, cleaned := range batch {
		outcome, err := s.transferOne(ctx, cleaned)
		if err != nil {
			report.Failed++
			if errors.Is(err, ErrAmbiguousMatch) {
				s.holdForReview(ctx, cleaned, err)
				continue
			}
			s.logger.Warn().Err(err).
				Str("cleaned_id", cleaned.ID).
				Msg("Transfer failed for cleaned record")
			continue
		}

		switch outcome {
		case transferCreated:
			report.Created++
		case transferUpdated:
			report.Updated++
		case transferProtected:
			report.Protected++
		}
	}

	s.logger.Info().
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("protected", report.Protected).
		Int("failed", report.Failed).
		Msg("Transfer batch complete")

	return report, nil
}

type transferOutcome int

const (
	transferCreated transferOutcome = iota
	transferUpdated
	transferProtected
)

func (s *TransferService) transferOne(ctx context.Context, cleaned *models.CleanedScrape) (transferOutcome, error) {
	company, err := s.resolveCompany(ctx, cleaned)
	if err != nil {
		return 0, err
	}

	// An already-analyzed job matching this posting is protected: only
	// freshness metadata moves
	protectedJob, err := s.findProtectedJob(ctx, cleaned, company)
	if err != nil {
		return 0, err
	}
	if protectedJob != nil {
		return transferProtected, s.refreshProtected(ctx, protectedJob, cleaned)
	}

	existing, err := s.jobStorage.FindByExternalID(ctx, cleaned.ExternalJobID, cleaned.Source)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := time.Now().UTC()
	if existing != nil {
		// The fuzzy scan misses retitled re-posts; the external id still
		// names the same opening, so protection holds here too
		if existing.Protected() {
			return transferProtected, s.refreshProtected(ctx, existing, cleaned)
		}
		applyCleanedFields(existing, cleaned, company.ID)
		existing.UpdatedAt = now
		existing.LastSeenAt = now
		if err := s.jobStorage.SaveJob(ctx, existing); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return transferUpdated, nil
	}

	job := &models.Job{
		ID:            common.NewJobID(),
		AnalysisState: models.AnalysisUnanalyzed,
		CreatedAt:     now,
	}
	applyCleanedFields(job, cleaned, company.ID)
	job.UpdatedAt = now
	job.LastSeenAt = now

	if err := s.jobStorage.SaveJob(ctx, job); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if err := s.queueStorage.Enqueue(ctx, job.ID, 1, models.PriorityNormal); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue tier-1 analysis")
	} else {
		job.AnalysisState = models.TierPendingState(1)
		if err := s.jobStorage.SaveJob(ctx, job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record pending state")
		}
	}

	return transferCreated, nil
}

// resolveCompany finds or creates the canonical company for a cleaned record.
// Exact name match first, then fuzzy at the resolve threshold. Two equally
// good fuzzy matches are ambiguous and go to review.
func (s *TransferService) resolveCompany(ctx context.Context, cleaned *models.CleanedScrape) (*models.Company, error) {
	if company, err := s.companyStorage.GetCompanyByName(ctx, cleaned.CompanyName); err == nil {
		return company, nil
	} else if !errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	companies, err := s.companyStorage.ListCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	threshold := s.matcher.ResolveThreshold()
	var best *models.Company
	bestScore := 0.0
	ambiguous := false

	for _, candidate := range companies {
		score := s.matcher.CompanySimilarity(cleaned.CompanyName, candidate.Name)
		if score < threshold {
			continue
		}
		switch {
		case score > bestScore:
			best, bestScore, ambiguous = candidate, score, false
		case score == bestScore && best != nil && candidate.ID != best.ID:
			ambiguous = true
		}
	}

	if ambiguous {
		return nil, fmt.Errorf("%w: %q at similarity %.2f", ErrAmbiguousMatch, cleaned.CompanyName, bestScore)
	}
	if best != nil {
		// Enrich the canonical record with anything the posting adds
		if best.Website == "" && cleaned.CompanyWebsite != "" {
			best.Website = cleaned.CompanyWebsite
			best.UpdatedAt = time.Now().UTC()
			if err := s.companyStorage.SaveCompany(ctx, best); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
			}
		}
		return best, nil
	}

	now := time.Now().UTC()
	company := &models.Company{
		ID:        common.NewCompanyID(),
		Name:      cleaned.CompanyName,
		Website:   cleaned.CompanyWebsite,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.companyStorage.SaveCompany(ctx, company); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return company, nil
}

// findProtectedJob searches analyzed jobs for one describing the same
// opening as the cleaned record
func (s *TransferService) findProtectedJob(ctx context.Context, cleaned *models.CleanedScrape, company *models.Company) (*models.Job, error) {
	analyzed, err := s.jobStorage.ListAnalyzed(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	for _, job := range analyzed {
		if !job.Protected() {
			continue
		}
		if job.CompanyID == company.ID {
			if s.matcher.TitleSimilarity(cleaned.JobTitle, job.Title) >= s.matcherTitleThreshold() {
				return job, nil
			}
			continue
		}
		jobCompany, err := s.companyStorage.GetCompany(ctx, job.CompanyID)
		if err != nil {
			continue
		}
		if s.matcher.SameJob(cleaned.JobTitle, cleaned.CompanyName, job.Title, jobCompany.Name) {
			return job, nil
		}
	}
	return nil, nil
}

func (s *TransferService) matcherTitleThreshold() float64 {
	return s.config.Matching.TitleThreshold
}

// refreshProtected touches freshness metadata only and links provenance.
// Optionally re-enqueues tier 1 when configured to re-analyze re-appearances.
func (s *TransferService) refreshProtected(ctx context.Context, job *models.Job, cleaned *models.CleanedScrape) error {
	now := time.Now().UTC()
	job.LastSeenAt = now
	job.IsExpired = false
	job.UpdatedAt = now
	job.ProvenanceCleanedIDs = appendUnique(job.ProvenanceCleanedIDs, cleaned.ID)

	if err := s.jobStorage.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if s.events != nil {
		_ = s.events.Publish(ctx, models.EventJobProtected, map[string]string{
			"job_id":     job.ID,
			"cleaned_id": cleaned.ID,
		})
	}

	if s.config.Pipeline.ReanalyzeProtected {
		if err := s.queueStorage.Enqueue(ctx, job.ID, 1, models.PriorityLow); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to re-enqueue protected job")
		}
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("cleaned_id", cleaned.ID).
		Msg("Protected job refreshed")

	return nil
}

// holdForReview parks an ambiguous cleaned record for a human decision. The
// record is held, never lost.
func (s *TransferService) holdForReview(ctx context.Context, cleaned *models.CleanedScrape, cause error) {
	cleaned.PendingReview = true
	cleaned.ReviewReason = cause.Error()
	if err := s.cleanedStorage.SaveCleanedScrape(ctx, cleaned); err != nil {
		s.logger.Error().Err(err).
			Str("cleaned_id", cleaned.ID).
			Msg("Failed to hold cleaned record for review")
	}
}

// applyCleanedFields copies the canonical posting fields onto an unprotected
// job record
func applyCleanedFields(job *models.Job, cleaned *models.CleanedScrape, companyID string) {
	job.CompanyID = companyID
	job.Source = cleaned.Source
	job.ExternalJobID = cleaned.ExternalJobID
	job.Title = cleaned.JobTitle
	job.Location = cleaned.Location
	job.WorkArrangement = cleaned.WorkArrangement
	job.Salary = cleaned.Salary
	job.Description = cleaned.Description
	job.Requirements = cleaned.Requirements
	job.Benefits = cleaned.Benefits
	job.Industry = cleaned.Industry
	job.JobType = cleaned.JobType
	job.ExperienceLevel = cleaned.ExperienceLevel
	job.PostingDate = cleaned.PostingDate
	job.ApplicationDeadline = cleaned.ApplicationDeadline
	job.ApplicationURL = cleaned.ApplicationURL
	job.ApplicationEmail = cleaned.ApplicationEmail
	job.IsExpired = cleaned.IsExpired
	job.ProvenanceCleanedIDs = appendUnique(job.ProvenanceCleanedIDs, cleaned.ID)
}
