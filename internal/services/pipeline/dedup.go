package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/ternarybob/jobsift/internal/services/matching"
)

// DedupService collapses repeat postings into a single cleaned record.
// External-id matches within the same source win outright; otherwise fuzzy
// matching runs over recently seen records across sources.
type DedupService struct {
	cleanedStorage interfaces.CleanedScrapeStorage
	matcher        *matching.Matcher
	windowDays     int
	logger         arbor.ILogger

	// Serializes merges per cleaned id so concurrent upserts of the same
	// record cannot interleave
	mergeMu sync.Mutex
}

// NewDedupService creates the deduper
func NewDedupService(cleanedStorage interfaces.CleanedScrapeStorage, matcher *matching.Matcher, config *common.Config) *DedupService {
	return &DedupService{
		cleanedStorage: cleanedStorage,
		matcher:        matcher,
		windowDays:     config.Pipeline.DedupWindowDays,
		logger:         common.GetLogger(),
	}
}

// UpsertCleaned merges the new record into an existing duplicate or stores
// it fresh, returning the surviving cleaned id
func (s *DedupService) UpsertCleaned(ctx context.Context, cleaned *models.CleanedScrape) (string, error) {
	existing, err := s.findDuplicate(ctx, cleaned)
	if err != nil {
		return "", err
	}

	if existing == nil {
		if err := s.cleanedStorage.SaveCleanedScrape(ctx, cleaned); err != nil {
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		return cleaned.ID, nil
	}

	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	// Re-read under the lock; another upsert may have merged meanwhile
	current, err := s.cleanedStorage.GetCleanedScrape(ctx, existing.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			current = existing
		} else {
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	merged := mergeCleaned(current, cleaned)
	if err := s.cleanedStorage.SaveCleanedScrape(ctx, merged); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Info().
		Str("cleaned_id", merged.ID).
		Int("duplicates", merged.DuplicatesCount).
		Str("title", merged.JobTitle).
		Msg("Duplicate posting merged")

	return merged.ID, nil
}

// findDuplicate locates an existing record describing the same job, or nil
func (s *DedupService) findDuplicate(ctx context.Context, cleaned *models.CleanedScrape) (*models.CleanedScrape, error) {
	if cleaned.ExternalJobID != "" {
		existing, err := s.cleanedStorage.FindByExternalID(ctx, cleaned.ExternalJobID, cleaned.Source)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.windowDays)
	recent, err := s.cleanedStorage.ListRecent(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	for _, candidate := range recent {
		if candidate.ID == cleaned.ID {
			continue
		}
		if s.matcher.SameJob(cleaned.JobTitle, cleaned.CompanyName, candidate.JobTitle, candidate.CompanyName) {
			return candidate, nil
		}
	}
	return nil, nil
}

// mergeCleaned folds the incoming record into the existing one. The record
// with the higher confidence wins field-by-field; non-empty fields from the
// loser fill gaps in the winner. The existing id and cleaned_at survive.
func mergeCleaned(existing, incoming *models.CleanedScrape) *models.CleanedScrape {
	winner, loser := existing, incoming
	if incoming.ConfidenceScore > existing.ConfidenceScore {
		winner, loser = incoming, existing
	}

	merged := *winner
	merged.ID = existing.ID
	merged.CleanedAt = existing.CleanedAt
	merged.LastSeenAt = time.Now().UTC()
	merged.DuplicatesCount = existing.DuplicatesCount + 1
	merged.RawScrapeIDs = appendUnique(existing.RawScrapeIDs, incoming.RawScrapeIDs...)

	merged.JobTitle = pickString(winner.JobTitle, loser.JobTitle)
	merged.CompanyName = pickString(winner.CompanyName, loser.CompanyName)
	merged.Description = pickString(winner.Description, loser.Description)
	merged.Requirements = pickString(winner.Requirements, loser.Requirements)
	merged.Benefits = pickString(winner.Benefits, loser.Benefits)
	merged.Industry = pickString(winner.Industry, loser.Industry)
	merged.JobType = pickString(winner.JobType, loser.JobType)
	merged.ExperienceLevel = pickString(winner.ExperienceLevel, loser.ExperienceLevel)
	merged.CompanyWebsite = pickString(winner.CompanyWebsite, loser.CompanyWebsite)
	merged.ExternalJobID = pickString(winner.ExternalJobID, loser.ExternalJobID)
	merged.ApplicationURL = pickString(winner.ApplicationURL, loser.ApplicationURL)
	merged.ApplicationEmail = pickString(winner.ApplicationEmail, loser.ApplicationEmail)

	if merged.Location.IsEmpty() {
		merged.Location = loser.Location
	}
	if merged.Salary.IsEmpty() {
		merged.Salary = loser.Salary
	}
	if merged.WorkArrangement == models.WorkUnknown || merged.WorkArrangement == "" {
		merged.WorkArrangement = loser.WorkArrangement
	}
	if merged.PostingDate == nil {
		merged.PostingDate = loser.PostingDate
	}
	if merged.ApplicationDeadline == nil {
		merged.ApplicationDeadline = loser.ApplicationDeadline
	}

	if loser.ConfidenceScore > merged.ConfidenceScore {
		merged.ConfidenceScore = loser.ConfidenceScore
	}

	return &merged
}

func pickString(winner, loser string) string {
	if winner != "" {
		return winner
	}
	return loser
}

func appendUnique(existing []string, incoming ...string) []string {
	seen := make(map[string]bool, len(existing))
	for _, id := range existing {
		seen[id] = true
	}
	for _, id := range incoming {
		if !seen[id] {
			existing = append(existing, id)
			seen[id] = true
		}
	}
	return existing
}
