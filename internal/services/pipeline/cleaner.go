package pipeline

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/ternarybob/jobsift/internal/services/pipeline/adapters"
)

// CleanerService turns raw provider payloads into canonical cleaned records.
// One adapter per provider; an unregistered provider is an error, never a
// guess.
type CleanerService struct {
	registry *adapters.Registry
	config   *common.Config
	scorer   *ConfidenceScorer
	logger   arbor.ILogger
}

// NewCleanerService creates the cleaner with its adapter registry
func NewCleanerService(registry *adapters.Registry, config *common.Config) *CleanerService {
	return &CleanerService{
		registry: registry,
		config:   config,
		scorer:   NewConfidenceScorer(),
		logger:   common.GetLogger(),
	}
}

// Clean extracts and normalizes canonical fields from one raw scrape. The
// returned record is not persisted; the deduper owns the upsert.
func (s *CleanerService) Clean(raw *models.RawScrape) (*models.CleanedScrape, error) {
	adapter, ok := s.registry.Get(raw.Source)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, raw.Source)
	}

	posting, err := adapter.Parse(raw.Payload)
	if err != nil {
		return nil, fmt.Errorf("cleaning failed for %s: %w", raw.ID, err)
	}

	now := time.Now().UTC()
	cleaned := &models.CleanedScrape{
		ID:            common.NewCleanedID(),
		RawScrapeIDs:  []string{raw.ID},
		Source:        raw.Source,
		ExternalJobID: strings.TrimSpace(posting.ExternalJobID),

		JobTitle:    strings.TrimSpace(posting.Title),
		CompanyName: s.normalizeCompanyName(posting.Company),
		Location:    parseLocation(posting.LocationText, s.config.Pipeline.ProvinceTable),
		Salary:      parseSalary(posting.SalaryText, s.defaultCurrency(raw)),

		WorkArrangement: parseArrangement(posting.ArrangementText),
		Description:     strings.TrimSpace(posting.Description),
		Requirements:    strings.TrimSpace(posting.Requirements),
		Benefits:        strings.TrimSpace(posting.Benefits),
		Industry:        strings.TrimSpace(posting.Industry),
		JobType:         strings.TrimSpace(posting.JobType),
		ExperienceLevel: strings.TrimSpace(posting.ExperienceLevel),
		CompanyWebsite:  strings.TrimSpace(posting.CompanyWebsite),

		PostingDate:         posting.PostingDate,
		ApplicationDeadline: posting.ApplicationDeadline,
		ApplicationURL:      strings.TrimSpace(posting.ApplicationURL),
		ApplicationEmail:    strings.TrimSpace(posting.ApplicationEmail),

		DuplicatesCount: 1,
		CleanedAt:       now,
		LastSeenAt:      now,
	}

	cleaned.ConfidenceScore = s.scorer.Score(cleaned)

	s.logger.Debug().
		Str("cleaned_id", cleaned.ID).
		Str("raw_id", raw.ID).
		Str("title", cleaned.JobTitle).
		Float64("confidence", cleaned.ConfidenceScore).
		Msg("Raw scrape cleaned")

	return cleaned, nil
}

// defaultCurrency picks the currency assumed when salary text carries only a
// bare dollar sign. Canadian sources get the configured default; everything
// else stays unset rather than guessed.
func (s *CleanerService) defaultCurrency(raw *models.RawScrape) string {
	if strings.Contains(raw.SourceURL, ".ca/") || strings.HasSuffix(raw.SourceURL, ".ca") {
		return s.config.Pipeline.DefaultCurrency
	}
	if strings.HasSuffix(raw.Source, "_ca") || raw.Source == "jobbank" {
		return s.config.Pipeline.DefaultCurrency
	}
	return ""
}

// normalizeCompanyName trims and title-cases a company name, keeping legal
// suffixes in their canonical casing (Inc, Ltd, LLC, Corp, Co)
func (s *CleanerService) normalizeCompanyName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	canonical := make(map[string]string, len(s.config.Pipeline.CompanySuffixes))
	for _, suffix := range s.config.Pipeline.CompanySuffixes {
		canonical[strings.ToLower(suffix)] = suffix
	}

	words := strings.Fields(name)
	for i, w := range words {
		trimmed := strings.Trim(w, ".,")
		if c, ok := canonical[strings.ToLower(trimmed)]; ok {
			words[i] = strings.Replace(w, trimmed, c, 1)
			continue
		}
		// Leave all-caps tokens (acronyms) alone
		if w == strings.ToUpper(w) && len([]rune(w)) > 1 {
			continue
		}
		words[i] = titleCaseWord(w)
	}
	return strings.Join(words, " ")
}

func titleCaseWord(w string) string {
	runes := []rune(w)
	for i, r := range runes {
		if unicode.IsLetter(r) {
			runes[i] = unicode.ToUpper(r)
			for j := i + 1; j < len(runes); j++ {
				runes[j] = unicode.ToLower(runes[j])
			}
			break
		}
	}
	return string(runes)
}
