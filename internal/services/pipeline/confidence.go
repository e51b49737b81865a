package pipeline

import (
	"math"
	"strings"

	"github.com/ternarybob/jobsift/internal/models"
)

// Field weights. Critical fields carry most of the score; bonus fields
// only nudge it.
const (
	criticalWeight  = 0.60
	importantWeight = 0.30
	bonusWeight     = 0.10
)

// placeholderTokens are values scrapers emit when a field was absent
var placeholderTokens = map[string]bool{
	"n/a": true, "na": true, "none": true, "null": true,
	"unknown": true, "-": true, "tbd": true,
}

// ConfidenceScorer grades how complete and trustworthy a cleaned record is.
// Pure function of the record.
type ConfidenceScorer struct{}

func NewConfidenceScorer() *ConfidenceScorer {
	return &ConfidenceScorer{}
}

// Score returns a confidence in [0.00, 1.00], rounded to two decimals
func (s *ConfidenceScorer) Score(cleaned *models.CleanedScrape) float64 {
	score := 0.0

	// Critical: title and company, half the critical weight each
	score += criticalWeight / 2 * fieldQuality(cleaned.JobTitle)
	score += criticalWeight / 2 * fieldQuality(cleaned.CompanyName)

	// Important: description structure, location, work arrangement
	score += importantWeight / 3 * descriptionQuality(cleaned.Description)
	if !cleaned.Location.IsEmpty() {
		score += importantWeight / 3
	}
	if cleaned.WorkArrangement != models.WorkUnknown && cleaned.WorkArrangement != "" {
		score += importantWeight / 3
	}

	// Bonus: metadata completeness
	bonus := 0
	if cleaned.JobType != "" {
		bonus++
	}
	if cleaned.PostingDate != nil {
		bonus++
	}
	if cleaned.CompanyWebsite != "" {
		bonus++
	}
	if cleaned.ExternalJobID != "" {
		bonus++
	}
	score += bonusWeight / 4 * float64(bonus)

	return roundTwoDecimals(clamp01(score))
}

// fieldQuality grades a critical text field 0-1: non-empty, plausible
// length, not a scraper placeholder
func fieldQuality(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" || placeholderTokens[strings.ToLower(value)] {
		return 0
	}
	if len(value) < 3 {
		return 0.5
	}
	return 1.0
}

// descriptionQuality grades description length and paragraph structure
func descriptionQuality(desc string) float64 {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return 0
	}

	q := 0.0
	switch {
	case len(desc) >= 500:
		q = 0.7
	case len(desc) >= 100:
		q = 0.5
	default:
		q = 0.3
	}

	// Paragraph breaks or bullet structure mark a real posting rather than
	// a truncated snippet
	if strings.Contains(desc, "\n\n") || strings.Contains(desc, "\n-") || strings.Contains(desc, "\n*") {
		q += 0.3
	}
	return clamp01(q)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func roundTwoDecimals(v float64) float64 {
	return math.Round(v*100) / 100
}
