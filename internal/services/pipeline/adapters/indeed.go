package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/jobsift/internal/models"
)

// indeedPayload mirrors the shape the Indeed scraper emits: nested location
// and salary objects, camelCase keys
type indeedPayload struct {
	JobKey       string `json:"jobkey"`
	DisplayTitle string `json:"displayTitle"`
	Company      string `json:"company"`
	JobLocation  struct {
		City       string `json:"city"`
		Region     string `json:"region"`
		Country    string `json:"country"`
		StreetAddr string `json:"streetAddress"`
	} `json:"jobLocation"`
	BaseSalary struct {
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
		Currency string  `json:"currency"`
		UnitText string  `json:"unitText"` // YEAR or HOUR
	} `json:"baseSalary"`
	RemoteModel    string `json:"remoteModel"` // REMOTE, HYBRID, ONSITE
	Snippet        string `json:"snippet"`
	Description    string `json:"jobDescription"`
	JobTypes       string `json:"jobTypes"`
	PubDate        string `json:"pubDate"`
	ViewJobLink    string `json:"viewJobLink"`
	CompanyWebsite string `json:"companyOverviewLink"`
}

// IndeedAdapter parses Indeed scraper payloads
type IndeedAdapter struct{}

func NewIndeedAdapter() *IndeedAdapter {
	return &IndeedAdapter{}
}

func (a *IndeedAdapter) Provider() string {
	return "indeed"
}

func (a *IndeedAdapter) Parse(payload json.RawMessage) (*models.ParsedPosting, error) {
	var p indeedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to parse indeed payload: %w", err)
	}

	description := p.Description
	if description == "" {
		description = p.Snippet
	}

	posting := &models.ParsedPosting{
		Title:           p.DisplayTitle,
		Company:         p.Company,
		LocationText:    joinLocation(p.JobLocation.StreetAddr, p.JobLocation.City, p.JobLocation.Region, p.JobLocation.Country),
		SalaryText:      formatIndeedSalary(p.BaseSalary.Min, p.BaseSalary.Max, p.BaseSalary.Currency, p.BaseSalary.UnitText),
		ArrangementText: strings.ToLower(p.RemoteModel),
		Description:     description,
		JobType:         p.JobTypes,
		CompanyWebsite:  p.CompanyWebsite,
		ExternalJobID:   p.JobKey,
		ApplicationURL:  p.ViewJobLink,
	}

	if p.PubDate != "" {
		if ts, err := parseDate(p.PubDate); err == nil {
			posting.PostingDate = &ts
		}
	}

	return posting, nil
}

func joinLocation(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

// formatIndeedSalary rebuilds a salary string the cleaner's parser accepts,
// keeping a single code path for salary normalization
func formatIndeedSalary(min, max float64, currency, unit string) string {
	if min == 0 && max == 0 {
		return ""
	}
	period := "per year"
	if strings.EqualFold(unit, "HOUR") {
		period = "per hour"
	}
	if currency == "" {
		currency = "CAD"
	}
	switch {
	case min > 0 && max > 0:
		return fmt.Sprintf("%s $%.2f - $%.2f %s", currency, min, max, period)
	case min > 0:
		return fmt.Sprintf("%s $%.2f %s", currency, min, period)
	default:
		return fmt.Sprintf("%s $%.2f %s", currency, max, period)
	}
}
