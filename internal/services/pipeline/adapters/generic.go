package adapters

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/jobsift/internal/models"
)

// genericPayload is the canonical JSON shape scrapers may post directly
type genericPayload struct {
	Title               string `json:"title"`
	Company             string `json:"company"`
	Location            string `json:"location"`
	WorkArrangement     string `json:"work_arrangement"`
	Salary              string `json:"salary"`
	Description         string `json:"description"`
	Requirements        string `json:"requirements"`
	Benefits            string `json:"benefits"`
	Industry            string `json:"industry"`
	JobType             string `json:"job_type"`
	ExperienceLevel     string `json:"experience_level"`
	CompanyWebsite      string `json:"company_website"`
	PostingDate         string `json:"posting_date"`
	ApplicationDeadline string `json:"application_deadline"`
	ExternalJobID       string `json:"external_job_id"`
	ApplicationURL      string `json:"application_url"`
	ApplicationEmail    string `json:"application_email"`
}

// GenericAdapter parses the canonical JSON payload shape under a configured
// provider id. Used for scrapers that already emit the common field names.
type GenericAdapter struct {
	provider string
}

// NewGenericAdapter creates an adapter for a provider that posts the
// canonical shape under its own provider id
func NewGenericAdapter(provider string) *GenericAdapter {
	return &GenericAdapter{provider: provider}
}

func (a *GenericAdapter) Provider() string {
	return a.provider
}

func (a *GenericAdapter) Parse(payload json.RawMessage) (*models.ParsedPosting, error) {
	var p genericPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", a.provider, err)
	}

	posting := &models.ParsedPosting{
		Title:            p.Title,
		Company:          p.Company,
		LocationText:     p.Location,
		SalaryText:       p.Salary,
		ArrangementText:  p.WorkArrangement,
		Description:      p.Description,
		Requirements:     p.Requirements,
		Benefits:         p.Benefits,
		Industry:         p.Industry,
		JobType:          p.JobType,
		ExperienceLevel:  p.ExperienceLevel,
		CompanyWebsite:   p.CompanyWebsite,
		ExternalJobID:    p.ExternalJobID,
		ApplicationURL:   p.ApplicationURL,
		ApplicationEmail: p.ApplicationEmail,
	}

	if p.PostingDate != "" {
		if ts, err := parseDate(p.PostingDate); err == nil {
			posting.PostingDate = &ts
		}
	}
	if p.ApplicationDeadline != "" {
		if ts, err := parseDate(p.ApplicationDeadline); err == nil {
			posting.ApplicationDeadline = &ts
		}
	}

	return posting, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"January 2, 2006",
	"Jan 2, 2006",
	"02/01/2006",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %s", s)
}
