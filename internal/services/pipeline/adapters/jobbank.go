package adapters

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/jobsift/internal/models"
)

// jobbankPayload mirrors the Job Bank scraper output. Fields arrive mostly
// flat with snake_case keys; salary is a single display string.
type jobbankPayload struct {
	JobID           string `json:"job_id"`
	Title           string `json:"title"`
	Employer        string `json:"employer"`
	City            string `json:"city"`
	Province        string `json:"province"`
	SalaryDisplay   string `json:"salary_display"`
	Remote          bool   `json:"remote"`
	Description     string `json:"description"`
	Requirements    string `json:"requirements"`
	Benefits        string `json:"benefits"`
	VacancyType     string `json:"vacancy_type"`
	DatePosted      string `json:"date_posted"`
	ApplyByDate     string `json:"apply_by_date"`
	HowToApplyURL   string `json:"how_to_apply_url"`
	HowToApplyEmail string `json:"how_to_apply_email"`
}

// JobBankAdapter parses Government of Canada Job Bank scraper payloads
type JobBankAdapter struct{}

func NewJobBankAdapter() *JobBankAdapter {
	return &JobBankAdapter{}
}

func (a *JobBankAdapter) Provider() string {
	return "jobbank"
}

func (a *JobBankAdapter) Parse(payload json.RawMessage) (*models.ParsedPosting, error) {
	var p jobbankPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to parse jobbank payload: %w", err)
	}

	arrangement := ""
	if p.Remote {
		arrangement = "remote"
	}

	posting := &models.ParsedPosting{
		Title:            p.Title,
		Company:          p.Employer,
		LocationText:     joinLocation(p.City, p.Province, "Canada"),
		SalaryText:       p.SalaryDisplay,
		ArrangementText:  arrangement,
		Description:      p.Description,
		Requirements:     p.Requirements,
		Benefits:         p.Benefits,
		JobType:          p.VacancyType,
		ExternalJobID:    p.JobID,
		ApplicationURL:   p.HowToApplyURL,
		ApplicationEmail: p.HowToApplyEmail,
	}

	if p.DatePosted != "" {
		if ts, err := parseDate(p.DatePosted); err == nil {
			posting.PostingDate = &ts
		}
	}
	if p.ApplyByDate != "" {
		if ts, err := parseDate(p.ApplyByDate); err == nil {
			posting.ApplicationDeadline = &ts
		}
	}

	return posting, nil
}
