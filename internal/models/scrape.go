package models

import (
	"encoding/json"
	"time"
)

// WorkArrangement classifies where the work happens
type WorkArrangement string

const (
	WorkRemote  WorkArrangement = "remote"
	WorkHybrid  WorkArrangement = "hybrid"
	WorkOnsite  WorkArrangement = "onsite"
	WorkUnknown WorkArrangement = "unknown"
)

// SalaryPeriod is the unit a salary figure is quoted in
type SalaryPeriod string

const (
	SalaryAnnual SalaryPeriod = "annual"
	SalaryHourly SalaryPeriod = "hourly"
)

// RawScrape is the immutable record of one provider payload as received.
// Created on ingest, never mutated, never deleted.
type RawScrape struct {
	ID           string          `json:"id" badgerhold:"key"`
	Source       string          `json:"source" badgerholdIndex:"Source"`
	SourceURL    string          `json:"source_url"`
	ScrapedAt    time.Time       `json:"scraped_at"`
	Payload      json.RawMessage `json:"payload"` // Provider-specific record preserved verbatim
	ScraperRunID string          `json:"scraper_run_id"`
	Success      bool            `json:"success"`
	ErrorDetail  string          `json:"error_detail,omitempty"`
}

// Location holds the parsed components of a job location.
// Components that could not be parsed are left empty, never guessed.
type Location struct {
	City          string `json:"city,omitempty"`
	Province      string `json:"province,omitempty"`
	Country       string `json:"country,omitempty"`
	StreetAddress string `json:"street_address,omitempty"`
}

// IsEmpty reports whether no location component was resolved
func (l Location) IsEmpty() bool {
	return l.City == "" && l.Province == "" && l.Country == "" && l.StreetAddress == ""
}

// Salary holds a parsed salary range. Low <= High when both are set.
type Salary struct {
	Low      float64      `json:"low,omitempty"`
	High     float64      `json:"high,omitempty"`
	Currency string       `json:"currency,omitempty"` // ISO code
	Period   SalaryPeriod `json:"period,omitempty"`
}

// IsEmpty reports whether no salary figure was parsed
func (s Salary) IsEmpty() bool {
	return s.Low == 0 && s.High == 0
}

// Midpoint returns the middle of the range, or the single bound when one is missing
func (s Salary) Midpoint() float64 {
	switch {
	case s.Low > 0 && s.High > 0:
		return (s.Low + s.High) / 2
	case s.Low > 0:
		return s.Low
	default:
		return s.High
	}
}

// ParsedPosting is the adapter output: provider fields mapped onto a common
// shape but not yet normalized. Salary, location and arrangement stay as the
// provider's free text; the cleaner owns parsing them.
type ParsedPosting struct {
	Title           string `json:"title"`
	Company         string `json:"company"`
	LocationText    string `json:"location_text,omitempty"`
	SalaryText      string `json:"salary_text,omitempty"`
	ArrangementText string `json:"arrangement_text,omitempty"`

	Description     string `json:"description,omitempty"`
	Requirements    string `json:"requirements,omitempty"`
	Benefits        string `json:"benefits,omitempty"`
	Industry        string `json:"industry,omitempty"`
	JobType         string `json:"job_type,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	CompanyWebsite  string `json:"company_website,omitempty"`

	PostingDate         *time.Time `json:"posting_date,omitempty"`
	ApplicationDeadline *time.Time `json:"application_deadline,omitempty"`
	ApplicationURL      string     `json:"application_url,omitempty"`
	ApplicationEmail    string     `json:"application_email,omitempty"`
	ExternalJobID       string     `json:"external_job_id,omitempty"`
}

// CleanedScrape is the canonical-shaped record derived from one or more raw
// scrapes. Field values may be replaced when a higher-confidence duplicate
// arrives; records are never deleted.
type CleanedScrape struct {
	ID            string   `json:"id" badgerhold:"key"`
	RawScrapeIDs  []string `json:"raw_scrape_ids"` // Provenance, oldest first
	Source        string   `json:"source" badgerholdIndex:"Source"`
	ExternalJobID string   `json:"external_job_id,omitempty"`

	JobTitle        string          `json:"job_title"`
	CompanyName     string          `json:"company_name"`
	Location        Location        `json:"location"`
	WorkArrangement WorkArrangement `json:"work_arrangement"`
	Salary          Salary          `json:"salary"`
	Description     string          `json:"description,omitempty"`
	Requirements    string          `json:"requirements,omitempty"`
	Benefits        string          `json:"benefits,omitempty"`
	Industry        string          `json:"industry,omitempty"`
	JobType         string          `json:"job_type,omitempty"`
	ExperienceLevel string          `json:"experience_level,omitempty"`
	CompanyWebsite  string          `json:"company_website,omitempty"`

	PostingDate         *time.Time `json:"posting_date,omitempty"`
	ApplicationDeadline *time.Time `json:"application_deadline,omitempty"`
	ApplicationURL      string     `json:"application_url,omitempty"`
	ApplicationEmail    string     `json:"application_email,omitempty"`
	IsExpired           bool       `json:"is_expired"`

	DuplicatesCount int     `json:"duplicates_count"` // >= 1
	ConfidenceScore float64 `json:"confidence_score"` // [0.00, 1.00], two decimals

	// Held for manual review after an ambiguous company match at transfer
	PendingReview bool   `json:"pending_review,omitempty"`
	ReviewReason  string `json:"review_reason,omitempty"`

	CleanedAt  time.Time `json:"cleaned_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
