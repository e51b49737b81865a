package models

import (
	"time"
)

// Company is the canonical employer record. The ID is stable; the name may
// be normalized and the descriptive fields enriched over time.
type Company struct {
	ID               string    `json:"id" badgerhold:"key"`
	Name             string    `json:"name" badgerholdIndex:"Name"`
	Website          string    `json:"website,omitempty"`
	Description      string    `json:"description,omitempty"`
	StrategicMission string    `json:"strategic_mission,omitempty"`
	StrategicValues  string    `json:"strategic_values,omitempty"`
	RecentNews       string    `json:"recent_news,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SkillRequirement is one extracted skill with its importance rating (1-10)
type SkillRequirement struct {
	Skill      string `json:"skill"`
	Importance int    `json:"importance"` // 1-10
	Required   bool   `json:"required"`
}

// CoverLetterInsight is a tier-2 angle for application documents
type CoverLetterInsight struct {
	Angle      string `json:"angle"` // employer pain point, company goal, ...
	Evidence   string `json:"evidence"`
	Confidence string `json:"confidence,omitempty"`
}

// TierOneAnalysis holds the core facts extracted by the first LLM pass
type TierOneAnalysis struct {
	Skills              []SkillRequirement `json:"skills,omitempty"`
	Seniority           string             `json:"seniority,omitempty"`
	AuthenticitySignals []string           `json:"authenticity_signals,omitempty"`
	CompensationFacts   []string           `json:"compensation_facts,omitempty"`
	WorkArrangement     string             `json:"work_arrangement,omitempty"`
	Industry            string             `json:"industry,omitempty"`
	SecondaryIndustries []string           `json:"secondary_industries,omitempty"`
	ATSKeywords         []string           `json:"ats_keywords,omitempty"`
	RedFlags            []string           `json:"red_flags,omitempty"`
	Benefits            []string           `json:"benefits,omitempty"`
	PlatformsFound      []string           `json:"platforms_found,omitempty"`
}

// TierTwoAnalysis holds the nuanced context extracted by the second pass
type TierTwoAnalysis struct {
	ImplicitRequirements  []string             `json:"implicit_requirements,omitempty"`
	StressIndicators      []string             `json:"stress_indicators,omitempty"`
	StressLevel           int                  `json:"stress_level,omitempty"` // 1-10
	CulturalSignals       []string             `json:"cultural_signals,omitempty"`
	CoverLetterInsights   []CoverLetterInsight `json:"cover_letter_insights,omitempty"`
	EstimatedHoursPerWeek int                  `json:"estimated_hours_per_week,omitempty"`
}

// TierThreeAnalysis holds strategic positioning from the third pass
type TierThreeAnalysis struct {
	PositioningRecommendations []string `json:"positioning_recommendations,omitempty"`
	ApplicationPriority        int      `json:"application_priority,omitempty"` // 1-10
	GrowthSignals              []string `json:"growth_signals,omitempty"`
	PriorityReason             string   `json:"priority_reason,omitempty"`
}

// TierRecord tracks one completed analysis tier for a job. Append-only.
// Tier N+1 is never marked completed unless tier N is.
type TierRecord struct {
	Tier           int       `json:"tier"` // 1, 2, 3
	Completed      bool      `json:"completed"`
	CompletedAt    time.Time `json:"completed_at"`
	TokensUsed     int       `json:"tokens_used"`
	ModelUsed      string    `json:"model_used"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// AnalysisState tracks a job's position in the tier pipeline
type AnalysisState string

const (
	AnalysisUnanalyzed   AnalysisState = "unanalyzed"
	AnalysisTier1Pending AnalysisState = "tier1_pending"
	AnalysisTier1Done    AnalysisState = "tier1_done"
	AnalysisTier2Pending AnalysisState = "tier2_pending"
	AnalysisTier2Done    AnalysisState = "tier2_done"
	AnalysisTier3Pending AnalysisState = "tier3_pending"
	AnalysisTier3Done    AnalysisState = "tier3_done"
	AnalysisFailed       AnalysisState = "analysis_failed"
)

// TierPendingState maps a tier to the state a job enters when that tier is
// enqueued
func TierPendingState(tier int) AnalysisState {
	switch tier {
	case 1:
		return AnalysisTier1Pending
	case 2:
		return AnalysisTier2Pending
	default:
		return AnalysisTier3Pending
	}
}

// Job is the canonical durable record for a single opening.
// Once AnalysisCompleted is set with a successful tier-1 record, its identity
// fields (title, company, description) must not be overwritten by incoming
// scrape data; only LastSeenAt and IsExpired may be refreshed.
type Job struct {
	ID        string `json:"id" badgerhold:"key"`
	CompanyID string `json:"company_id" badgerholdIndex:"CompanyID"`

	Source        string `json:"source" badgerholdIndex:"Source"`
	ExternalJobID string `json:"external_job_id,omitempty"`

	Title           string          `json:"title"`
	Location        Location        `json:"location"`
	WorkArrangement WorkArrangement `json:"work_arrangement"`
	Salary          Salary          `json:"salary"`
	Description     string          `json:"description,omitempty"`
	Requirements    string          `json:"requirements,omitempty"`
	Benefits        string          `json:"benefits,omitempty"`
	Industry        string          `json:"industry,omitempty"`
	JobType         string          `json:"job_type,omitempty"`
	ExperienceLevel string          `json:"experience_level,omitempty"`

	PostingDate         *time.Time `json:"posting_date,omitempty"`
	ApplicationDeadline *time.Time `json:"application_deadline,omitempty"`
	ApplicationURL      string     `json:"application_url,omitempty"`
	ApplicationEmail    string     `json:"application_email,omitempty"`
	IsExpired           bool       `json:"is_expired"`

	ProvenanceCleanedIDs []string `json:"provenance_cleaned_ids,omitempty"`

	AnalysisCompleted bool          `json:"analysis_completed"`
	AnalysisState     AnalysisState `json:"analysis_state" badgerholdIndex:"AnalysisState"`
	FailedTier        int           `json:"failed_tier,omitempty"`
	TierRecords       []TierRecord  `json:"tier_records,omitempty"`

	Tier1 *TierOneAnalysis   `json:"tier1,omitempty"`
	Tier2 *TierTwoAnalysis   `json:"tier2,omitempty"`
	Tier3 *TierThreeAnalysis `json:"tier3,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// TierCompleted reports whether the given tier has a completed record
func (j *Job) TierCompleted(tier int) bool {
	for _, r := range j.TierRecords {
		if r.Tier == tier && r.Completed {
			return true
		}
	}
	return false
}

// Protected reports whether incoming scrape data may no longer overwrite
// this job's identity fields
func (j *Job) Protected() bool {
	return j.AnalysisCompleted && j.TierCompleted(1)
}
