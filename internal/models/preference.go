package models

import (
	"time"
)

// PreferenceVariables are the recognized feature names for preference
// scenarios and job scoring, in canonical order.
var PreferenceVariables = []string{
	"salary",
	"commute_time_minutes",
	"work_hours_per_week",
	"acceptable_stress",
	"career_growth",
	"work_life_balance",
	"compensation_benefits",
	"location_flexibility",
	"industry_fit",
	"company_size_preference",
	"job_security",
}

// InverseVariables are sign-flipped during standardization so that
// "higher is better" holds uniformly.
var InverseVariables = map[string]bool{
	"commute_time_minutes": true,
	"acceptable_stress":    true,
}

// PreferenceScenario is one user-supplied example: a partial mapping from
// the recognized variables to values plus an acceptance score in [0,100].
type PreferenceScenario struct {
	Values          map[string]float64 `json:"values"`
	AcceptanceScore float64            `json:"acceptance_score" validate:"gte=0,lte=100"`
}

// ScenarioSet is the stored set of scenarios for one user, replaced as a
// whole on retraining.
type ScenarioSet struct {
	UserID    string               `json:"user_id" badgerhold:"key"`
	Scenarios []PreferenceScenario `json:"scenarios"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// FeatureStats holds the per-feature standardization statistics computed
// over a user's scenarios.
type FeatureStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// PreferenceModel is the trained regression for one user. Parameters are
// stored as portable structured data, never as a language object graph.
type PreferenceModel struct {
	UserID        string                  `json:"user_id" badgerhold:"key"`
	Algorithm     string                  `json:"algorithm"` // "ridge" or "forest"
	Version       int                     `json:"version"`
	Features      []string                `json:"features"` // Canonical order used by the parameters
	Stats         map[string]FeatureStats `json:"stats"`
	Ridge         *RidgeParams            `json:"ridge,omitempty"`
	Forest        *ForestParams           `json:"forest,omitempty"`
	Importances   map[string]float64      `json:"importances"` // Sums to 1.0
	Formula       string                  `json:"formula"`     // Human-readable top-feature formula
	ScenarioCount int                     `json:"scenario_count"`
	TrainedAt     time.Time               `json:"trained_at"`
}

// RidgeParams are the learned coefficients of the regularized linear model
type RidgeParams struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"` // Aligned with Features plus missing indicators
	Lambda       float64   `json:"lambda"`
}

// ForestParams are the serialized trees of the ensemble model
type ForestParams struct {
	Trees []RegressionTree `json:"trees"`
	Seed  int64            `json:"seed"`
}

// RegressionTree is one deterministic tree serialized as node arrays
type RegressionTree struct {
	Feature   []int     `json:"feature"`   // Split feature index, -1 for leaf
	Threshold []float64 `json:"threshold"` // Split threshold per node
	Left      []int     `json:"left"`      // Child indices, -1 for none
	Right     []int     `json:"right"`
	Value     []float64 `json:"value"` // Leaf prediction per node
}

// FeatureContribution is one signed contribution in a score explanation
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// JobScore is the persisted result of applying a preference model to an
// analyzed job. Reused while neither the model nor the analysis changes.
type JobScore struct {
	ID           string                `json:"id" badgerhold:"key"` // user_id:job_id
	UserID       string                `json:"user_id" badgerholdIndex:"UserID"`
	JobID        string                `json:"job_id" badgerholdIndex:"JobID"`
	Score        float64               `json:"score"` // [0,100]
	ShouldApply  bool                  `json:"should_apply"`
	Confidence   float64               `json:"confidence"` // [0,1]
	Explanation  []FeatureContribution `json:"explanation"`
	ModelVersion int                   `json:"model_version"`
	JobUpdatedAt time.Time             `json:"job_updated_at"` // Analysis freshness marker
	ScoredAt     time.Time             `json:"scored_at"`
}

// JobScoreID builds the composite key for a (user, job) score
func JobScoreID(userID, jobID string) string {
	return userID + ":" + jobID
}
