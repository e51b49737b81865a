package preferences

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

var (
	// ErrNotYetAnalyzed is returned when tier 1 analysis has not completed;
	// the caller reports reason "not_yet_analyzed" with a null score
	ErrNotYetAnalyzed = errors.New("not_yet_analyzed")

	ErrNoModel = errors.New("no trained preference model for user")
)

// hoursPerWorkYear annualizes hourly salary figures (40h x 52 weeks)
const hoursPerWorkYear = 2080

// Scorer applies a user's trained preference model to analyzed jobs.
// Scores are persisted and reused while neither the model nor the job's
// analysis has changed.
type Scorer struct {
	config  *common.PreferencesConfig
	storage interfaces.PreferenceStorage
	logger  arbor.ILogger
}

// NewScorer creates the job scorer
func NewScorer(config *common.PreferencesConfig, storage interfaces.PreferenceStorage) *Scorer {
	return &Scorer{
		config:  config,
		storage: storage,
		logger:  common.GetLogger(),
	}
}

// ScoreJob evaluates one analyzed job against the user's model. The result
// carries the clamped score, the apply decision against the configured
// threshold, a confidence in [0,1], and the three largest signed feature
// contributions.
func (s *Scorer) ScoreJob(ctx context.Context, userID string, job *models.Job) (*models.JobScore, error) {
	if !job.TierCompleted(1) {
		return nil, ErrNotYetAnalyzed
	}

	model, err := s.storage.GetModel(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNoModel
		}
		return nil, fmt.Errorf("failed to load preference model: %w", err)
	}

	if cached, err := s.storage.GetJobScore(ctx, userID, job.ID); err == nil {
		if cached.ModelVersion == model.Version && cached.JobUpdatedAt.Equal(job.UpdatedAt) {
			return cached, nil
		}
	}

	values := extractVariables(job, s.config.Currency)
	vec := vectorize(values, model.Stats)

	raw := predict(model, vec)
	score := clamp(raw, 0, 100)

	threshold := s.config.DecisionThreshold
	confidence := clamp(abs(score-threshold)/threshold, 0, 1)

	result := &models.JobScore{
		ID:           models.JobScoreID(userID, job.ID),
		UserID:       userID,
		JobID:        job.ID,
		Score:        score,
		ShouldApply:  score >= threshold,
		Confidence:   confidence,
		Explanation:  topContributions(model, vec, 3),
		ModelVersion: model.Version,
		JobUpdatedAt: job.UpdatedAt,
		ScoredAt:     time.Now().UTC(),
	}

	if err := s.storage.SaveJobScore(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to persist job score: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("job_id", job.ID).
		Float64("score", result.Score).
		Bool("should_apply", result.ShouldApply).
		Msg("Job scored")

	return result, nil
}

func predict(model *models.PreferenceModel, vec []float64) float64 {
	if model.Ridge != nil {
		return predictRidge(model.Ridge, vec)
	}
	if model.Forest != nil {
		return predictForest(model.Forest, vec)
	}
	return 0
}

// topContributions ranks recognized variables by the magnitude of their
// signed contribution to the prediction. For the linear model that is
// coefficient times standardized value; for the ensemble it is the
// prediction shift when the feature is neutralized to the standardized
// mean. Missing indicators stay internal.
func topContributions(model *models.PreferenceModel, vec []float64, limit int) []models.FeatureContribution {
	n := len(models.PreferenceVariables)
	contributions := make([]models.FeatureContribution, 0, n)

	for i, name := range models.PreferenceVariables {
		var c float64
		switch {
		case model.Ridge != nil:
			c = model.Ridge.Coefficients[i] * vec[i]
		case model.Forest != nil:
			neutral := make([]float64, len(vec))
			copy(neutral, vec)
			neutral[i] = 0
			c = predictForest(model.Forest, vec) - predictForest(model.Forest, neutral)
		}
		contributions = append(contributions, models.FeatureContribution{Feature: name, Contribution: c})
	}

	sort.Slice(contributions, func(i, j int) bool {
		return abs(contributions[i].Contribution) > abs(contributions[j].Contribution)
	})

	if len(contributions) > limit {
		contributions = contributions[:limit]
	}
	return contributions
}

// extractVariables maps an analyzed job into the recognized variable space.
// Variables with no grounding in the job data stay absent and are imputed
// during vectorization. Salary in a currency other than the user's is
// treated as missing; no conversion is attempted.
func extractVariables(job *models.Job, userCurrency string) map[string]float64 {
	values := make(map[string]float64)

	currencyMatches := job.Salary.Currency == "" || userCurrency == "" || job.Salary.Currency == userCurrency
	if !job.Salary.IsEmpty() && currencyMatches {
		midpoint := job.Salary.Midpoint()
		if job.Salary.Period == models.SalaryHourly {
			midpoint *= hoursPerWorkYear
		}
		values["salary"] = midpoint
	}

	// Remote work is the only commute the job itself can testify to;
	// anything else needs the user's home location
	if job.WorkArrangement == models.WorkRemote {
		values["commute_time_minutes"] = 0
	}

	switch job.WorkArrangement {
	case models.WorkRemote:
		values["location_flexibility"] = 10
	case models.WorkHybrid:
		values["location_flexibility"] = 6
	case models.WorkOnsite:
		values["location_flexibility"] = 2
	}

	if job.Tier2 != nil {
		if job.Tier2.StressLevel > 0 {
			values["acceptable_stress"] = float64(job.Tier2.StressLevel)
		}
		if job.Tier2.EstimatedHoursPerWeek > 0 {
			hours := float64(job.Tier2.EstimatedHoursPerWeek)
			values["work_hours_per_week"] = hours
			values["work_life_balance"] = clamp(10-(hours-40)/4, 0, 10)
		}
	}

	if job.Tier3 != nil && len(job.Tier3.GrowthSignals) > 0 {
		values["career_growth"] = clamp(2+2*float64(len(job.Tier3.GrowthSignals)), 0, 10)
	}

	if job.Tier1 != nil && len(job.Tier1.Benefits) > 0 {
		values["compensation_benefits"] = clamp(2*float64(len(job.Tier1.Benefits)), 0, 10)
	}

	return values
}
