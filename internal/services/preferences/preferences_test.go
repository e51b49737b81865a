package preferences

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	badgerstore "github.com/ternarybob/jobsift/internal/storage/badger"
)

func newPrefEnv(t *testing.T) (*common.Config, *Trainer, *Scorer, interfaces.PreferenceStorage) {
	t.Helper()

	cfg := common.NewDefaultConfig()
	cfg.Storage.Badger.InMemory = true

	db, err := badgerstore.NewBadgerDB(common.GetLogger(), &cfg.Storage.Badger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	storage := badgerstore.NewPreferenceStorage(db, common.GetLogger())
	trainer := NewTrainer(&cfg.Preferences, storage, nil)
	scorer := NewScorer(&cfg.Preferences, storage)
	return cfg, trainer, scorer, storage
}

// salaryCommuteScenarios vary primarily in salary and commute; everything
// else is held constant so it cannot carry signal
func salaryCommuteScenarios() []models.PreferenceScenario {
	base := func(salary, commute, acceptance float64) models.PreferenceScenario {
		return models.PreferenceScenario{
			Values: map[string]float64{
				"salary":               salary,
				"commute_time_minutes": commute,
				"career_growth":        5,
				"work_life_balance":    5,
			},
			AcceptanceScore: acceptance,
		}
	}
	return []models.PreferenceScenario{
		base(100000, 10, 90),
		base(60000, 30, 50),
		base(30000, 60, 20),
	}
}

func TestTrainer_RequiresScenarios(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)

	_, err := trainer.Train(context.Background(), "user_1")
	assert.ErrorIs(t, err, ErrNoScenarios)

	err = trainer.SaveScenarios(context.Background(), "user_1", nil)
	assert.ErrorIs(t, err, ErrNoScenarios)
}

func TestSaveScenarios_RejectsBadInput(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)
	ctx := context.Background()

	err := trainer.SaveScenarios(ctx, "user_1", []models.PreferenceScenario{
		{Values: map[string]float64{"favourite_colour": 3}, AcceptanceScore: 50},
	})
	assert.ErrorIs(t, err, ErrUnknownVariable)

	err = trainer.SaveScenarios(ctx, "user_1", []models.PreferenceScenario{
		{Values: map[string]float64{"salary": 50000}, AcceptanceScore: 140},
	})
	assert.Error(t, err)

	six := make([]models.PreferenceScenario, 6)
	for i := range six {
		six[i] = models.PreferenceScenario{Values: map[string]float64{"salary": 1}, AcceptanceScore: float64(i * 10)}
	}
	err = trainer.SaveScenarios(ctx, "user_1", six)
	assert.ErrorIs(t, err, ErrTooManyScenarios)
}

func TestTrainer_RejectsZeroVariance(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)
	ctx := context.Background()

	scenarios := []models.PreferenceScenario{
		{Values: map[string]float64{"salary": 50000}, AcceptanceScore: 60},
		{Values: map[string]float64{"salary": 90000}, AcceptanceScore: 60},
	}
	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", scenarios))

	_, err := trainer.Train(ctx, "user_1")
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestTrainer_RidgeForTwoScenarios(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)
	ctx := context.Background()

	scenarios := []models.PreferenceScenario{
		{Values: map[string]float64{"salary": 100000, "career_growth": 8}, AcceptanceScore: 85},
		{Values: map[string]float64{"salary": 45000, "career_growth": 3}, AcceptanceScore: 30},
	}
	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", scenarios))

	model, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)

	assert.Equal(t, "ridge", model.Algorithm)
	assert.NotNil(t, model.Ridge)
	assert.Equal(t, 1, model.Version)
	assertImportancesSumToOne(t, model)

	// Retraining bumps the version
	retrained, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, 2, retrained.Version)
}

func TestTrainer_ForestSalaryAndCommuteDominate(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)
	ctx := context.Background()

	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", salaryCommuteScenarios()))

	model, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)

	assert.Equal(t, "forest", model.Algorithm)
	assert.NotNil(t, model.Forest)
	assertImportancesSumToOne(t, model)

	top := topTwoImportances(model.Importances)
	assert.ElementsMatch(t, []string{"salary", "commute_time_minutes"}, top)
	assert.Contains(t, model.Formula, "Salary")
}

func TestTrainer_Deterministic(t *testing.T) {
	_, trainer, _, _ := newPrefEnv(t)
	ctx := context.Background()

	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", salaryCommuteScenarios()))

	first, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)
	second, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)

	assert.Equal(t, first.Importances, second.Importances)
	assert.Equal(t, first.Forest.Trees, second.Forest.Trees)
}

func TestScorer_NotYetAnalyzed(t *testing.T) {
	_, _, scorer, _ := newPrefEnv(t)

	job := &models.Job{ID: "job_1", Title: "Engineer"}
	_, err := scorer.ScoreJob(context.Background(), "user_1", job)
	assert.ErrorIs(t, err, ErrNotYetAnalyzed)
}

func TestScorer_NoModel(t *testing.T) {
	_, _, scorer, _ := newPrefEnv(t)

	job := analyzedJob(92000)
	_, err := scorer.ScoreJob(context.Background(), "user_1", job)
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestScorer_SalaryDrivesExplanation(t *testing.T) {
	_, trainer, scorer, _ := newPrefEnv(t)
	ctx := context.Background()

	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", salaryCommuteScenarios()))
	_, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)

	// Salary one standard deviation above the scenario mean, commute absent
	// so it sits at the standardized mean
	job := analyzedJob(92000)
	score, err := scorer.ScoreJob(ctx, "user_1", job)
	require.NoError(t, err)

	assert.Greater(t, score.Score, 50.0)
	assert.Equal(t, score.Score >= 70, score.ShouldApply)
	assert.GreaterOrEqual(t, score.Confidence, 0.0)
	assert.LessOrEqual(t, score.Confidence, 1.0)

	require.NotEmpty(t, score.Explanation)
	assert.Equal(t, "salary", score.Explanation[0].Feature)
	assert.Greater(t, score.Explanation[0].Contribution, 0.0)
}

func TestScorer_ReusesPersistedScore(t *testing.T) {
	_, trainer, scorer, _ := newPrefEnv(t)
	ctx := context.Background()

	require.NoError(t, trainer.SaveScenarios(ctx, "user_1", salaryCommuteScenarios()))
	_, err := trainer.Train(ctx, "user_1")
	require.NoError(t, err)

	job := analyzedJob(92000)
	first, err := scorer.ScoreJob(ctx, "user_1", job)
	require.NoError(t, err)
	second, err := scorer.ScoreJob(ctx, "user_1", job)
	require.NoError(t, err)

	assert.Equal(t, first.Score, second.Score)
	assert.True(t, first.ScoredAt.Equal(second.ScoredAt), "score should be reused, not recomputed")

	// Retraining invalidates the cached score
	_, err = trainer.Train(ctx, "user_1")
	require.NoError(t, err)
	third, err := scorer.ScoreJob(ctx, "user_1", job)
	require.NoError(t, err)
	assert.Greater(t, third.ModelVersion, first.ModelVersion)
}

func analyzedJob(salary float64) *models.Job {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &models.Job{
		ID:        "job_1",
		Title:     "Backend Engineer",
		Salary:    models.Salary{Low: salary, High: salary, Currency: "CAD", Period: models.SalaryAnnual},
		Tier1:     &models.TierOneAnalysis{Seniority: "mid"},
		TierRecords: []models.TierRecord{
			{Tier: 1, Completed: true, CompletedAt: now},
		},
		AnalysisCompleted: true,
		AnalysisState:     models.AnalysisTier1Done,
		UpdatedAt:         now,
	}
}

func assertImportancesSumToOne(t *testing.T, model *models.PreferenceModel) {
	t.Helper()
	var sum float64
	for _, w := range model.Importances {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func topTwoImportances(importances map[string]float64) []string {
	first, second := "", ""
	for name, w := range importances {
		switch {
		case first == "" || w > importances[first]:
			second = first
			first = name
		case second == "" || w > importances[second]:
			second = name
		}
	}
	return []string{first, second}
}
