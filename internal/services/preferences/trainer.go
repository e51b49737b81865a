package preferences

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

var (
	ErrNoScenarios      = errors.New("at least one preference scenario is required")
	ErrDegenerate       = errors.New("scenarios have zero variance in acceptance_score; add examples with different outcomes")
	ErrUnknownVariable  = errors.New("unrecognized preference variable")
	ErrTooManyScenarios = errors.New("too many scenarios")
)

// displayNames render variables in the human-readable formula string
var displayNames = map[string]string{
	"salary":                  "Salary",
	"commute_time_minutes":    "Commute",
	"work_hours_per_week":     "Work Hours",
	"acceptable_stress":       "Stress",
	"career_growth":           "Career Growth",
	"work_life_balance":       "Work-Life Balance",
	"compensation_benefits":   "Benefits",
	"location_flexibility":    "Location Flexibility",
	"industry_fit":            "Industry Fit",
	"company_size_preference": "Company Size",
	"job_security":            "Job Security",
}

// Trainer owns scenario storage and regression training. Training replaces
// the user's model as a whole; reads of the previous model stay valid.
type Trainer struct {
	config   *common.PreferencesConfig
	storage  interfaces.PreferenceStorage
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

// NewTrainer creates the preference trainer
func NewTrainer(config *common.PreferencesConfig, storage interfaces.PreferenceStorage, events interfaces.EventService) *Trainer {
	return &Trainer{
		config:   config,
		storage:  storage,
		events:   events,
		validate: validator.New(),
		logger:   common.GetLogger(),
	}
}

// SaveScenarios validates and replaces the user's scenario set
func (t *Trainer) SaveScenarios(ctx context.Context, userID string, scenarios []models.PreferenceScenario) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(scenarios) == 0 {
		return ErrNoScenarios
	}
	if len(scenarios) > t.config.MaxScenarios {
		return fmt.Errorf("%w: %d exceeds the maximum of %d", ErrTooManyScenarios, len(scenarios), t.config.MaxScenarios)
	}

	for i, scenario := range scenarios {
		if err := t.validate.Struct(scenario); err != nil {
			return fmt.Errorf("scenario %d: %w", i+1, err)
		}
		for name := range scenario.Values {
			if valueIndex(name) < 0 {
				return fmt.Errorf("%w: %q in scenario %d", ErrUnknownVariable, name, i+1)
			}
		}
	}

	set := &models.ScenarioSet{
		UserID:    userID,
		Scenarios: scenarios,
		UpdatedAt: time.Now().UTC(),
	}
	if err := t.storage.SaveScenarios(ctx, set); err != nil {
		return fmt.Errorf("failed to save scenarios: %w", err)
	}

	t.logger.Info().
		Str("user_id", userID).
		Int("scenarios", len(scenarios)).
		Msg("Preference scenarios saved")
	return nil
}

// Train fits a regression to the user's stored scenarios and persists the
// resulting model. Two or fewer scenarios get the regularized linear model;
// three or more get the tree ensemble. Deterministic given the scenarios
// and the configured seed.
func (t *Trainer) Train(ctx context.Context, userID string) (*models.PreferenceModel, error) {
	set, err := t.storage.GetScenarios(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrNoScenarios
		}
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}
	if len(set.Scenarios) == 0 {
		return nil, ErrNoScenarios
	}

	targets := make([]float64, len(set.Scenarios))
	for i, s := range set.Scenarios {
		targets[i] = s.AcceptanceScore
	}
	if len(targets) > 1 && variance(targets) == 0 {
		return nil, ErrDegenerate
	}

	stats := computeStats(set.Scenarios)
	rows := make([][]float64, len(set.Scenarios))
	for i, s := range set.Scenarios {
		rows[i] = vectorize(s.Values, stats)
	}

	model := &models.PreferenceModel{
		UserID:        userID,
		Features:      append([]string(nil), models.PreferenceVariables...),
		Stats:         stats,
		ScenarioCount: len(set.Scenarios),
		TrainedAt:     time.Now().UTC(),
	}

	if len(set.Scenarios) <= 2 {
		ridge, err := trainRidge(rows, targets, defaultLambda)
		if err != nil {
			return nil, fmt.Errorf("ridge training failed: %w", err)
		}
		model.Algorithm = "ridge"
		model.Ridge = ridge
		model.Importances = ridgeImportances(ridge)
	} else {
		forest := trainForest(rows, targets, t.config.Seed)
		model.Algorithm = "forest"
		model.Forest = forest
		model.Importances = forestImportances(forest, rows, targets)
	}

	model.Formula = formulaString(model.Importances)

	if previous, err := t.storage.GetModel(ctx, userID); err == nil {
		model.Version = previous.Version + 1
	} else {
		model.Version = 1
	}

	if err := t.storage.SaveModel(ctx, model); err != nil {
		return nil, fmt.Errorf("failed to persist preference model: %w", err)
	}

	if t.events != nil {
		_ = t.events.Publish(ctx, models.EventModelTrained, map[string]string{
			"user_id":   userID,
			"algorithm": model.Algorithm,
			"version":   fmt.Sprint(model.Version),
			"scenarios": fmt.Sprint(model.ScenarioCount),
		})
	}

	t.logger.Info().
		Str("user_id", userID).
		Str("algorithm", model.Algorithm).
		Int("version", model.Version).
		Str("formula", model.Formula).
		Msg("Preference model trained")

	return model, nil
}

// formulaString renders the top features by importance, largest first
func formulaString(importances map[string]float64) string {
	type entry struct {
		name   string
		weight float64
	}
	entries := make([]entry, 0, len(importances))
	for name, weight := range importances {
		if weight > 0.005 {
			entries = append(entries, entry{name, weight})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].name < entries[j].name
	})

	if len(entries) > 4 {
		entries = entries[:4]
	}

	parts := make([]string, len(entries))
	for i, e := range entries {
		name := displayNames[e.name]
		if name == "" {
			name = e.name
		}
		parts[i] = fmt.Sprintf("%.0f%% × %s", e.weight*100, name)
	}
	return "acceptance = " + strings.Join(parts, " + ")
}
