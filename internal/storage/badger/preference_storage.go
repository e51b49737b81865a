package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// PreferenceStorage persists scenarios, trained models, and job scores
type PreferenceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewPreferenceStorage creates a new PreferenceStorage instance
func NewPreferenceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.PreferenceStorage {
	return &PreferenceStorage{db: db, logger: logger}
}

func (s *PreferenceStorage) SaveScenarios(ctx context.Context, set *models.ScenarioSet) error {
	if set.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if err := s.db.Store().Upsert(set.UserID, set); err != nil {
		return fmt.Errorf("failed to save scenarios: %w", err)
	}
	return nil
}

func (s *PreferenceStorage) GetScenarios(ctx context.Context, userID string) (*models.ScenarioSet, error) {
	var set models.ScenarioSet
	if err := s.db.Store().Get(userID, &set); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scenarios: %w", err)
	}
	return &set, nil
}

func (s *PreferenceStorage) SaveModel(ctx context.Context, model *models.PreferenceModel) error {
	if model.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if err := s.db.Store().Upsert(model.UserID, model); err != nil {
		return fmt.Errorf("failed to save preference model: %w", err)
	}
	return nil
}

func (s *PreferenceStorage) GetModel(ctx context.Context, userID string) (*models.PreferenceModel, error) {
	var model models.PreferenceModel
	if err := s.db.Store().Get(userID, &model); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get preference model: %w", err)
	}
	return &model, nil
}

func (s *PreferenceStorage) SaveJobScore(ctx context.Context, score *models.JobScore) error {
	if score.ID == "" {
		score.ID = models.JobScoreID(score.UserID, score.JobID)
	}
	if err := s.db.Store().Upsert(score.ID, score); err != nil {
		return fmt.Errorf("failed to save job score: %w", err)
	}
	return nil
}

func (s *PreferenceStorage) GetJobScore(ctx context.Context, userID, jobID string) (*models.JobScore, error) {
	var score models.JobScore
	if err := s.db.Store().Get(models.JobScoreID(userID, jobID), &score); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job score: %w", err)
	}
	return &score, nil
}
