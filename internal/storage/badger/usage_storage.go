package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// UsageStorage persists rate-limit counters, optimizer EMA state, and the
// LLM audit trail
type UsageStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewUsageStorage creates a new UsageStorage instance
func NewUsageStorage(db *BadgerDB, logger arbor.ILogger) interfaces.UsageStorage {
	return &UsageStorage{db: db, logger: logger}
}

func (s *UsageStorage) GetCounters(ctx context.Context, modelID string) (*models.UsageCounters, error) {
	var counters models.UsageCounters
	if err := s.db.Store().Get(modelID, &counters); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get usage counters: %w", err)
	}
	return &counters, nil
}

func (s *UsageStorage) SaveCounters(ctx context.Context, counters *models.UsageCounters) error {
	if counters.ModelID == "" {
		return fmt.Errorf("model ID is required")
	}
	if err := s.db.Store().Upsert(counters.ModelID, counters); err != nil {
		return fmt.Errorf("failed to save usage counters: %w", err)
	}
	return nil
}

func (s *UsageStorage) GetEfficiency(ctx context.Context, tier int) (*models.EfficiencyState, error) {
	var state models.EfficiencyState
	if err := s.db.Store().Get(tier, &state); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get efficiency state: %w", err)
	}
	return &state, nil
}

func (s *UsageStorage) SaveEfficiency(ctx context.Context, state *models.EfficiencyState) error {
	if err := s.db.Store().Upsert(state.Tier, state); err != nil {
		return fmt.Errorf("failed to save efficiency state: %w", err)
	}
	return nil
}

func (s *UsageStorage) AppendAudit(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		return fmt.Errorf("audit record ID is required")
	}
	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}
