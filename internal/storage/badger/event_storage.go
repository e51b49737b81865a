package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// EventLogStorage implements the append-only event log
type EventLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventLogStorage creates a new EventLogStorage instance
func NewEventLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventLogStorage {
	return &EventLogStorage{db: db, logger: logger}
}

func (s *EventLogStorage) AppendEvent(ctx context.Context, event *models.EventRecord) error {
	if event.ID == "" {
		return fmt.Errorf("event ID is required")
	}
	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *EventLogStorage) ListEvents(ctx context.Context, eventType models.EventType, limit int) ([]*models.EventRecord, error) {
	var query *badgerhold.Query
	if eventType != "" {
		query = badgerhold.Where("Type").Eq(eventType).SortBy("Timestamp").Reverse()
	} else {
		query = badgerhold.Where("ID").Ne("").SortBy("Timestamp").Reverse()
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.EventRecord
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	result := make([]*models.EventRecord, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}
