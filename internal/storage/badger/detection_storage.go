package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DetectionStorage implements the append-only security detection log
type DetectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDetectionStorage creates a new DetectionStorage instance
func NewDetectionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DetectionStorage {
	return &DetectionStorage{db: db, logger: logger}
}

func (s *DetectionStorage) AppendDetection(ctx context.Context, detection *models.SecurityDetection) error {
	if detection.ID == "" {
		return fmt.Errorf("detection ID is required")
	}
	if err := s.db.Store().Insert(detection.ID, detection); err != nil {
		return fmt.Errorf("failed to append security detection: %w", err)
	}
	return nil
}

func (s *DetectionStorage) ListDetections(ctx context.Context, jobID string, limit int) ([]*models.SecurityDetection, error) {
	var query *badgerhold.Query
	if jobID != "" {
		query = badgerhold.Where("JobID").Eq(jobID).SortBy("DetectedAt").Reverse()
	} else {
		query = badgerhold.Where("ID").Ne("").SortBy("DetectedAt").Reverse()
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var detections []models.SecurityDetection
	if err := s.db.Store().Find(&detections, query); err != nil {
		return nil, fmt.Errorf("failed to list security detections: %w", err)
	}

	result := make([]*models.SecurityDetection, len(detections))
	for i := range detections {
		result[i] = &detections[i]
	}
	return result, nil
}
