package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RawScrapeStorage implements interfaces.RawScrapeStorage for Badger
type RawScrapeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRawScrapeStorage creates a new RawScrapeStorage instance
func NewRawScrapeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RawScrapeStorage {
	return &RawScrapeStorage{db: db, logger: logger}
}

func (s *RawScrapeStorage) SaveRawScrape(ctx context.Context, raw *models.RawScrape) error {
	if raw.ID == "" {
		return fmt.Errorf("raw scrape ID is required")
	}
	if err := s.db.Store().Insert(raw.ID, raw); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("raw scrape already exists: %s", raw.ID)
		}
		return fmt.Errorf("failed to save raw scrape: %w", err)
	}
	return nil
}

func (s *RawScrapeStorage) GetRawScrape(ctx context.Context, id string) (*models.RawScrape, error) {
	var raw models.RawScrape
	if err := s.db.Store().Get(id, &raw); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw scrape: %w", err)
	}
	return &raw, nil
}

func (s *RawScrapeStorage) ListRawScrapes(ctx context.Context, source string, limit int) ([]*models.RawScrape, error) {
	query := badgerhold.Where("Source").Eq(source).SortBy("ScrapedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var raws []models.RawScrape
	if err := s.db.Store().Find(&raws, query); err != nil {
		return nil, fmt.Errorf("failed to list raw scrapes: %w", err)
	}

	result := make([]*models.RawScrape, len(raws))
	for i := range raws {
		result[i] = &raws[i]
	}
	return result, nil
}

// CleanedScrapeStorage implements interfaces.CleanedScrapeStorage for Badger
type CleanedScrapeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCleanedScrapeStorage creates a new CleanedScrapeStorage instance
func NewCleanedScrapeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CleanedScrapeStorage {
	return &CleanedScrapeStorage{db: db, logger: logger}
}

func (s *CleanedScrapeStorage) SaveCleanedScrape(ctx context.Context, cleaned *models.CleanedScrape) error {
	if cleaned.ID == "" {
		return fmt.Errorf("cleaned scrape ID is required")
	}
	if err := s.db.Store().Upsert(cleaned.ID, cleaned); err != nil {
		return fmt.Errorf("failed to save cleaned scrape: %w", err)
	}
	return nil
}

func (s *CleanedScrapeStorage) GetCleanedScrape(ctx context.Context, id string) (*models.CleanedScrape, error) {
	var cleaned models.CleanedScrape
	if err := s.db.Store().Get(id, &cleaned); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cleaned scrape: %w", err)
	}
	return &cleaned, nil
}

func (s *CleanedScrapeStorage) FindByExternalID(ctx context.Context, externalID, source string) (*models.CleanedScrape, error) {
	if externalID == "" {
		return nil, interfaces.ErrNotFound
	}

	var cleaned []models.CleanedScrape
	query := badgerhold.Where("ExternalJobID").Eq(externalID).And("Source").Eq(source).Limit(1)
	if err := s.db.Store().Find(&cleaned, query); err != nil {
		return nil, fmt.Errorf("failed to find cleaned scrape by external id: %w", err)
	}
	if len(cleaned) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &cleaned[0], nil
}

func (s *CleanedScrapeStorage) ListRecentBySource(ctx context.Context, source string, since time.Time) ([]*models.CleanedScrape, error) {
	var cleaned []models.CleanedScrape
	query := badgerhold.Where("Source").Eq(source).And("LastSeenAt").Ge(since)
	if err := s.db.Store().Find(&cleaned, query); err != nil {
		return nil, fmt.Errorf("failed to list recent cleaned scrapes: %w", err)
	}

	result := make([]*models.CleanedScrape, len(cleaned))
	for i := range cleaned {
		result[i] = &cleaned[i]
	}
	return result, nil
}

func (s *CleanedScrapeStorage) ListRecent(ctx context.Context, since time.Time) ([]*models.CleanedScrape, error) {
	var cleaned []models.CleanedScrape
	if err := s.db.Store().Find(&cleaned, badgerhold.Where("LastSeenAt").Ge(since)); err != nil {
		return nil, fmt.Errorf("failed to list recent cleaned scrapes: %w", err)
	}

	result := make([]*models.CleanedScrape, len(cleaned))
	for i := range cleaned {
		result[i] = &cleaned[i]
	}
	return result, nil
}

func (s *CleanedScrapeStorage) ListPendingReview(ctx context.Context) ([]*models.CleanedScrape, error) {
	var cleaned []models.CleanedScrape
	if err := s.db.Store().Find(&cleaned, badgerhold.Where("PendingReview").Eq(true)); err != nil {
		return nil, fmt.Errorf("failed to list pending-review scrapes: %w", err)
	}

	result := make([]*models.CleanedScrape, len(cleaned))
	for i := range cleaned {
		result[i] = &cleaned[i]
	}
	return result, nil
}
