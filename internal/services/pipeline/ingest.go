package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

// IngestRequest carries one provider record plus its provenance
type IngestRequest struct {
	Source    string          `json:"source" validate:"required"`
	SourceURL string          `json:"source_url"`
	RunID     string          `json:"run_id"`
	Payload   json.RawMessage `json:"payload" validate:"required"`
}

// IngestService stores provider records verbatim. No transformation, no
// filtering; the cleaner owns interpretation.
type IngestService struct {
	rawStorage interfaces.RawScrapeStorage
	logger     arbor.ILogger
}

// NewIngestService creates the raw ingest service
func NewIngestService(rawStorage interfaces.RawScrapeStorage) *IngestService {
	return &IngestService{
		rawStorage: rawStorage,
		logger:     common.GetLogger(),
	}
}

// Ingest stores the provider record and returns its scrape id. A storage
// failure is reported to the caller; the caller owns the retry.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (string, error) {
	if req.Source == "" {
		return "", fmt.Errorf("ingest requires a source")
	}
	if len(req.Payload) == 0 {
		return "", fmt.Errorf("ingest requires a payload")
	}

	raw := &models.RawScrape{
		ID:           common.NewScrapeID(),
		Source:       req.Source,
		SourceURL:    req.SourceURL,
		ScrapedAt:    time.Now().UTC(),
		Payload:      req.Payload,
		ScraperRunID: req.RunID,
		Success:      true,
	}

	if err := s.rawStorage.SaveRawScrape(ctx, raw); err != nil {
		s.logger.Error().Err(err).Str("source", req.Source).Msg("Failed to store raw scrape")
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	s.logger.Debug().
		Str("scrape_id", raw.ID).
		Str("source", raw.Source).
		Int("payload_bytes", len(raw.Payload)).
		Msg("Raw scrape stored")

	return raw.ID, nil
}
