package interfaces

import (
	"encoding/json"

	"github.com/ternarybob/jobsift/internal/models"
)

// ScrapeAdapter parses one provider's payload shape into canonical fields.
// Adapters are registered with the cleaner and selected by provider id;
// an unregistered provider is a cleaning error, never a guess.
type ScrapeAdapter interface {
	// Provider returns the provider id this adapter handles
	Provider() string

	// Parse extracts posting fields from the provider payload. Fields that
	// cannot be parsed are left unset; free-text fields like salary and
	// location are passed through raw for the cleaner to normalize.
	Parse(payload json.RawMessage) (*models.ParsedPosting, error)
}
