package common

import (
	"github.com/google/uuid"
)

// NewScrapeID generates a unique raw scrape ID
// Format: scrape_<uuid>
func NewScrapeID() string {
	return "scrape_" + uuid.New().String()
}

// NewCleanedID generates a unique cleaned scrape ID
func NewCleanedID() string {
	return "cln_" + uuid.New().String()
}

// NewJobID generates a unique canonical job ID
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewCompanyID generates a unique company ID
func NewCompanyID() string {
	return "cmp_" + uuid.New().String()
}

// NewDetectionID generates a unique security detection ID
func NewDetectionID() string {
	return "det_" + uuid.New().String()
}

// NewEventID generates a unique event log ID
func NewEventID() string {
	return "evt_" + uuid.New().String()
}

// NewBatchID generates a unique analysis batch ID
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}
