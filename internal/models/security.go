package models

import (
	"time"
)

// DetectionType classifies a security detection
type DetectionType string

const (
	DetectionSuspectedInjection  DetectionType = "suspected_injection"
	DetectionUnpunctuatedStream  DetectionType = "unpunctuated_stream"
	DetectionTokenMismatch       DetectionType = "token_mismatch"
	DetectionDisallowedContent   DetectionType = "disallowed_content"
)

// DetectionSeverity grades how suspicious a detection is
type DetectionSeverity string

const (
	SeverityLow      DetectionSeverity = "low"
	SeverityMedium   DetectionSeverity = "medium"
	SeverityHigh     DetectionSeverity = "high"
	SeverityCritical DetectionSeverity = "critical"
)

// SecurityDetection is an append-only record of a prompt-injection signal.
// Detections never block the pipeline; they are logged and surfaced.
type SecurityDetection struct {
	ID             string            `json:"id" badgerhold:"key"`
	JobID          string            `json:"job_id,omitempty" badgerholdIndex:"JobID"`
	Type           DetectionType     `json:"type"`
	Severity       DetectionSeverity `json:"severity"`
	PatternMatched string            `json:"pattern_matched,omitempty"`
	TextSample     string            `json:"text_sample,omitempty"` // Bounded length
	Metadata       map[string]string `json:"metadata,omitempty"`
	DetectedAt     time.Time         `json:"detected_at"`
	Handled        bool              `json:"handled"`
	ActionTaken    string            `json:"action_taken,omitempty"`
}
