package models

import (
	"time"
)

// EventType identifies one kind of system event
type EventType string

const (
	EventTierCompleted    EventType = "tier_completed"
	EventTierFailed       EventType = "tier_failed"
	EventJobProtected     EventType = "job_protected"
	EventRateLimited      EventType = "rate_limited"
	EventBudgetExceeded   EventType = "budget_exceeded"
	EventSecurityDetected EventType = "security_detected"
	EventModelTrained     EventType = "model_trained"
)

// EventRecord is one entry in the append-only event log, queriable by the
// dashboard collaborator.
type EventRecord struct {
	ID        string            `json:"id" badgerhold:"key"`
	Type      EventType         `json:"type" badgerholdIndex:"Type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}
