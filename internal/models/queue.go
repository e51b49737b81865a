package models

import (
	"time"
)

// QueuePriority orders analysis work. Higher numeric value leases first.
type QueuePriority int

const (
	PriorityLow    QueuePriority = 0
	PriorityNormal QueuePriority = 1
	PriorityHigh   QueuePriority = 2
)

// String returns the wire name for a priority
func (p QueuePriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority maps a wire name to a priority, defaulting to normal
func ParsePriority(s string) QueuePriority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// QueueState is the lifecycle state of an analysis queue entry.
// Transitions: pending -> in_flight -> {done, failed, pending}.
type QueueState string

const (
	QueuePending  QueueState = "pending"
	QueueInFlight QueueState = "in_flight"
	QueueDone     QueueState = "done"
	QueueFailed   QueueState = "failed"
)

// QueueEntry tracks one (job, tier) unit of analysis work. At most one entry
// per (job_id, tier) exists in a non-terminal state. Entries are deleted on
// done and retained on permanent failure.
type QueueEntry struct {
	ID            string        `json:"id" badgerhold:"key"` // job_id:tier
	JobID         string        `json:"job_id" badgerholdIndex:"JobID"`
	Tier          int           `json:"tier"` // 1, 2, 3
	Priority      QueuePriority `json:"priority"`
	State         QueueState    `json:"state" badgerholdIndex:"State"`
	Attempts      int           `json:"attempts"`
	LastError     string        `json:"last_error,omitempty"`
	NotBefore     time.Time     `json:"not_before"`
	LeaseDeadline time.Time     `json:"lease_deadline,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// QueueEntryID builds the composite key for a (job, tier) pair
func QueueEntryID(jobID string, tier int) string {
	return jobID + ":" + [...]string{"0", "1", "2", "3"}[tier]
}

// Terminal reports whether the entry has left the retry loop
func (e *QueueEntry) Terminal() bool {
	return e.State == QueueDone || e.State == QueueFailed
}

// QueueStats summarises queue depth for the dashboard collaborator
type QueueStats struct {
	PendingByTier  map[int]int `json:"pending_by_tier"`
	InFlightByTier map[int]int `json:"in_flight_by_tier"`
	FailedByTier   map[int]int `json:"failed_by_tier"`
}
