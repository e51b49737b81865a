package models

import (
	"time"
)

// UsageCounters is the persisted rate-limit and spend accounting for one
// model. Persisted so restarts never exceed budgets.
type UsageCounters struct {
	ModelID string `json:"model_id" badgerhold:"key"`

	// Sliding window of request timestamps for requests-per-minute
	MinuteWindow []time.Time `json:"minute_window"`

	// Fixed daily counter, reset at UTC midnight
	Day          string `json:"day"` // YYYY-MM-DD (UTC)
	DayRequests  int    `json:"day_requests"`
	DaySpendUSD  float64 `json:"day_spend_usd"`

	Month         string  `json:"month"` // YYYY-MM (UTC)
	MonthSpendUSD float64 `json:"month_spend_usd"`

	// Spend reserved for in-flight calls, rolled back on failure
	ReservedUSD float64 `json:"reserved_usd"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EfficiencyState is the optimizer's persisted token-efficiency EMA per tier
type EfficiencyState struct {
	Tier      int       `json:"tier" badgerhold:"key"`
	EMA       float64   `json:"ema"` // Consumed/allocated output tokens
	Samples   int       `json:"samples"`
	BaseTokens int      `json:"base_tokens"` // Adjusted per-tier base output tokens
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditRecord is one append-only entry of a dispatched LLM call
type AuditRecord struct {
	ID           string    `json:"id" badgerhold:"key"`
	BatchID      string    `json:"batch_id"`
	Tier         int       `json:"tier"`
	ModelID      string    `json:"model_id"`
	JobIDs       []string  `json:"job_ids"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMs   int64     `json:"duration_ms"`
	Outcome      string    `json:"outcome"` // done, retryable_failure, permanent_failure
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
