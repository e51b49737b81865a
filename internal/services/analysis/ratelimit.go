package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
	"golang.org/x/time/rate"
)

// DenialReason explains a refused dispatch
type DenialReason string

const (
	DeniedRPM    DenialReason = "rpm_exhausted"
	DeniedRPD    DenialReason = "rpd_exhausted"
	DeniedBudget DenialReason = "budget_exceeded"
)

// Denial carries when the next slot opens and why dispatch was refused
type Denial struct {
	Reason DenialReason
	Until  time.Time
}

func (d *Denial) Error() string {
	return fmt.Sprintf("dispatch denied: %s until %s", d.Reason, d.Until.Format(time.RFC3339))
}

// RateLimiter owns the persisted request and spend counters. Budget is
// reserved before dispatch and committed or rolled back after, so restarts
// and failures never double-count. Single owner: the scheduler.
type RateLimiter struct {
	config *common.LLMConfig
	usage  interfaces.UsageStorage
	events interfaces.EventService
	logger arbor.ILogger

	// In-process pacer smoothing bursts below the persisted minute window
	pacer *rate.Limiter

	mu sync.Mutex
}

// NewRateLimiter creates the limiter from configuration
func NewRateLimiter(config *common.LLMConfig, usage interfaces.UsageStorage, events interfaces.EventService) *RateLimiter {
	perSecond := rate.Limit(float64(config.RPM) / 60.0)
	return &RateLimiter{
		config: config,
		usage:  usage,
		events: events,
		logger: common.GetLogger(),
		pacer:  rate.NewLimiter(perSecond, burstFor(config.RPM)),
	}
}

func burstFor(rpm int) int {
	burst := rpm / 4
	if burst < 1 {
		burst = 1
	}
	return burst
}

// Acquire reserves one request slot and the estimated spend for a call to
// the given model. On denial, the returned *Denial says when to retry.
func (l *RateLimiter) Acquire(ctx context.Context, modelID string, estCostUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	counters, err := l.loadCounters(ctx, modelID, now)
	if err != nil {
		return err
	}

	// Sliding minute window
	window := counters.MinuteWindow[:0]
	for _, ts := range counters.MinuteWindow {
		if now.Sub(ts) < time.Minute {
			window = append(window, ts)
		}
	}
	counters.MinuteWindow = window

	if len(counters.MinuteWindow) >= l.config.RPM {
		earliest := counters.MinuteWindow[0]
		denial := &Denial{Reason: DeniedRPM, Until: earliest.Add(time.Minute)}
		l.publishRateLimited(ctx, modelID, denial)
		return denial
	}

	if counters.DayRequests >= l.config.RPD {
		denial := &Denial{Reason: DeniedRPD, Until: nextUTCMidnight(now)}
		l.publishRateLimited(ctx, modelID, denial)
		return denial
	}

	if denied := l.checkBudget(counters, estCostUSD, now); denied != nil {
		l.publishBudgetExceeded(ctx, modelID, estCostUSD, denied)
		return denied
	}

	if r := l.pacer.Reserve(); r.Delay() > 0 {
		until := now.Add(r.Delay())
		r.Cancel()
		return &Denial{Reason: DeniedRPM, Until: until}
	}

	counters.MinuteWindow = append(counters.MinuteWindow, now)
	counters.DayRequests++
	counters.ReservedUSD += estCostUSD
	counters.UpdatedAt = now

	return l.usage.SaveCounters(ctx, counters)
}

// Commit replaces a reservation with the actual spend of a finished call
func (l *RateLimiter) Commit(ctx context.Context, modelID string, reservedUSD, actualUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	counters, err := l.loadCounters(ctx, modelID, now)
	if err != nil {
		return err
	}

	counters.ReservedUSD -= reservedUSD
	if counters.ReservedUSD < 0 {
		counters.ReservedUSD = 0
	}
	counters.DaySpendUSD += actualUSD
	counters.MonthSpendUSD += actualUSD
	counters.UpdatedAt = now

	return l.usage.SaveCounters(ctx, counters)
}

// Rollback releases a reservation after a failed call. The request still
// counts against the rate windows.
func (l *RateLimiter) Rollback(ctx context.Context, modelID string, reservedUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	counters, err := l.loadCounters(ctx, modelID, now)
	if err != nil {
		return err
	}

	counters.ReservedUSD -= reservedUSD
	if counters.ReservedUSD < 0 {
		counters.ReservedUSD = 0
	}
	counters.UpdatedAt = now

	return l.usage.SaveCounters(ctx, counters)
}

// ResetDailyCounters clears the fixed daily counters for every model in the
// catalog. Run by the maintenance scheduler at UTC midnight; counters also
// self-reset on day rollover as a fallback.
func (l *RateLimiter) ResetDailyCounters(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	for _, model := range l.config.Models {
		counters, err := l.loadCounters(ctx, model.ID, now)
		if err != nil {
			return err
		}
		counters.Day = now.Format("2006-01-02")
		counters.DayRequests = 0
		counters.DaySpendUSD = 0
		counters.UpdatedAt = now
		if err := l.usage.SaveCounters(ctx, counters); err != nil {
			return err
		}
	}
	return nil
}

// loadCounters fetches counters for a model, rolling the day and month
// windows forward when they have lapsed
func (l *RateLimiter) loadCounters(ctx context.Context, modelID string, now time.Time) (*models.UsageCounters, error) {
	counters, err := l.usage.GetCounters(ctx, modelID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, fmt.Errorf("failed to load usage counters: %w", err)
		}
		counters = &models.UsageCounters{ModelID: modelID}
	}

	day := now.Format("2006-01-02")
	if counters.Day != day {
		counters.Day = day
		counters.DayRequests = 0
		counters.DaySpendUSD = 0
	}

	month := now.Format("2006-01")
	if counters.Month != month {
		counters.Month = month
		counters.MonthSpendUSD = 0
	}

	return counters, nil
}

// checkBudget refuses dispatch when the reserved plus committed spend would
// exceed a configured cap. Zero caps disable the check.
func (l *RateLimiter) checkBudget(counters *models.UsageCounters, estCostUSD float64, now time.Time) *Denial {
	if l.config.DailyMaxUSD > 0 && counters.DaySpendUSD+counters.ReservedUSD+estCostUSD > l.config.DailyMaxUSD {
		return &Denial{Reason: DeniedBudget, Until: nextUTCMidnight(now)}
	}
	if l.config.MonthlyMaxUSD > 0 && counters.MonthSpendUSD+counters.ReservedUSD+estCostUSD > l.config.MonthlyMaxUSD {
		return &Denial{Reason: DeniedBudget, Until: nextUTCMonth(now)}
	}
	return nil
}

func (l *RateLimiter) publishRateLimited(ctx context.Context, modelID string, denial *Denial) {
	if l.events == nil {
		return
	}
	_ = l.events.Publish(ctx, models.EventRateLimited, map[string]string{
		"model_id": modelID,
		"reason":   string(denial.Reason),
		"until":    denial.Until.Format(time.RFC3339),
	})
}

func (l *RateLimiter) publishBudgetExceeded(ctx context.Context, modelID string, estCostUSD float64, denial *Denial) {
	if l.events == nil {
		return
	}
	_ = l.events.Publish(ctx, models.EventBudgetExceeded, map[string]string{
		"model_id":     modelID,
		"est_cost_usd": fmt.Sprintf("%.4f", estCostUSD),
		"until":        denial.Until.Format(time.RFC3339),
	})
	l.logger.Warn().
		Str("model_id", modelID).
		Float64("est_cost_usd", estCostUSD).
		Msg("Spend budget exceeded; dispatch refused")
}

func nextUTCMidnight(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func nextUTCMonth(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}
