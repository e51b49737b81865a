package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

// Token efficiency target band. The EMA of consumed/allocated output tokens
// should sit inside it; values outside trigger base-token adjustment, and a
// sustained high EMA downgrades to the lite model.
const (
	efficiencyLow       = 0.60
	efficiencyHigh      = 0.80
	efficiencyDowngrade = 0.85
	downgradeMinSamples = 5
	adjustStep          = 0.10
)

// BatchPlan is the optimizer's decision for one dispatch
type BatchPlan struct {
	BatchSize       int      `json:"batch_size"`
	ModelID         string   `json:"model_id"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	ReasonText      string   `json:"reason_text"`
	JobIDs          []string `json:"job_ids"`
}

// Optimizer produces batch plans from tier parameters and persisted token
// efficiency state. Pure given its inputs and the EMA state.
type Optimizer struct {
	config *common.Config
	usage  interfaces.UsageStorage
	logger arbor.ILogger
}

// NewOptimizer creates the batch optimizer
func NewOptimizer(config *common.Config, usage interfaces.UsageStorage) *Optimizer {
	return &Optimizer{
		config: config,
		usage:  usage,
		logger: common.GetLogger(),
	}
}

// Plan computes the batch size, model, and output token budget for a tier's
// candidate jobs. The batch shrinks until it fits the model context; size 0
// is impossible.
func (o *Optimizer) Plan(ctx context.Context, tier int, jobs []*models.Job) (*BatchPlan, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("cannot plan an empty batch")
	}

	tierCfg := o.config.TierBatch(tier)
	baseTokens, ema, samples := o.loadEfficiency(ctx, tier, tierCfg.BaseOutputTokens)

	model, reason := o.selectModel(tier, len(jobs), ema, samples)

	batchSize := len(jobs)
	if batchSize > tierCfg.MaxBatchSize {
		batchSize = tierCfg.MaxBatchSize
	}
	if batchSize < tierCfg.MinBatchSize {
		// Fewer candidates than the tier's target floor; dispatch anyway so
		// a lone job is never starved, but say so in the plan
		reason = fmt.Sprintf("%s; underfull batch of %d (target floor %d)", reason, batchSize, tierCfg.MinBatchSize)
	}

	contextBudget := int(float64(model.ContextWindow) * o.config.Batching.ContextFraction)

	var maxOutput int
	for batchSize >= 1 {
		inputTokens := o.estimateInputTokens(jobs[:batchSize])
		maxOutput = o.outputBudget(baseTokens, batchSize, model)
		if inputTokens+maxOutput <= contextBudget {
			break
		}
		if batchSize == 1 {
			// A single job must always fit; cap output to the remaining room
			room := contextBudget - inputTokens
			if room < 1 {
				return nil, fmt.Errorf("job %s alone exceeds the context window of %s", jobs[0].ID, model.ID)
			}
			if maxOutput > room {
				maxOutput = room
			}
			break
		}
		batchSize--
		reason = fmt.Sprintf("%s; batch reduced to fit context", reason)
	}

	jobIDs := make([]string, batchSize)
	for i := 0; i < batchSize; i++ {
		jobIDs[i] = jobs[i].ID
	}

	plan := &BatchPlan{
		BatchSize:       batchSize,
		ModelID:         model.ID,
		MaxOutputTokens: maxOutput,
		ReasonText:      reason,
		JobIDs:          jobIDs,
	}

	o.logger.Debug().
		Int("tier", tier).
		Int("batch_size", plan.BatchSize).
		Str("model", plan.ModelID).
		Int("max_output_tokens", plan.MaxOutputTokens).
		Str("reason", plan.ReasonText).
		Msg("Batch plan computed")

	return plan, nil
}

// RecordUsage feeds one call's consumed/allocated ratio into the per-tier
// efficiency EMA and adjusts the base output tokens when the EMA leaves the
// target band. Called by the scheduler worker only.
func (o *Optimizer) RecordUsage(ctx context.Context, tier, allocatedTokens, consumedTokens int) error {
	if allocatedTokens <= 0 {
		return nil
	}

	tierCfg := o.config.TierBatch(tier)
	state, err := o.usage.GetEfficiency(ctx, tier)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("failed to load efficiency state: %w", err)
		}
		state = &models.EfficiencyState{Tier: tier, BaseTokens: tierCfg.BaseOutputTokens}
	}
	if state.BaseTokens <= 0 {
		state.BaseTokens = tierCfg.BaseOutputTokens
	}

	ratio := float64(consumedTokens) / float64(allocatedTokens)
	if ratio > 1 {
		ratio = 1
	}

	alpha := o.config.Batching.EMAAlpha
	if state.Samples == 0 {
		state.EMA = ratio
	} else {
		state.EMA = alpha*ratio + (1-alpha)*state.EMA
	}
	state.Samples++

	// Adjust base allocation toward the band
	switch {
	case state.EMA < efficiencyLow && state.Samples >= 3:
		state.BaseTokens = int(float64(state.BaseTokens) * (1 - adjustStep))
		if state.BaseTokens < tierCfg.BaseOutputTokens/2 {
			state.BaseTokens = tierCfg.BaseOutputTokens / 2
		}
	case state.EMA > efficiencyHigh && state.Samples >= 3:
		state.BaseTokens = int(float64(state.BaseTokens) * (1 + adjustStep))
		if state.BaseTokens > tierCfg.BaseOutputTokens*2 {
			state.BaseTokens = tierCfg.BaseOutputTokens * 2
		}
	}

	state.UpdatedAt = time.Now().UTC()
	return o.usage.SaveEfficiency(ctx, state)
}

func (o *Optimizer) loadEfficiency(ctx context.Context, tier, defaultBase int) (base int, ema float64, samples int) {
	state, err := o.usage.GetEfficiency(ctx, tier)
	if err != nil || state == nil || state.BaseTokens <= 0 {
		return defaultBase, 0, 0
	}
	return state.BaseTokens, state.EMA, state.Samples
}

// selectModel applies the routing rules: tier 1 and large batches use the
// standard model, tiers 2 and 3 use the premium model for nuanced reasoning,
// and a sustained high efficiency EMA temporarily downgrades to the lite
// model for conservation
func (o *Optimizer) selectModel(tier, candidates int, ema float64, samples int) (common.ModelConfig, string) {
	if ema > efficiencyDowngrade && samples >= downgradeMinSamples {
		if lite, ok := o.config.ModelByRole("lite"); ok {
			return lite, fmt.Sprintf("efficiency EMA %.2f above %.2f; conserving with lite model", ema, efficiencyDowngrade)
		}
	}

	if tier >= 2 {
		if premium, ok := o.config.ModelByRole("premium"); ok {
			return premium, fmt.Sprintf("tier %d requires nuanced reasoning; premium model", tier)
		}
	}

	standard, _ := o.config.ModelByRole("standard")
	if candidates > 1 {
		return standard, fmt.Sprintf("tier %d batch of %d; standard model", tier, candidates)
	}
	return standard, fmt.Sprintf("tier %d single job; standard model", tier)
}

// estimateInputTokens estimates prompt tokens from job text length using the
// configured chars-per-token ratio plus the fixed prompt overhead
func (o *Optimizer) estimateInputTokens(jobs []*models.Job) int {
	total := o.config.Batching.PromptOverhead
	for _, job := range jobs {
		chars := len(job.Title) + len(job.Description) + len(job.Requirements) + len(job.Benefits)
		total += int(float64(chars)/o.config.Batching.CharsPerToken) + 50
	}
	return total
}

// outputBudget computes max output tokens: per-job base x batch x safety
// margin, capped at the model output limit
func (o *Optimizer) outputBudget(baseTokens, batchSize int, model common.ModelConfig) int {
	budget := int(float64(baseTokens) * float64(batchSize) * o.config.Batching.SafetyMargin)
	if budget > model.MaxOutputTokens {
		budget = model.MaxOutputTokens
	}
	return budget
}

// EstimateCostUSD prices a planned call from the model catalog. Zero when
// the model carries no price.
func (o *Optimizer) EstimateCostUSD(plan *BatchPlan, jobs []*models.Job) float64 {
	model, ok := o.config.ModelByID(plan.ModelID)
	if !ok {
		return 0
	}
	inputTokens := o.estimateInputTokens(jobs[:plan.BatchSize])
	return float64(inputTokens)/1e6*model.InputUSDPerMTok +
		float64(plan.MaxOutputTokens)/1e6*model.OutputUSDPerMTok
}
