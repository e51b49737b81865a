package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ternarybob/jobsift/internal/models"
)

// Validation failures are retryable; the whole batch returns to the queue.
// A token mismatch additionally indicates injection success and is logged as
// a security detection.
var (
	ErrValidation    = errors.New("response validation failed")
	ErrTokenMismatch = errors.New("security token mismatch")
)

// disallowedContentPatterns reject responses carrying non-job content:
// claims of system-prompt access or persona disclosures
var disallowedContentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)my\s+system\s+prompt`),
	regexp.MustCompile(`(?i)(here\s+(is|are)|revealing)\s+(my|the)\s+(instructions|system\s+prompt)`),
	regexp.MustCompile(`(?i)as\s+an\s+ai\s+(language\s+)?model,?\s+i\s+(cannot|can't|am)`),
	regexp.MustCompile(`(?i)i\s+am\s+(now\s+)?(dan|in\s+developer\s+mode)`),
	regexp.MustCompile(`(?i)ignoring\s+(my\s+)?previous\s+instructions`),
}

// JobAnalysis is one job's validated tier result
type JobAnalysis struct {
	JobID string
	Tier1 *models.TierOneAnalysis
	Tier2 *models.TierTwoAnalysis
	Tier3 *models.TierThreeAnalysis
}

type batchResponse struct {
	SecurityToken string        `json:"security_token"`
	Jobs          []jobResponse `json:"jobs"`
}

type jobResponse struct {
	JobID         string          `json:"job_id"`
	SecurityToken string          `json:"security_token"`
	Analysis      json.RawMessage `json:"analysis"`
}

// Validator canonicalizes LLM responses into tier analysis records
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate parses and checks the response against the batch it answers.
// Returns one JobAnalysis per submitted job in submission order.
func (v *Validator) Validate(tier int, token string, jobIDs []string, responseText string) ([]*JobAnalysis, error) {
	var resp batchResponse
	if err := json.Unmarshal([]byte(stripCodeFences(responseText)), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrValidation, err)
	}

	if resp.SecurityToken != token {
		return nil, fmt.Errorf("%w: batch token field", ErrTokenMismatch)
	}

	if len(resp.Jobs) != len(jobIDs) {
		return nil, fmt.Errorf("%w: expected %d job records, got %d", ErrValidation, len(jobIDs), len(resp.Jobs))
	}

	submitted := make(map[string]bool, len(jobIDs))
	for _, id := range jobIDs {
		submitted[id] = true
	}

	results := make([]*JobAnalysis, 0, len(resp.Jobs))
	for i, jr := range resp.Jobs {
		if jr.SecurityToken != token {
			return nil, fmt.Errorf("%w: job record %d", ErrTokenMismatch, i)
		}
		if !submitted[jr.JobID] {
			return nil, fmt.Errorf("%w: unknown or duplicate job_id %q in response", ErrValidation, jr.JobID)
		}
		// Consume the id so a second record for the same job fails above
		// and every submitted job is guaranteed exactly one record
		delete(submitted, jr.JobID)
		if len(jr.Analysis) == 0 {
			return nil, fmt.Errorf("%w: job %s has no analysis", ErrValidation, jr.JobID)
		}

		if err := checkDisallowedContent(jr.Analysis); err != nil {
			return nil, err
		}

		analysis, err := decodeTier(tier, jr.JobID, jr.Analysis)
		if err != nil {
			return nil, err
		}
		results = append(results, analysis)
	}

	return results, nil
}

func decodeTier(tier int, jobID string, raw json.RawMessage) (*JobAnalysis, error) {
	result := &JobAnalysis{JobID: jobID}

	switch tier {
	case 1:
		var t1 models.TierOneAnalysis
		if err := json.Unmarshal(raw, &t1); err != nil {
			return nil, fmt.Errorf("%w: job %s tier 1 shape: %v", ErrValidation, jobID, err)
		}
		for _, skill := range t1.Skills {
			if skill.Importance < 1 || skill.Importance > 10 {
				return nil, fmt.Errorf("%w: job %s skill importance %d out of range 1-10", ErrValidation, jobID, skill.Importance)
			}
			if skill.Skill == "" {
				return nil, fmt.Errorf("%w: job %s has a skill with no name", ErrValidation, jobID)
			}
		}
		result.Tier1 = &t1
	case 2:
		var t2 models.TierTwoAnalysis
		if err := json.Unmarshal(raw, &t2); err != nil {
			return nil, fmt.Errorf("%w: job %s tier 2 shape: %v", ErrValidation, jobID, err)
		}
		if t2.StressLevel != 0 && (t2.StressLevel < 1 || t2.StressLevel > 10) {
			return nil, fmt.Errorf("%w: job %s stress level %d out of range 1-10", ErrValidation, jobID, t2.StressLevel)
		}
		if t2.EstimatedHoursPerWeek < 0 || t2.EstimatedHoursPerWeek > 120 {
			return nil, fmt.Errorf("%w: job %s estimated hours %d implausible", ErrValidation, jobID, t2.EstimatedHoursPerWeek)
		}
		result.Tier2 = &t2
	case 3:
		var t3 models.TierThreeAnalysis
		if err := json.Unmarshal(raw, &t3); err != nil {
			return nil, fmt.Errorf("%w: job %s tier 3 shape: %v", ErrValidation, jobID, err)
		}
		if t3.ApplicationPriority < 1 || t3.ApplicationPriority > 10 {
			return nil, fmt.Errorf("%w: job %s application priority %d out of range 1-10", ErrValidation, jobID, t3.ApplicationPriority)
		}
		result.Tier3 = &t3
	default:
		return nil, fmt.Errorf("%w: unknown tier %d", ErrValidation, tier)
	}

	return result, nil
}

func checkDisallowedContent(raw json.RawMessage) error {
	text := string(raw)
	for _, re := range disallowedContentPatterns {
		if match := re.FindString(text); match != "" {
			return fmt.Errorf("%w: disallowed content: %q", ErrValidation, match)
		}
	}
	return nil
}

// stripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
