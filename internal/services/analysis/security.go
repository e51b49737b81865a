package analysis

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/jobsift/internal/common"
	"github.com/ternarybob/jobsift/internal/interfaces"
	"github.com/ternarybob/jobsift/internal/models"
)

// securityTokenPrefix marks the per-batch token in prompts and responses
const securityTokenPrefix = "SEC_TOKEN_"

// securityTokenLength is the rendered length after the prefix
const securityTokenLength = 42

// injectionPatterns cover the common prompt-injection tropes. Matches are
// logged, never blocked; the per-batch token is the enforcement mechanism.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+|the\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|directives?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+|the\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)(reveal|show|print|output|repeat)\s+(your\s+|the\s+)?(system\s+prompt|instructions|initial\s+prompt)`),
	regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`),
	regexp.MustCompile(`(?i)(act|behave|respond)\s+as\s+(if\s+you\s+(are|were)\s+)?(a\s+|an\s+)?(different|new|another)\s+`),
	regexp.MustCompile(`(?i)(developer|debug|admin|god|jailbreak|dan)\s+mode`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)new\s+(instructions?|task|persona|role)\s*:`),
	regexp.MustCompile(`(?i)</?(system|assistant|instructions?)>`),
	regexp.MustCompile(`(?i)SEC_TOKEN_\w+`),
}

// SecurityManager implements the two-phase prompt-injection defense:
// pre-call scanning of job text and per-batch token issuance.
type SecurityManager struct {
	config     *common.SecurityConfig
	detections interfaces.DetectionStorage
	events     interfaces.EventService
	patterns   []*regexp.Regexp
	logger     arbor.ILogger
}

// NewSecurityManager creates the security manager, compiling any extra
// patterns from configuration. Invalid extra patterns fail fast.
func NewSecurityManager(config *common.SecurityConfig, detections interfaces.DetectionStorage, events interfaces.EventService) (*SecurityManager, error) {
	patterns := make([]*regexp.Regexp, 0, len(injectionPatterns)+len(config.ExtraPatterns))
	patterns = append(patterns, injectionPatterns...)

	for _, raw := range config.ExtraPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid security pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}

	return &SecurityManager{
		config:     config,
		detections: detections,
		events:     events,
		patterns:   patterns,
		logger:     common.GetLogger(),
	}, nil
}

// NewSecurityToken generates a cryptographically random 256-bit per-batch
// token rendered as SEC_TOKEN_<42 chars>
func NewSecurityToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate security token: %w", err)
	}

	encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return securityTokenPrefix + encoded[:securityTokenLength], nil
}

// ScanJobText scans one job's text pre-call and logs detections. Matches do
// not block the call.
func (m *SecurityManager) ScanJobText(ctx context.Context, jobID, text string) []*models.SecurityDetection {
	var found []*models.SecurityDetection

	for _, re := range m.patterns {
		match := re.FindString(text)
		if match == "" {
			continue
		}
		found = append(found, m.record(ctx, jobID, models.DetectionSuspectedInjection, models.SeverityHigh, re.String(), sampleAround(text, match, m.config.SampleLength)))
	}

	if run := longestUnpunctuatedRun(text); run > m.config.MaxUnpunctuatedRun {
		found = append(found, m.record(ctx, jobID, models.DetectionUnpunctuatedStream, models.SeverityMedium,
			fmt.Sprintf("unpunctuated run of %d tokens", run), sampleAround(text, "", m.config.SampleLength)))
	}

	return found
}

// RecordTokenMismatch logs a token echo failure, the injection-success
// indicator
func (m *SecurityManager) RecordTokenMismatch(ctx context.Context, jobID, expected, got string) *models.SecurityDetection {
	sample := got
	if len(sample) > m.config.SampleLength {
		sample = sample[:m.config.SampleLength]
	}
	return m.record(ctx, jobID, models.DetectionTokenMismatch, models.SeverityCritical,
		fmt.Sprintf("expected %s...", expected[:len(securityTokenPrefix)+6]), sample)
}

// RecordDisallowedContent logs a validator rejection of non-job content
func (m *SecurityManager) RecordDisallowedContent(ctx context.Context, jobID, reason, sample string) *models.SecurityDetection {
	if len(sample) > m.config.SampleLength {
		sample = sample[:m.config.SampleLength]
	}
	return m.record(ctx, jobID, models.DetectionDisallowedContent, models.SeverityHigh, reason, sample)
}

func (m *SecurityManager) record(ctx context.Context, jobID string, dtype models.DetectionType, severity models.DetectionSeverity, pattern, sample string) *models.SecurityDetection {
	detection := &models.SecurityDetection{
		ID:             common.NewDetectionID(),
		JobID:          jobID,
		Type:           dtype,
		Severity:       severity,
		PatternMatched: pattern,
		TextSample:     sample,
		DetectedAt:     time.Now().UTC(),
	}

	if err := m.detections.AppendDetection(ctx, detection); err != nil {
		m.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to append security detection")
	}
	if m.events != nil {
		_ = m.events.Publish(ctx, models.EventSecurityDetected, map[string]string{
			"detection_id": detection.ID,
			"job_id":       jobID,
			"type":         string(dtype),
			"severity":     string(severity),
		})
	}

	m.logger.Warn().
		Str("job_id", jobID).
		Str("type", string(dtype)).
		Str("severity", string(severity)).
		Msg("Security detection recorded")

	return detection
}

// HashDescription returns the hash reference used when hash-and-replace is
// enabled: job text appears in the prompt only behind this reference, with
// the original revealed in a delimited data section.
func HashDescription(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "JOBTEXT_" + hex.EncodeToString(sum[:8])
}

// sampleAround returns a bounded sample centered on the match when present
func sampleAround(text, match string, limit int) string {
	if limit <= 0 {
		limit = 200
	}
	if match != "" {
		if idx := strings.Index(text, match); idx >= 0 {
			start := idx - limit/4
			if start < 0 {
				start = 0
			}
			end := start + limit
			if end > len(text) {
				end = len(text)
			}
			return text[start:end]
		}
	}
	if len(text) > limit {
		return text[:limit]
	}
	return text
}

// longestUnpunctuatedRun counts the longest run of word tokens without a
// sentence terminator
func longestUnpunctuatedRun(text string) int {
	longest, current := 0, 0
	for _, token := range strings.Fields(text) {
		current++
		if strings.ContainsAny(token, ".!?;") {
			if current > longest {
				longest = current
			}
			current = 0
		}
	}
	if current > longest {
		longest = current
	}
	return longest
}
