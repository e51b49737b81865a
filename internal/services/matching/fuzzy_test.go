package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/jobsift/internal/common"
)

func newTestMatcher() *Matcher {
	cfg := common.NewDefaultConfig()
	cfg.Matching.CompanyAliases = map[string]string{
		"IBM": "International Business Machines",
	}
	return NewMatcher(cfg)
}

func TestCompanySimilarity_LegalSuffixes(t *testing.T) {
	m := newTestMatcher()

	tests := []struct {
		name string
		a    string
		b    string
		same bool
	}{
		{"identical", "Acme Inc", "Acme Inc", true},
		{"suffix variants", "Acme Inc", "Acme, Inc.", true},
		{"suffix vs bare", "Acme Ltd", "Acme", true},
		{"different companies", "Acme Inc", "Apex Inc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.CompanySimilarity(tt.a, tt.b)
			if tt.same {
				assert.GreaterOrEqual(t, got, 0.90, "expected same company: %q vs %q (%.2f)", tt.a, tt.b, got)
			} else {
				assert.Less(t, got, 0.90, "expected different company: %q vs %q (%.2f)", tt.a, tt.b, got)
			}
		})
	}
}

func TestCompanySimilarity_Alias(t *testing.T) {
	m := newTestMatcher()
	assert.Equal(t, 1.0, m.CompanySimilarity("IBM", "International Business Machines"))
	assert.Equal(t, 1.0, m.CompanySimilarity("International Business Machines Corp", "IBM"))
}

func TestTitleSimilarity_AbbreviatedSeniority(t *testing.T) {
	m := newTestMatcher()

	// "Sr." normalizes to the "sr" stopword-class token; both sides carry a
	// seniority marker so tokens still overlap strongly
	got := m.TitleSimilarity("Sr. Marketing Manager", "Senior Marketing Manager")
	assert.GreaterOrEqual(t, got, 0.85, "similarity %.2f", got)
}

func TestTitleSimilarity_SubsetDetection(t *testing.T) {
	m := newTestMatcher()

	got := m.TitleSimilarity("Software Engineer", "Software Engineer II")
	assert.GreaterOrEqual(t, got, 0.85, "similarity %.2f", got)
}

func TestTitleSimilarity_DifferentRoles(t *testing.T) {
	m := newTestMatcher()

	got := m.TitleSimilarity("Software Engineer", "Accountant")
	assert.Less(t, got, 0.85, "similarity %.2f", got)
}

func TestSameJob(t *testing.T) {
	m := newTestMatcher()

	assert.True(t, m.SameJob(
		"Software Engineer", "Acme Inc",
		"Software Engineer II", "Acme, Inc.",
	))
	assert.False(t, m.SameJob(
		"Software Engineer", "Acme Inc",
		"Software Engineer", "Globex Corp",
	))
}

func TestSimilarity_EmptyInputs(t *testing.T) {
	m := newTestMatcher()
	assert.Equal(t, 0.0, m.TitleSimilarity("", "Engineer"))
	assert.Equal(t, 0.0, m.CompanySimilarity("", ""))
}

func TestLCSRatio(t *testing.T) {
	assert.InDelta(t, 1.0, lcsRatio("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, lcsRatio("abc", "xyz"), 1e-9)
}
