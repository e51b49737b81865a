package matching

import (
	"strings"
	"unicode"

	"github.com/ternarybob/jobsift/internal/common"
)

// Matcher produces similarity scores over title and company strings.
// Two records describe the same job iff title similarity >= the title
// threshold AND company similarity >= the company threshold.
type Matcher struct {
	titleThreshold   float64
	companyThreshold float64
	resolveThreshold float64
	suffixes         map[string]bool
	stopwords        map[string]bool
	aliases          map[string]string
}

// NewMatcher creates a matcher from configuration
func NewMatcher(cfg *common.Config) *Matcher {
	m := &Matcher{
		titleThreshold:   cfg.Matching.TitleThreshold,
		companyThreshold: cfg.Matching.CompanyThreshold,
		resolveThreshold: cfg.Matching.CompanyResolveThreshold,
		suffixes:         make(map[string]bool),
		stopwords:        make(map[string]bool),
		aliases:          make(map[string]string),
	}
	for _, s := range cfg.Pipeline.CompanySuffixes {
		m.suffixes[strings.ToLower(s)] = true
	}
	for _, s := range cfg.Matching.TitleStopwords {
		m.stopwords[strings.ToLower(s)] = true
	}
	for k, v := range cfg.Matching.CompanyAliases {
		m.aliases[normalize(k)] = normalize(v)
	}
	return m
}

// TitleSimilarity scores two job titles in [0, 1]
func (m *Matcher) TitleSimilarity(a, b string) float64 {
	return m.similarity(normalize(a), normalize(b), m.stopwords)
}

// CompanySimilarity scores two company names in [0, 1] after stripping
// legal suffixes and resolving known aliases
func (m *Matcher) CompanySimilarity(a, b string) float64 {
	na := m.stripSuffixes(normalize(a))
	nb := m.stripSuffixes(normalize(b))

	if na != "" && na == nb {
		return 1.0
	}
	if alias, ok := m.aliases[na]; ok && alias == nb {
		return 1.0
	}
	if alias, ok := m.aliases[nb]; ok && alias == na {
		return 1.0
	}

	return m.similarity(na, nb, nil)
}

// SameJob reports whether two (title, company) pairs describe the same job
func (m *Matcher) SameJob(titleA, companyA, titleB, companyB string) bool {
	return m.TitleSimilarity(titleA, titleB) >= m.titleThreshold &&
		m.CompanySimilarity(companyA, companyB) >= m.companyThreshold
}

// ResolveThreshold returns the company-resolution threshold used at transfer
func (m *Matcher) ResolveThreshold() float64 {
	return m.resolveThreshold
}

// similarity combines three signals and returns the maximum: normalized
// LCS ratio, token-set Jaccard overlap, and subset/abbreviation detection.
func (m *Matcher) similarity(a, b string, stopwords map[string]bool) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}

	best := lcsRatio(a, b)

	ta := tokenize(a, stopwords, tokenize(b, nil, nil))
	tb := tokenize(b, stopwords, tokenize(a, nil, nil))
	if j := jaccard(ta, tb); j > best {
		best = j
	}

	if isTokenSubset(ta, tb) || isTokenSubset(tb, ta) {
		if s := subsetScore(ta, tb); s > best {
			best = s
		}
	}

	return best
}

func (m *Matcher) stripSuffixes(s string) string {
	tokens := strings.Fields(s)
	for len(tokens) > 0 && m.suffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// normalize lowercases and strips punctuation, collapsing whitespace
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '/' || r == ',' || r == '.' || r == '&':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenize splits into word tokens. A stopword is only excluded when the
// other side lacks it too, so "Senior X" vs "Senior Y" still compares the
// seniority tokens.
func tokenize(s string, stopwords map[string]bool, other map[string]bool) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		if stopwords != nil && stopwords[t] && other != nil && !other[t] {
			continue
		}
		tokens[t] = true
	}
	return tokens
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// isTokenSubset reports whether every token of a appears in b
func isTokenSubset(a, b map[string]bool) bool {
	if len(a) == 0 || len(a) > len(b) {
		return false
	}
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}

// subsetScore grades a subset match by how much of the longer side is covered
func subsetScore(a, b map[string]bool) float64 {
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	if len(large) == 0 {
		return 0
	}
	// A strict subset is a strong signal but not identity
	return 0.85 + 0.15*float64(len(small))/float64(len(large))
}

// lcsRatio computes the longest-common-subsequence length over the mean of
// the two string lengths
func lcsRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := float64(prev[len(rb)])
	return 2 * lcs / float64(len(ra)+len(rb))
}
