package reconcile

import (
	"strings"
	"time"

	"stevedore/internal/models"
)

// MatchStrategy identifies which matcher strategy produced a result
type MatchStrategy string

const (
	StrategyExternalID          MatchStrategy = "external_id"
	StrategyWindowedSubstring   MatchStrategy = "windowed_substring"
	StrategyWindowedSimilarity  MatchStrategy = "windowed_similarity"
	StrategyUnwindowedSubstring MatchStrategy = "unwindowed_substring"
	StrategyNone                MatchStrategy = "none"
)

// Tunable matching policy. These are thresholds, not invariants; override via
// MatcherConfig where a profile needs different behavior.
const (
	// DefaultPublishWindow bounds how far apart the internal publish time and
	// the provider timestamp may drift for content-based matching.
	DefaultPublishWindow = 48 * time.Hour

	// DefaultSimilarityThreshold is the minimum bigram Dice score accepted by
	// the windowed similarity fallback.
	DefaultSimilarityThreshold = 0.6

	// DefaultMinSubstringLen is the minimum body length for the windowed
	// substring check.
	DefaultMinSubstringLen = 5

	// DefaultMinFallbackLen is the minimum body length for the unwindowed
	// substring fallback. Higher than the windowed minimum because without a
	// date window short generic captions produce false positives.
	DefaultMinFallbackLen = 12
)

// MatcherConfig holds overridable matching policy
type MatcherConfig struct {
	PublishWindow       time.Duration
	SimilarityThreshold float64
	MinSubstringLen     int
	MinFallbackLen      int
}

// DefaultMatcherConfig returns the default matching policy
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		PublishWindow:       DefaultPublishWindow,
		SimilarityThreshold: DefaultSimilarityThreshold,
		MinSubstringLen:     DefaultMinSubstringLen,
		MinFallbackLen:      DefaultMinFallbackLen,
	}
}

// MatchResult is the transient outcome of matching one external item against
// a candidate pool. Never persisted.
type MatchResult struct {
	Matched    bool
	RecordID   string
	Strategy   MatchStrategy
	Confidence float64
}

// Matcher decides whether an external item corresponds to an existing record
type Matcher struct {
	cfg MatcherConfig
}

// NewMatcher creates a matcher with the given policy
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.PublishWindow <= 0 {
		cfg.PublishWindow = DefaultPublishWindow
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MinSubstringLen <= 0 {
		cfg.MinSubstringLen = DefaultMinSubstringLen
	}
	if cfg.MinFallbackLen <= 0 {
		cfg.MinFallbackLen = DefaultMinFallbackLen
	}
	return &Matcher{cfg: cfg}
}

// Match runs the matching cascade against the candidate pool. Candidates are
// expected to be records of the subject being synced whose origin is not
// "synced": anything already linked is resolved by the dedup index before the
// matcher is consulted.
//
// Strategies are evaluated in order, first success wins:
//  1. a candidate already carrying the item's external ID
//  2. candidates published within the window: substring of the raw text wins
//     outright, otherwise best bigram Dice similarity above the threshold
//  3. unwindowed substring fallback for records whose publish timestamp
//     drifted from the provider's
func (m *Matcher) Match(item models.ExternalItem, candidates []models.ContentRecord) MatchResult {
	rawLower := strings.ToLower(item.RawText)

	// Strategy 1: exact external identity
	for i := range candidates {
		c := &candidates[i]
		if c.Linked() && *c.ExternalID == item.ExternalID {
			return MatchResult{Matched: true, RecordID: c.ID, Strategy: StrategyExternalID, Confidence: 1.0}
		}
	}

	// Strategy 2: date-windowed content verification
	var windowed []*models.ContentRecord
	for i := range candidates {
		c := &candidates[i]
		delta := item.PublishedAt.Sub(c.PublishedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= m.cfg.PublishWindow {
			windowed = append(windowed, c)
		}
	}

	for _, c := range windowed {
		body := strings.ToLower(strings.TrimSpace(c.Body))
		if len(body) > m.cfg.MinSubstringLen && strings.Contains(rawLower, body) {
			return MatchResult{Matched: true, RecordID: c.ID, Strategy: StrategyWindowedSubstring, Confidence: 1.0}
		}
	}

	var bestID string
	var bestScore float64
	for _, c := range windowed {
		score := diceSimilarity(rawLower, strings.ToLower(c.Body))
		if score > bestScore {
			bestScore = score
			bestID = c.ID
		}
	}
	if bestScore > m.cfg.SimilarityThreshold {
		return MatchResult{Matched: true, RecordID: bestID, Strategy: StrategyWindowedSimilarity, Confidence: bestScore}
	}

	// Strategy 3: unwindowed substring fallback. Catches authored posts whose
	// stored publish timestamp drifted from the provider's.
	for i := range candidates {
		c := &candidates[i]
		body := strings.ToLower(strings.TrimSpace(c.Body))
		if len(body) > m.cfg.MinFallbackLen && strings.Contains(rawLower, body) {
			return MatchResult{Matched: true, RecordID: c.ID, Strategy: StrategyUnwindowedSubstring, Confidence: 1.0}
		}
	}

	return MatchResult{Strategy: StrategyNone}
}

// diceSimilarity computes the Sorensen-Dice coefficient over character
// bigrams of the two strings, whitespace collapsed. Returns a score in [0, 1].
func diceSimilarity(a, b string) float64 {
	a = collapseWhitespace(a)
	b = collapseWhitespace(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}

	aBigrams := bigrams(a)
	bBigrams := bigrams(b)
	if len(aBigrams) == 0 || len(bBigrams) == 0 {
		return 0
	}

	counts := make(map[string]int, len(aBigrams))
	for _, bg := range aBigrams {
		counts[bg]++
	}

	intersection := 0
	for _, bg := range bBigrams {
		if counts[bg] > 0 {
			counts[bg]--
			intersection++
		}
	}

	return 2.0 * float64(intersection) / float64(len(aBigrams)+len(bBigrams))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func bigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	out := make([]string, 0, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out = append(out, string(runes[i:i+2]))
	}
	return out
}
