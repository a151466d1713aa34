// Package wake spots the wake phrase in recognizer hypotheses.
package wake

import (
	"strings"

	"github.com/samber/lo"

	"wakemic/internal/domain"
)

// DefaultTailWindow is the number of trailing characters inspected.
const DefaultTailWindow = 30

// DefaultVariants are expected transcriptions of "hey sai".
var DefaultVariants = []string{
	"hey sai",
	"hey say",
	"hey sorry",
	"hey siri",
	"hey sigh",
	"hey psy",
	"hey sy",
	"hey sci",
	"hay sai",
	"hey, sai",
	"hey, say",
}

// Matcher checks transcripts against a fixed set of phrase variants.
type Matcher struct {
	variants []string
	window   int
}

// NewMatcher builds a matcher. Variants are normalized once and never change.
func NewMatcher(variants []string, window int) *Matcher {
	if window <= 0 {
		window = DefaultTailWindow
	}
	normalized := lo.Uniq(lo.FilterMap(variants, func(v string, _ int) (string, bool) {
		v = strings.ToLower(strings.TrimSpace(v))
		return v, v != ""
	}))
	return &Matcher{variants: normalized, window: window}
}

// Variants returns a copy of the configured variants.
func (m *Matcher) Variants() []string {
	return append([]string(nil), m.variants...)
}

// Matches reports whether a variant occurs in the transcript's tail window.
// Earlier words are ignored because hypotheses accumulate across an utterance.
func (m *Matcher) Matches(transcript string) bool {
	tail := m.tail(transcript)
	if tail == "" {
		return false
	}
	return lo.ContainsBy(m.variants, func(v string) bool {
		return strings.Contains(tail, v)
	})
}

// MatchBatch returns the first matching hypothesis in arrival order.
func (m *Matcher) MatchBatch(batch []domain.Hypothesis) (domain.Hypothesis, bool) {
	for _, h := range batch {
		if m.Matches(h.Text) {
			return h, true
		}
	}
	return domain.Hypothesis{}, false
}

func (m *Matcher) tail(transcript string) string {
	text := []rune(strings.ToLower(strings.TrimSpace(transcript)))
	if len(text) > m.window {
		text = text[len(text)-m.window:]
	}
	return string(text)
}
