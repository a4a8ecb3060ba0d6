package estimator

import (
	"strings"
	"testing"

	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestDetectIssueType(t *testing.T) {
	cases := []struct {
		title string
		desc  string
		want  types.IssueType
	}{
		{"Fix login crash", "", types.IssueBug},
		{"Add OAuth support", "", types.IssueFeature},
		{"Refactor session layer", "", types.IssueRefactor},
		{"Update README", "document the setup", types.IssueDocumentation},
		// "test" alone, no higher-precedence keyword.
		{"Increase unit coverage", "", types.IssueTest},
		{"Reduce p99 latency", "", types.IssueOptimization},
		{"Ship widgets", "", types.IssueFeature}, // default
		// Precedence: bug keywords override feature keywords.
		{"Fix the new billing feature", "", types.IssueBug},
	}

	for _, tc := range cases {
		got := DetectIssueType(tc.title, tc.desc)
		assert.Equal(t, tc.want, got, "title=%q desc=%q", tc.title, tc.desc)
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	in := Input{
		Title:       "Add auth",
		Description: strings.Repeat("details ", 30),
		StoryPoints: 5,
		Priority:    2,
		Labels:      []string{"backend"},
	}

	a := Compute(in)
	b := Compute(in)
	assert.Equal(t, a, b)
}

func TestComputeTokenBudget(t *testing.T) {
	est := Compute(Input{Title: "Add thing", Description: "short"})

	assert.Equal(t, 0, est.TokenBudget%100, "tokens rounded to nearest 100")
	assert.Equal(t, est.TokenBudget/100, est.EstimatedMinutes)
	assert.Equal(t, est.TokenBudget, est.InputTokens+est.OutputTokens,
		"split must preserve the authoritative total")
	assert.Greater(t, est.TokenBudget, 0)
}

func TestComputeStoryPointScaling(t *testing.T) {
	small := Compute(Input{Title: "Add thing", StoryPoints: 1})
	big := Compute(Input{Title: "Add thing", StoryPoints: 21})

	assert.Greater(t, big.TokenBudget, small.TokenBudget)
	// 21 points carries an 8x multiplier relative to 1 point (0.5 vs 4.0).
	assert.InDelta(t, 8.0, float64(big.TokenBudget)/float64(small.TokenBudget), 0.5)
}

func TestComputePriorityScaling(t *testing.T) {
	critical := Compute(Input{Title: "Add thing", Priority: 1})
	lowest := Compute(Input{Title: "Add thing", Priority: 5})

	assert.Greater(t, critical.TokenBudget, lowest.TokenBudget)
}

func TestDocumentationCostsLess(t *testing.T) {
	docs := Compute(Input{Title: "Write docs for api"})
	feature := Compute(Input{Title: "Add api endpoint"})

	assert.Equal(t, types.IssueDocumentation, docs.IssueType)
	assert.Less(t, docs.TokenBudget, feature.TokenBudget)
}

func TestConfidence(t *testing.T) {
	base := Compute(Input{Title: "Add thing", Description: "short"})
	assert.Equal(t, 0.5, base.Confidence)

	full := Compute(Input{
		Title:       "Add thing",
		Description: strings.Repeat("x", 150),
		StoryPoints: 5,
		Priority:    1,
		Labels:      []string{"a"},
	})
	// The raw sum is 1.0 but confidence never exceeds the cap.
	assert.InDelta(t, 0.95, full.Confidence, 1e-9)
	assert.LessOrEqual(t, full.Confidence, 0.95)
}

func TestComputeIsTotal(t *testing.T) {
	// Degenerate inputs still produce a sane estimate.
	for _, in := range []Input{
		{},
		{StoryPoints: 4},  // non-fibonacci
		{Priority: 99},    // out of range
		{Title: "\x00\n"}, // junk
	} {
		est := Compute(in)
		assert.Greater(t, est.TokenBudget, 0)
		assert.GreaterOrEqual(t, est.Confidence, 0.5)
		assert.LessOrEqual(t, est.Confidence, 0.95)
	}
}
