// Package estimator produces sprint poker estimates: story points, a token
// budget, an hour estimate, and a confidence value. Estimation is a pure
// function of the task description; it never fails and never consults I/O.
package estimator

import (
	"math"
	"strings"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// Per-activity base token costs.
const (
	tokensAnalysis = 500
	tokensContext  = 300
	tokensCodeGen  = 1500
	tokensTestGen  = 800
	tokensDocGen   = 400

	// charsPerToken approximates tokenizer density for English + code.
	charsPerToken = 4

	// refinementBuffer covers iteration beyond the first pass.
	refinementBuffer = 1.2

	// tokensPerMinute converts the token budget into an hour estimate:
	// one token-minute of engineering per 100 tokens.
	tokensPerMinute = 100
)

// Input is the task description fed to the estimator.
type Input struct {
	Title       string
	Description string
	StoryPoints int // 0 when unset
	Priority    int // 1..5, 0 when unset (treated as the default 3)
	Labels      []string
}

// Estimate is the multi-dimensional sprint poker output.
type Estimate struct {
	StoryPoints      int             `json:"story_points"`
	TokenBudget      int             `json:"token_budget"`
	InputTokens      int             `json:"input_tokens"`
	OutputTokens     int             `json:"output_tokens"`
	EstimatedMinutes int             `json:"estimated_minutes"`
	EstimatedHours   float64         `json:"estimated_hours"`
	Confidence       float64         `json:"confidence"`
	IssueType        types.IssueType `json:"issue_type"`
}

var fibonacciMultipliers = map[int]float64{
	1:  0.5,
	2:  0.75,
	3:  1.0,
	5:  1.5,
	8:  2.0,
	13: 3.0,
	21: 4.0,
}

var priorityMultipliers = map[int]float64{
	1: 1.3, // critical
	2: 1.15,
	3: 1.0,
	4: 0.9,
	5: 0.8, // lowest
}

var issueTypeMultipliers = map[types.IssueType]float64{
	types.IssueBug:           1.1,
	types.IssueFeature:       1.0,
	types.IssueRefactor:      1.2,
	types.IssueDocumentation: 0.6,
	types.IssueTest:          0.8,
	types.IssueOptimization:  1.15,
}

// Keyword families in precedence order: the first family with a hit wins.
var issueTypeKeywords = []struct {
	issueType types.IssueType
	keywords  []string
}{
	{types.IssueBug, []string{"bug", "fix", "broken", "crash", "error", "regression", "defect"}},
	{types.IssueFeature, []string{"feature", "add", "implement", "create", "new", "support"}},
	{types.IssueRefactor, []string{"refactor", "restructure", "cleanup", "clean up", "reorganize", "extract"}},
	{types.IssueDocumentation, []string{"document", "docs", "readme", "changelog", "comment"}},
	{types.IssueTest, []string{"test", "coverage", "spec", "e2e", "unit"}},
	{types.IssueOptimization, []string{"optimize", "performance", "speed up", "slow", "memory", "latency"}},
}

// DetectIssueType classifies a task by keyword families over title and
// description. Precedence is fixed; the default is feature.
func DetectIssueType(title, description string) types.IssueType {
	text := strings.ToLower(title + " " + description)
	for _, family := range issueTypeKeywords {
		for _, kw := range family.keywords {
			if strings.Contains(text, kw) {
				return family.issueType
			}
		}
	}
	return types.IssueFeature
}

// Compute produces the sprint poker estimate for a task. Total over any
// input.
func Compute(in Input) Estimate {
	issueType := DetectIssueType(in.Title, in.Description)

	base := float64(tokensAnalysis + tokensContext)
	switch issueType {
	case types.IssueDocumentation:
		base += tokensDocGen
	case types.IssueTest:
		base += tokensTestGen
	default:
		base += tokensCodeGen + tokensTestGen
	}
	base += float64(len(in.Description)) / charsPerToken

	points := in.StoryPoints
	if points == 0 {
		points = derivePoints(base)
	}

	multiplier := issueTypeMultipliers[issueType]
	multiplier *= nearestFibMultiplier(points)
	multiplier *= priorityMultiplier(in.Priority)
	multiplier *= refinementBuffer

	tokens := int(math.Round(base*multiplier/100) * 100)
	if tokens < 100 {
		tokens = 100
	}

	minutes := tokens / tokensPerMinute
	hours := math.Round(float64(minutes)/60*10) / 10

	// The flat total is authoritative; the input/output split exists only
	// for presentation.
	inputTokens := int(float64(tokens) * 0.6)
	outputTokens := tokens - inputTokens

	return Estimate{
		StoryPoints:      points,
		TokenBudget:      tokens,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		EstimatedMinutes: minutes,
		EstimatedHours:   hours,
		Confidence:       confidence(in),
		IssueType:        issueType,
	}
}

// derivePoints picks a fibonacci bucket from the base token cost when the
// caller supplied no explicit story points.
func derivePoints(baseTokens float64) int {
	switch {
	case baseTokens < 1500:
		return 1
	case baseTokens < 2200:
		return 2
	case baseTokens < 2800:
		return 3
	case baseTokens < 3500:
		return 5
	case baseTokens < 5000:
		return 8
	default:
		return 13
	}
}

// nearestFibMultiplier maps story points to a multiplier, snapping
// non-fibonacci values to the nearest bucket below.
func nearestFibMultiplier(points int) float64 {
	if m, ok := fibonacciMultipliers[points]; ok {
		return m
	}
	best := 1
	for fib := range fibonacciMultipliers {
		if fib <= points && fib > best {
			best = fib
		}
	}
	return fibonacciMultipliers[best]
}

func priorityMultiplier(priority int) float64 {
	if m, ok := priorityMultipliers[priority]; ok {
		return m
	}
	return 1.0
}

// confidence starts at 0.5 and rewards signals that make the estimate
// better grounded, capped at 0.95.
func confidence(in Input) float64 {
	c := 0.5
	if in.StoryPoints > 0 {
		c += 0.15
	}
	if len(in.Description) > 100 {
		c += 0.15
	}
	if in.Priority != 0 && in.Priority != 3 {
		c += 0.10
	}
	if len(in.Labels) > 0 {
		c += 0.10
	}
	if c > 0.95 {
		c = 0.95
	}
	return c
}
