package review

import (
	"encoding/json"
	"strings"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// issue is one categorized finding in the LLM response schema.
type issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// reviewResponse is the JSON schema the reviewer prompt asks for.
type reviewResponse struct {
	OverallScore          float64  `json:"overall_score"`
	SecurityIssues        []issue  `json:"security_issues"`
	PerformanceIssues     []issue  `json:"performance_issues"`
	Bugs                  []issue  `json:"bugs"`
	SuggestedImprovements []string `json:"suggested_improvements"`
	Summary               string   `json:"summary"`
}

// ParsedReview is the tolerant-parse result applied to a ReviewInsight.
type ParsedReview struct {
	Score                int
	HasSecurityIssues    bool
	HasPerformanceIssues bool
	HasBugs              bool
	Suggestions          []types.Suggestion
	Summary              string
}

// Parse extracts the structured review from a raw LLM response. Models
// wrap JSON in prose or code fences often enough that the parser scans for
// the outermost object instead of trusting the whole body. Returns false
// when no parseable object is found; callers then degrade to an
// unparseable record rather than dropping the review.
func Parse(raw string) (*ParsedReview, bool) {
	jsonStr, ok := extractJSON(raw)
	if !ok {
		return nil, false
	}

	var resp reviewResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, false
	}

	score := int(resp.OverallScore)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	parsed := &ParsedReview{
		Score:                score,
		HasSecurityIssues:    len(resp.SecurityIssues) > 0,
		HasPerformanceIssues: len(resp.PerformanceIssues) > 0,
		HasBugs:              len(resp.Bugs) > 0,
		Summary:              resp.Summary,
	}

	// Suggestion order is stable: security first, then performance, bugs,
	// and flat improvements last.
	for _, i := range resp.SecurityIssues {
		parsed.Suggestions = append(parsed.Suggestions, toSuggestion(i, types.SeverityCritical))
	}
	for _, i := range resp.PerformanceIssues {
		parsed.Suggestions = append(parsed.Suggestions, toSuggestion(i, types.SeverityWarning))
	}
	for _, i := range resp.Bugs {
		parsed.Suggestions = append(parsed.Suggestions, toSuggestion(i, types.SeverityError))
	}
	for _, s := range resp.SuggestedImprovements {
		if strings.TrimSpace(s) == "" {
			continue
		}
		parsed.Suggestions = append(parsed.Suggestions, types.Suggestion{
			Severity: types.SeverityInfo,
			Message:  s,
		})
	}

	return parsed, true
}

func toSuggestion(i issue, fallback types.Severity) types.Suggestion {
	severity := types.Severity(strings.ToLower(i.Severity))
	switch severity {
	case types.SeverityInfo, types.SeverityWarning, types.SeverityError, types.SeverityCritical:
	default:
		severity = fallback
	}
	return types.Suggestion{
		Severity: severity,
		Message:  i.Message,
		File:     i.File,
		Line:     i.Line,
	}
}

// extractJSON returns the outermost brace-balanced object in raw.
func extractJSON(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], true
				}
			}
		}
	}
	return "", false
}
