package insights

import (
	"context"
	"fmt"
	"time"
)

// ReviewMetrics summarizes review quality for a project over a window.
type ReviewMetrics struct {
	ProjectID         string         `json:"project_id"`
	Range             string         `json:"range"`
	Count             int            `json:"count"`
	AvgScore          float64        `json:"avg_score"`
	SecurityIssues    int            `json:"security_issues"`
	PerformanceIssues int            `json:"performance_issues"`
	BugFindings       int            `json:"bug_findings"`
	BySeverity        map[string]int `json:"by_severity"`
}

// ParseRange maps the API range parameter to a duration. Unknown or
// empty values default to 30 days.
func ParseRange(s string) (string, time.Duration) {
	switch s {
	case "7d":
		return s, 7 * 24 * time.Hour
	case "90d":
		return s, 90 * 24 * time.Hour
	case "30d", "":
		return "30d", 30 * 24 * time.Hour
	default:
		return "30d", 30 * 24 * time.Hour
	}
}

// Reviews aggregates the project's review insights in the given range.
func (a *Aggregator) Reviews(ctx context.Context, projectID, rangeParam string) (*ReviewMetrics, error) {
	label, window := ParseRange(rangeParam)
	since := a.nowFunc().UTC().Add(-window)

	records, err := a.store.ListInsightsForProject(ctx, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load review insights: %w", err)
	}

	m := &ReviewMetrics{
		ProjectID:  projectID,
		Range:      label,
		Count:      len(records),
		BySeverity: map[string]int{},
	}
	if len(records) == 0 {
		return m, nil
	}

	total := 0
	for _, r := range records {
		total += r.Score
		if r.HasSecurityIssues {
			m.SecurityIssues++
		}
		if r.HasPerformanceIssues {
			m.PerformanceIssues++
		}
		if r.HasBugs {
			m.BugFindings++
		}
		for _, s := range r.Suggestions {
			m.BySeverity[string(s.Severity)]++
		}
	}
	m.AvgScore = round1(float64(total) / float64(len(records)))
	return m, nil
}
