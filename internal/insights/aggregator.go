// Package insights is the read-model over feedback and review records:
// accuracy trends, per-issue-type breakdowns, inaccuracy patterns, and
// review quality metrics.
package insights

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
)

// trendWeeks is how far back the learning trend looks.
const trendWeeks = 12

// patternMinFrequency and patternMaxAccuracy gate what counts as a
// recurring inaccuracy pattern.
const (
	patternMinFrequency = 3
	patternMaxAccuracy  = 60
)

// Aggregator computes insight summaries from the store.
type Aggregator struct {
	store   *store.Store
	nowFunc func() time.Time
}

// NewAggregator builds an aggregator over the shared store.
func NewAggregator(st *store.Store) *Aggregator {
	return &Aggregator{store: st, nowFunc: time.Now}
}

// WeekBucket is one week of the learning trend, oldest first.
type WeekBucket struct {
	WeekStart     time.Time `json:"week_start"`
	AvgAccuracy   float64   `json:"avg_accuracy"`
	AvgReviewQual *float64  `json:"avg_review_quality,omitempty"`
	Count         int       `json:"count"`
}

// TypeBreakdown summarizes estimate quality for one issue type.
type TypeBreakdown struct {
	IssueType    types.IssueType `json:"issue_type"`
	AvgAccuracy  float64         `json:"avg_accuracy"`
	MeanAbsError float64         `json:"mean_abs_error_hours"`
	Count        int             `json:"count"`
}

// Pattern is a recurring low-accuracy combination worth a human look.
type Pattern struct {
	IssueType         types.IssueType `json:"issue_type"`
	HadSecurityIssues bool            `json:"had_security_issues"`
	Frequency         int             `json:"frequency"`
	AvgAccuracy       float64         `json:"avg_accuracy"`
}

// LearningSummary is the aggregated learning view for a project.
type LearningSummary struct {
	ProjectID   string          `json:"project_id"`
	Trend       []WeekBucket    `json:"trend"`
	ByIssueType []TypeBreakdown `json:"by_issue_type"`
	Patterns    []Pattern       `json:"patterns"`
	IsImproving bool            `json:"is_improving"`
	TotalCount  int             `json:"total_count"`
}

// Learning aggregates the project's feedback history: a 12-week accuracy
// trend, per-issue-type breakdowns, and recurring inaccuracy patterns.
func (a *Aggregator) Learning(ctx context.Context, projectID string) (*LearningSummary, error) {
	since := a.nowFunc().UTC().AddDate(0, 0, -7*trendWeeks)
	records, err := a.store.ListFeedbackSince(ctx, projectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback history: %w", err)
	}

	trend := weeklyTrend(records)
	return &LearningSummary{
		ProjectID:   projectID,
		Trend:       trend,
		ByIssueType: typeBreakdowns(records),
		Patterns:    inaccuracyPatterns(records),
		IsImproving: isImproving(trend),
		TotalCount:  len(records),
	}, nil
}

// weekStart truncates t to the Monday of its ISO week.
func weekStart(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return t.AddDate(0, 0, -(weekday - 1))
}

func weeklyTrend(records []types.FeedbackRecord) []WeekBucket {
	type acc struct {
		accuracy  int
		quality   int
		qualityN  int
		count     int
		weekStart time.Time
	}
	buckets := make(map[time.Time]*acc)
	for _, r := range records {
		ws := weekStart(r.CreatedAt)
		b, ok := buckets[ws]
		if !ok {
			b = &acc{weekStart: ws}
			buckets[ws] = b
		}
		b.accuracy += r.AccuracyScore
		b.count++
		if r.ReviewQualityScore != nil {
			b.quality += *r.ReviewQualityScore
			b.qualityN++
		}
	}

	trend := make([]WeekBucket, 0, len(buckets))
	for _, b := range buckets {
		wb := WeekBucket{
			WeekStart:   b.weekStart,
			AvgAccuracy: round1(float64(b.accuracy) / float64(b.count)),
			Count:       b.count,
		}
		if b.qualityN > 0 {
			q := round1(float64(b.quality) / float64(b.qualityN))
			wb.AvgReviewQual = &q
		}
		trend = append(trend, wb)
	}
	sort.Slice(trend, func(i, j int) bool {
		return trend[i].WeekStart.Before(trend[j].WeekStart)
	})
	return trend
}

func typeBreakdowns(records []types.FeedbackRecord) []TypeBreakdown {
	type acc struct {
		accuracy int
		absErr   float64
		count    int
	}
	byType := make(map[types.IssueType]*acc)
	for _, r := range records {
		b, ok := byType[r.IssueType]
		if !ok {
			b = &acc{}
			byType[r.IssueType] = b
		}
		b.accuracy += r.AccuracyScore
		b.absErr += math.Abs(r.EstimatedHours - r.ActualHours)
		b.count++
	}

	out := make([]TypeBreakdown, 0, len(byType))
	for issueType, b := range byType {
		out = append(out, TypeBreakdown{
			IssueType:    issueType,
			AvgAccuracy:  round1(float64(b.accuracy) / float64(b.count)),
			MeanAbsError: round1(b.absErr / float64(b.count)),
			Count:        b.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].IssueType < out[j].IssueType
	})
	return out
}

func inaccuracyPatterns(records []types.FeedbackRecord) []Pattern {
	type key struct {
		issueType types.IssueType
		security  bool
	}
	type acc struct {
		accuracy int
		count    int
	}
	groups := make(map[key]*acc)
	for _, r := range records {
		k := key{r.IssueType, r.HadSecurityIssues}
		g, ok := groups[k]
		if !ok {
			g = &acc{}
			groups[k] = g
		}
		g.accuracy += r.AccuracyScore
		g.count++
	}

	var patterns []Pattern
	for k, g := range groups {
		avg := float64(g.accuracy) / float64(g.count)
		if g.count >= patternMinFrequency && avg < patternMaxAccuracy {
			patterns = append(patterns, Pattern{
				IssueType:         k.issueType,
				HadSecurityIssues: k.security,
				Frequency:         g.count,
				AvgAccuracy:       round1(avg),
			})
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Frequency != patterns[j].Frequency {
			return patterns[i].Frequency > patterns[j].Frequency
		}
		return patterns[i].IssueType < patterns[j].IssueType
	})
	return patterns
}

// isImproving compares the two most recent weeks that have data.
func isImproving(trend []WeekBucket) bool {
	if len(trend) < 2 {
		return false
	}
	latest := trend[len(trend)-1]
	previous := trend[len(trend)-2]
	return latest.AvgAccuracy > previous.AvgAccuracy
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
