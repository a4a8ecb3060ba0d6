package insights

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func appendRecord(t *testing.T, st *store.Store, issueType types.IssueType,
	accuracy int, estimated, actual float64, security bool) {
	t.Helper()
	require.NoError(t, st.AppendFeedback(context.Background(), &types.FeedbackRecord{
		ID:                uuid.NewString(),
		WorkItemID:        uuid.NewString(),
		ProjectID:         "p1",
		EstimatedHours:    estimated,
		ActualHours:       actual,
		AccuracyScore:     accuracy,
		IssueType:         issueType,
		Priority:          3,
		HadSecurityIssues: security,
	}))
}

func TestLearningBreakdownsAndPatterns(t *testing.T) {
	st := newTestStore(t)
	agg := NewAggregator(st)
	ctx := context.Background()

	// Features estimate well; security-flagged bugs repeatedly blow up.
	for i := 0; i < 4; i++ {
		appendRecord(t, st, types.IssueFeature, 90, 4, 4.5, false)
	}
	for i := 0; i < 3; i++ {
		appendRecord(t, st, types.IssueBug, 40, 2, 6, true)
	}

	got, err := agg.Learning(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.TotalCount)

	require.Len(t, got.ByIssueType, 2)
	assert.Equal(t, types.IssueFeature, got.ByIssueType[0].IssueType)
	assert.Equal(t, 90.0, got.ByIssueType[0].AvgAccuracy)
	assert.Equal(t, 0.5, got.ByIssueType[0].MeanAbsError)
	assert.Equal(t, types.IssueBug, got.ByIssueType[1].IssueType)
	assert.Equal(t, 4.0, got.ByIssueType[1].MeanAbsError)

	// Only (bug, security) crosses both pattern thresholds.
	require.Len(t, got.Patterns, 1)
	assert.Equal(t, types.IssueBug, got.Patterns[0].IssueType)
	assert.True(t, got.Patterns[0].HadSecurityIssues)
	assert.Equal(t, 3, got.Patterns[0].Frequency)
	assert.Equal(t, 40.0, got.Patterns[0].AvgAccuracy)

	// All records share one creation week; a single bucket is never an
	// improving trend.
	require.Len(t, got.Trend, 1)
	assert.False(t, got.IsImproving)
}

func TestLearningEmptyProject(t *testing.T) {
	st := newTestStore(t)
	agg := NewAggregator(st)

	got, err := agg.Learning(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Zero(t, got.TotalCount)
	assert.Empty(t, got.Trend)
	assert.Empty(t, got.Patterns)
	assert.False(t, got.IsImproving)
}

func TestWeeklyTrendOrderingAndImprovement(t *testing.T) {
	monday := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	records := []types.FeedbackRecord{
		{AccuracyScore: 50, CreatedAt: monday.AddDate(0, 0, -7)},
		{AccuracyScore: 60, CreatedAt: monday.AddDate(0, 0, -6)},
		{AccuracyScore: 80, CreatedAt: monday},
		{AccuracyScore: 90, CreatedAt: monday.AddDate(0, 0, 3)},
	}

	trend := weeklyTrend(records)
	require.Len(t, trend, 2)
	assert.True(t, trend[0].WeekStart.Before(trend[1].WeekStart))
	assert.Equal(t, 55.0, trend[0].AvgAccuracy)
	assert.Equal(t, 85.0, trend[1].AvgAccuracy)
	assert.True(t, isImproving(trend))

	// Reversed scores flip the verdict.
	trend[0].AvgAccuracy, trend[1].AvgAccuracy = trend[1].AvgAccuracy, trend[0].AvgAccuracy
	assert.False(t, isImproving(trend))
}

func TestWeekStartNormalizesToMonday(t *testing.T) {
	// Sunday 2026-08-23 belongs to the week starting Monday 2026-08-17.
	sunday := time.Date(2026, 8, 23, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC), weekStart(sunday))

	monday := time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, monday, weekStart(monday))
}

func TestReviewsAggregation(t *testing.T) {
	st := newTestStore(t)
	agg := NewAggregator(st)
	ctx := context.Background()

	require.NoError(t, st.CreateWorkItem(ctx, &types.WorkItem{
		ID: "w1", ProjectID: "p1", Title: "Add auth", Status: types.StatusInReview, Priority: 2,
	}))

	w1 := "w1"
	for i, ins := range []types.ReviewInsight{
		{Score: 90, HasBugs: true, Suggestions: []types.Suggestion{
			{Severity: types.SeverityError, Message: "nil deref"},
		}},
		{Score: 70, HasSecurityIssues: true, Suggestions: []types.Suggestion{
			{Severity: types.SeverityCritical, Message: "sql injection"},
			{Severity: types.SeverityInfo, Message: "naming"},
		}},
	} {
		ins.ID = uuid.NewString()
		ins.Host = "github"
		ins.Repo = "acme/api"
		ins.Number = i + 1
		ins.HeadSHA = fmt.Sprintf("sha%d", i)
		ins.WorkItemID = &w1
		require.NoError(t, st.SaveReviewInsight(ctx, &ins))
	}

	got, err := agg.Reviews(ctx, "p1", "30d")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, 80.0, got.AvgScore)
	assert.Equal(t, 1, got.SecurityIssues)
	assert.Equal(t, 1, got.BugFindings)
	assert.Equal(t, 0, got.PerformanceIssues)
	assert.Equal(t, map[string]int{"critical": 1, "error": 1, "info": 1}, got.BySeverity)
}

func TestParseRange(t *testing.T) {
	for in, want := range map[string]string{
		"7d": "7d", "30d": "30d", "90d": "90d", "": "30d", "1y": "30d",
	} {
		label, window := ParseRange(in)
		assert.Equal(t, want, label)
		assert.Positive(t, window)
	}
}
