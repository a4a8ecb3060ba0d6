package feedback

import (
	"context"
	"fmt"
	"math"

	"github.com/48Nauts-Operator/lineary/internal/estimator"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// historyWindow bounds how many records feed an improved estimate.
	historyWindow = 20

	// complexityRange bounds how far a record's complexity may deviate
	// from the requested one and still count as comparable work.
	complexityRange = 2

	// defaultComplexity stands in when the caller gives none.
	defaultComplexity = 3

	// weightFloor keeps badly estimated history from being zero-weighted
	// out of the mean entirely.
	weightFloor = 0.5
)

// Loop records completion outcomes and serves improved estimates.
type Loop struct {
	store *store.Store
	log   *zap.Logger
}

// NewLoop builds the feedback loop over the shared store.
func NewLoop(st *store.Store, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{store: st, log: log}
}

// RecordCompletion scores a finished work item's estimate against its
// actual hours, folds in the review signal from any linked insights, and
// appends the resulting feedback record. Append-only, never updated.
func (l *Loop) RecordCompletion(ctx context.Context, workItemID string, actualHours float64) error {
	item, err := l.store.GetWorkItem(ctx, workItemID)
	if err != nil {
		return fmt.Errorf("failed to load work item: %w", err)
	}

	estimated := 0.0
	if item.EstimatedHours != nil {
		estimated = *item.EstimatedHours
	}

	insights, err := l.store.ListInsightsForWorkItem(ctx, workItemID)
	if err != nil {
		return fmt.Errorf("failed to load review insights: %w", err)
	}

	var reviewScore *int
	hadSecurity, hadPerformance := false, false
	if n := len(insights); n > 0 {
		total := 0
		for _, ins := range insights {
			total += ins.Score
			hadSecurity = hadSecurity || ins.HasSecurityIssues
			hadPerformance = hadPerformance || ins.HasPerformanceIssues
		}
		avg := total / n
		reviewScore = &avg
	}

	record := &types.FeedbackRecord{
		ID:                   uuid.NewString(),
		WorkItemID:           workItemID,
		ProjectID:            item.ProjectID,
		EstimatedHours:       estimated,
		ActualHours:          actualHours,
		AccuracyScore:        AccuracyScore(estimated, actualHours),
		ReviewQualityScore:   reviewScore,
		IssueType:            estimator.DetectIssueType(item.Title, item.Description),
		Priority:             item.Priority,
		Complexity:           complexityOf(item),
		HadSecurityIssues:    hadSecurity,
		HadPerformanceIssues: hadPerformance,
		ReviewCount:          len(insights),
	}
	if err := l.store.AppendFeedback(ctx, record); err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}

	l.log.Info("recorded completion feedback",
		zap.String("work_item", workItemID),
		zap.Int("accuracy", record.AccuracyScore),
		zap.Int("reviews", record.ReviewCount))
	return nil
}

// ImprovedEstimate is the accuracy-weighted prediction for a new task.
type ImprovedEstimate struct {
	EstimateHours      float64 `json:"estimate_hours"`
	Confidence         string  `json:"confidence"` // low, medium, high
	BasedOn            int     `json:"based_on"`
	HistoricalAccuracy *int    `json:"historical_accuracy,omitempty"`
}

// ImprovedEstimate predicts hours for (project, issueType, complexity)
// from the most recent comparable outcomes. With no history it falls back
// to 2 hours per complexity point at low confidence.
func (l *Loop) ImprovedEstimate(ctx context.Context, projectID string,
	issueType types.IssueType, complexity int) (*ImprovedEstimate, error) {

	if complexity <= 0 {
		complexity = defaultComplexity
	}

	records, err := l.store.ListFeedback(ctx, projectID, issueType, historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback history: %w", err)
	}

	matched := records[:0:0]
	for _, r := range records {
		if abs(r.Complexity-complexity) <= complexityRange {
			matched = append(matched, r)
		}
	}

	if len(matched) == 0 {
		return &ImprovedEstimate{
			EstimateHours: float64(complexity * 2),
			Confidence:    "low",
			BasedOn:       0,
		}, nil
	}

	weightedSum, weightTotal, accuracyTotal := 0.0, 0.0, 0
	for _, r := range matched {
		w := float64(r.AccuracyScore) / 100
		if w < weightFloor {
			w = weightFloor
		}
		weightedSum += r.ActualHours * w
		weightTotal += w
		accuracyTotal += r.AccuracyScore
	}

	estimate := math.Round(weightedSum/weightTotal*10) / 10
	meanAccuracy := accuracyTotal / len(matched)

	// A deep history earns medium confidence even when its accuracy is
	// poor; the sample size itself is informative.
	confidence := "low"
	switch {
	case len(matched) >= 10 && meanAccuracy >= 80:
		confidence = "high"
	case len(matched) >= 10, len(matched) >= 5 && meanAccuracy >= 70:
		confidence = "medium"
	}

	return &ImprovedEstimate{
		EstimateHours:      estimate,
		Confidence:         confidence,
		BasedOn:            len(matched),
		HistoricalAccuracy: &meanAccuracy,
	}, nil
}

// complexityOf reads the item's story points, deriving them through the
// poker estimator when the item was never pointed.
func complexityOf(item *types.WorkItem) int {
	if item.StoryPoints != nil && *item.StoryPoints > 0 {
		return *item.StoryPoints
	}
	est := estimator.Compute(estimator.Input{
		Title:       item.Title,
		Description: item.Description,
		Priority:    item.Priority,
		Labels:      item.Labels,
	})
	return est.StoryPoints
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
