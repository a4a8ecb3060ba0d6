package store

import (
	"context"
	"fmt"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// AppendFeedback appends a feedback record. Records are never mutated.
func (s *Store) AppendFeedback(ctx context.Context, f *types.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_records
		 (id, work_item_id, project_id, estimated_hours, actual_hours, accuracy_score,
		  review_quality_score, issue_type, priority, complexity,
		  had_security_issues, had_performance_issues, review_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.WorkItemID, f.ProjectID, f.EstimatedHours, f.ActualHours, f.AccuracyScore,
		f.ReviewQualityScore, string(f.IssueType), f.Priority, f.Complexity,
		f.HadSecurityIssues, f.HadPerformanceIssues, f.ReviewCount,
	)
	if err != nil {
		return fmt.Errorf("failed to append feedback: %w", err)
	}
	return nil
}

const feedbackColumns = `id, work_item_id, project_id, estimated_hours, actual_hours,
	accuracy_score, review_quality_score, issue_type, priority, complexity,
	had_security_issues, had_performance_issues, review_count, created_at`

// ListFeedback returns the most recent records for a project, newest first,
// optionally filtered by issue type, capped at limit.
func (s *Store) ListFeedback(ctx context.Context, projectID string, issueType types.IssueType, limit int) ([]types.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + feedbackColumns + ` FROM feedback_records WHERE project_id = ?`
	args := []any{projectID}
	if issueType != "" {
		query += ` AND issue_type = ?`
		args = append(args, string(issueType))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var records []types.FeedbackRecord
	for rows.Next() {
		var f types.FeedbackRecord
		var issueType string
		if err := rows.Scan(&f.ID, &f.WorkItemID, &f.ProjectID, &f.EstimatedHours, &f.ActualHours,
			&f.AccuracyScore, &f.ReviewQualityScore, &issueType, &f.Priority, &f.Complexity,
			&f.HadSecurityIssues, &f.HadPerformanceIssues, &f.ReviewCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.IssueType = types.IssueType(issueType)
		records = append(records, f)
	}
	return records, rows.Err()
}

// ListFeedbackSince returns all records for a project created after since,
// oldest first. Used by the insights aggregator.
func (s *Store) ListFeedbackSince(ctx context.Context, projectID string, since time.Time) ([]types.FeedbackRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedbackColumns+` FROM feedback_records
		 WHERE project_id = ? AND created_at > ?
		 ORDER BY created_at`,
		projectID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback since %s: %w", since, err)
	}
	defer rows.Close()

	var records []types.FeedbackRecord
	for rows.Next() {
		var f types.FeedbackRecord
		var issueType string
		if err := rows.Scan(&f.ID, &f.WorkItemID, &f.ProjectID, &f.EstimatedHours, &f.ActualHours,
			&f.AccuracyScore, &f.ReviewQualityScore, &issueType, &f.Priority, &f.Complexity,
			&f.HadSecurityIssues, &f.HadPerformanceIssues, &f.ReviewCount, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		f.IssueType = types.IssueType(issueType)
		records = append(records, f)
	}
	return records, rows.Err()
}
