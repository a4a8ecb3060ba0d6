package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// SaveReviewInsight persists a review insight.
func (s *Store) SaveReviewInsight(ctx context.Context, r *types.ReviewInsight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	suggestions, err := json.Marshal(r.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to encode suggestions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_insights
		 (id, host, repo, change_number, head_sha, work_item_id, score,
		  has_security_issues, has_performance_issues, has_bugs,
		  suggestions, raw_response, unparseable, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Host, r.Repo, r.Number, r.HeadSHA, r.WorkItemID, r.Score,
		r.HasSecurityIssues, r.HasPerformanceIssues, r.HasBugs,
		string(suggestions), r.RawResponse, r.Unparseable, r.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to save review insight: %w", err)
	}
	return nil
}

func scanInsights(rows *sql.Rows) ([]types.ReviewInsight, error) {
	var insights []types.ReviewInsight
	for rows.Next() {
		var r types.ReviewInsight
		var suggestions string
		if err := rows.Scan(&r.ID, &r.Host, &r.Repo, &r.Number, &r.HeadSHA, &r.WorkItemID,
			&r.Score, &r.HasSecurityIssues, &r.HasPerformanceIssues, &r.HasBugs,
			&suggestions, &r.RawResponse, &r.Unparseable, &r.Failed, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review insight: %w", err)
		}
		json.Unmarshal([]byte(suggestions), &r.Suggestions)
		insights = append(insights, r)
	}
	return insights, rows.Err()
}

const insightColumns = `id, host, repo, change_number, head_sha, work_item_id, score,
	has_security_issues, has_performance_issues, has_bugs,
	suggestions, raw_response, unparseable, failed, created_at`

// ListInsightsForWorkItem returns all insights linked to a work item,
// newest first.
func (s *Store) ListInsightsForWorkItem(ctx context.Context, workItemID string) ([]types.ReviewInsight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM review_insights
		 WHERE work_item_id = ? ORDER BY created_at DESC`, workItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights for %s: %w", workItemID, err)
	}
	defer rows.Close()
	return scanInsights(rows)
}

// ListInsightsForProject returns insights linked to any of the project's
// work items created after since.
func (s *Store) ListInsightsForProject(ctx context.Context, projectID string, since time.Time) ([]types.ReviewInsight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM review_insights
		 WHERE work_item_id IN (SELECT id FROM work_items WHERE project_id = ?)
		   AND created_at > ?
		 ORDER BY created_at DESC`,
		projectID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list insights for project %s: %w", projectID, err)
	}
	defer rows.Close()
	return scanInsights(rows)
}
