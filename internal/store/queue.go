package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
	"go.uber.org/zap"
)

// EnqueueReviewJob appends a job to the durable review queue.
func (s *Store) EnqueueReviewJob(ctx context.Context, job *types.ReviewJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_jobs
		 (id, host, repo, change_number, head_sha, title, body, installation_id, modifier)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Host, job.Repo, job.Number, job.HeadSHA, job.Title, job.Body,
		job.InstallationID, job.Modifier,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue review job: %w", err)
	}

	s.log.Info("review job enqueued",
		zap.String("repo", job.Repo),
		zap.Int("change", job.Number),
		zap.String("head", job.HeadSHA))
	return nil
}

// ClaimNextReviewJob claims the oldest unconsumed job for workerID. Claims
// older than claimTimeout are treated as abandoned and become claimable
// again. Returns ErrNotFound when the queue is empty.
func (s *Store) ClaimNextReviewJob(ctx context.Context, workerID string, claimTimeout time.Duration) (*types.ReviewJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	cutoff := now.Add(-claimTimeout)

	var job types.ReviewJob
	err = tx.QueryRowContext(ctx,
		`SELECT id, host, repo, change_number, head_sha, title, body, installation_id, modifier, attempts, enqueued_at
		 FROM review_jobs
		 WHERE completed_at IS NULL
		   AND (claimed_at IS NULL OR claimed_at < ?)
		   AND (not_before IS NULL OR not_before <= ?)
		 ORDER BY enqueued_at
		 LIMIT 1`, cutoff, now,
	).Scan(&job.ID, &job.Host, &job.Repo, &job.Number, &job.HeadSHA, &job.Title, &job.Body,
		&job.InstallationID, &job.Modifier, &job.Attempts, &job.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select review job: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE review_jobs
		 SET claimed_at = ?, claimed_by = ?, attempts = attempts + 1
		 WHERE id = ?`,
		time.Now().UTC(), workerID, job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim review job %s: %w", job.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Attempts++
	return &job, nil
}

// CompleteReviewJob marks a job as terminally consumed.
func (s *Store) CompleteReviewJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE review_jobs SET completed_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete review job %s: %w", jobID, err)
	}
	return nil
}

// ReleaseReviewJob clears a claim so the job becomes claimable again,
// e.g. after a transient failure before the retry budget is spent. A
// positive delay holds the job back until now+delay so retries back off
// instead of spinning at the poll cadence.
func (s *Store) ReleaseReviewJob(ctx context.Context, jobID string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notBefore any
	if delay > 0 {
		notBefore = time.Now().Add(delay).UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE review_jobs SET claimed_at = NULL, claimed_by = NULL, not_before = ? WHERE id = ?`,
		notBefore, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to release review job %s: %w", jobID, err)
	}
	return nil
}

// CountPendingReviewJobs counts jobs not yet terminally consumed.
func (s *Store) CountPendingReviewJobs(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_jobs WHERE completed_at IS NULL`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return count, nil
}

// RecentJobExists reports whether a job with the same change identity was
// enqueued or completed within the window. This is the webhook dedup
// check: a job that finished a minute ago still suppresses a replay.
func (s *Store) RecentJobExists(ctx context.Context, host, repo string, number int, headSHA string, window time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window).UTC()
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_jobs
		 WHERE host = ? AND repo = ? AND change_number = ? AND head_sha = ?
		   AND (enqueued_at > ? OR completed_at > ?)`,
		host, repo, number, headSHA, cutoff, cutoff,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check recent jobs: %w", err)
	}
	return count > 0, nil
}
