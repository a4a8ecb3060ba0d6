package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireReviewLock takes the per-change processing lock. It returns false
// when another live holder owns the lock. Locks older than ttl are expired
// and stolen; a crashed worker therefore blocks a change for at most ttl.
func (s *Store) AcquireReviewLock(ctx context.Context, changeKey, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl).UTC()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM review_locks WHERE change_key = ? AND locked_at < ?`,
		changeKey, cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("failed to expire review lock: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO review_locks (change_key, locked_by, locked_at) VALUES (?, ?, ?)`,
		changeKey, holder, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire review lock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseReviewLock drops the per-change lock if held by holder.
func (s *Store) ReleaseReviewLock(ctx context.Context, changeKey, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM review_locks WHERE change_key = ? AND locked_by = ?`,
		changeKey, holder,
	)
	if err != nil {
		return fmt.Errorf("failed to release review lock: %w", err)
	}
	return nil
}

// MarkCommentPosted records the content hash of a comment posted on a
// change. Returns false when the identical comment was already recorded,
// so callers can skip the duplicate post.
func (s *Store) MarkCommentPosted(ctx context.Context, changeKey, contentHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO review_marks (change_key, kind, detail) VALUES (?, 'comment', ?)`,
		changeKey, contentHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark comment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
