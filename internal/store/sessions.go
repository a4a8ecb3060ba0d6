package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// SaveSession upserts the session row for its sprint. Every executor state
// transition persists through here before the response is returned.
func (s *Store) SaveSession(ctx context.Context, sess *types.SprintSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, err := json.Marshal(sess.TaskQueue)
	if err != nil {
		return fmt.Errorf("failed to encode task queue: %w", err)
	}
	completed, err := json.Marshal(sess.Completed)
	if err != nil {
		return fmt.Errorf("failed to encode completed list: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sprint_sessions
		 (sprint_id, task_queue, completed, current, status, started_at, current_started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(sprint_id) DO UPDATE SET
		 task_queue = excluded.task_queue,
		 completed = excluded.completed,
		 current = excluded.current,
		 status = excluded.status,
		 started_at = excluded.started_at,
		 current_started_at = excluded.current_started_at,
		 completed_at = excluded.completed_at,
		 updated_at = CURRENT_TIMESTAMP`,
		sess.SprintID, string(queue), string(completed), sess.Current, string(sess.Status),
		sess.StartedAt.UTC(), sess.CurrentStartedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.SprintID, err)
	}
	return nil
}

// GetSession loads the session for a sprint.
func (s *Store) GetSession(ctx context.Context, sprintID string) (*types.SprintSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess types.SprintSession
	var queue, completed, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT sprint_id, task_queue, completed, current, status, started_at,
		        current_started_at, completed_at, updated_at
		 FROM sprint_sessions WHERE sprint_id = ?`, sprintID,
	).Scan(&sess.SprintID, &queue, &completed, &sess.Current, &status, &sess.StartedAt,
		&sess.CurrentStartedAt, &sess.CompletedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sprintID, err)
	}

	if err := json.Unmarshal([]byte(queue), &sess.TaskQueue); err != nil {
		return nil, fmt.Errorf("failed to decode task queue: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &sess.Completed); err != nil {
		return nil, fmt.Errorf("failed to decode completed list: %w", err)
	}
	sess.Status = types.SessionStatus(status)
	return &sess, nil
}
