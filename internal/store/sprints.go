package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// CreateSprint persists a sprint and its ordered task list.
func (s *Store) CreateSprint(ctx context.Context, sp *types.Sprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sprints (id, project_id, name, starts_at, ends_at, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.ProjectID, sp.Name, sp.StartsAt.UTC(), sp.EndsAt.UTC(), string(sp.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to create sprint: %w", err)
	}

	for i, taskID := range sp.TaskIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sprint_tasks (sprint_id, work_item_id, position) VALUES (?, ?, ?)`,
			sp.ID, taskID, i,
		)
		if err != nil {
			return fmt.Errorf("failed to add sprint task %s: %w", taskID, err)
		}
	}

	return tx.Commit()
}

// GetSprint loads a sprint including its ordered task ids.
func (s *Store) GetSprint(ctx context.Context, id string) (*types.Sprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sp types.Sprint
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, starts_at, ends_at, status FROM sprints WHERE id = ?`, id,
	).Scan(&sp.ID, &sp.ProjectID, &sp.Name, &sp.StartsAt, &sp.EndsAt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sprint %s: %w", id, err)
	}
	sp.Status = types.SprintStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT work_item_id FROM sprint_tasks WHERE sprint_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load sprint tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, fmt.Errorf("failed to scan sprint task: %w", err)
		}
		sp.TaskIDs = append(sp.TaskIDs, taskID)
	}
	return &sp, rows.Err()
}

// SetSprintStatus updates a sprint's status.
func (s *Store) SetSprintStatus(ctx context.Context, id string, status types.SprintStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sprints SET status = ? WHERE id = ?`, string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update sprint %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
