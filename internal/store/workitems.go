package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// ErrParentCycle is returned when set_parent would create a cycle in the
// work-item forest.
var ErrParentCycle = errors.New("parent assignment would create a cycle")

// CreateProject persists a project.
func (s *Store) CreateProject(ctx context.Context, p *types.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, color, status) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Color, p.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p types.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, color, status, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Color, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", id, err)
	}
	return &p, nil
}

// CreateWorkItem persists a work item.
func (s *Store) CreateWorkItem(ctx context.Context, w *types.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	labels, _ := json.Marshal(w.Labels)
	var host, repo *string
	var number *int
	if w.CodeChange != nil {
		host, repo, number = &w.CodeChange.Host, &w.CodeChange.Repo, &w.CodeChange.Number
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO work_items
		 (id, project_id, title, description, status, priority, parent_id,
		  estimated_hours, actual_hours, story_points, token_budget, labels,
		  change_host, change_repo, change_number)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ProjectID, w.Title, w.Description, string(w.Status), w.Priority, w.ParentID,
		w.EstimatedHours, w.ActualHours, w.StoryPoints, w.TokenBudget, string(labels),
		host, repo, number,
	)
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

// GetWorkItem loads a work item by id.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getWorkItemLocked(ctx, id)
}

func (s *Store) getWorkItemLocked(ctx context.Context, id string) (*types.WorkItem, error) {
	var w types.WorkItem
	var status, labels string
	var host, repo sql.NullString
	var number sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, title, description, status, priority, parent_id,
		        estimated_hours, actual_hours, story_points, token_budget, labels,
		        change_host, change_repo, change_number,
		        created_at, updated_at, completed_at
		 FROM work_items WHERE id = ?`, id,
	).Scan(&w.ID, &w.ProjectID, &w.Title, &w.Description, &status, &w.Priority, &w.ParentID,
		&w.EstimatedHours, &w.ActualHours, &w.StoryPoints, &w.TokenBudget, &labels,
		&host, &repo, &number,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load work item %s: %w", id, err)
	}

	w.Status = types.WorkItemStatus(status)
	json.Unmarshal([]byte(labels), &w.Labels)
	if host.Valid && repo.Valid && number.Valid {
		w.CodeChange = &types.CodeChangeRef{Host: host.String, Repo: repo.String, Number: int(number.Int64)}
	}
	return &w, nil
}

// MarkWorkItemDone transitions the item to done with a completion timestamp
// and records actual hours.
func (s *Store) MarkWorkItemDone(ctx context.Context, id string, actualHours float64, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items
		 SET status = ?, actual_hours = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(types.StatusDone), actualHours, completedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWorkItemStatus updates a work item's status.
func (s *Store) SetWorkItemStatus(ctx context.Context, id string, status types.WorkItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetWorkItemCodeChange records the code-change linkage on a work item.
func (s *Store) SetWorkItemCodeChange(ctx context.Context, id string, ref types.CodeChangeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items
		 SET change_host = ?, change_repo = ?, change_number = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		ref.Host, ref.Repo, ref.Number, id,
	)
	if err != nil {
		return fmt.Errorf("failed to link work item %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetParent assigns parent as the parent of child. The relation must remain
// a forest: the assignment is rejected when parent is a descendant of child.
func (s *Store) SetParent(ctx context.Context, childID, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if childID == parentID {
		return ErrParentCycle
	}

	// Walk up from parent; hitting child means parent is child's descendant.
	cursor := parentID
	for i := 0; i < 1000 && cursor != ""; i++ {
		var next sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT parent_id FROM work_items WHERE id = ?`, cursor,
		).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to walk parents of %s: %w", parentID, err)
		}
		if !next.Valid {
			break
		}
		if next.String == childID {
			return ErrParentCycle
		}
		cursor = next.String
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE work_items SET parent_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		parentID, childID,
	)
	if err != nil {
		return fmt.Errorf("failed to set parent of %s: %w", childID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindWorkItemByMarker resolves a numeric work-item marker (e.g. the 123 in
// "#123" or "LIN-123") to a work item id. Markers match the trailing digits
// of the item id, which collaborators assign as "<project>-<n>" style keys.
func (s *Store) FindWorkItemByMarker(ctx context.Context, marker int) (*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM work_items
		 WHERE id = ? OR id LIKE ?
		 ORDER BY created_at DESC LIMIT 1`,
		fmt.Sprintf("%d", marker), fmt.Sprintf("%%-%d", marker),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve marker %d: %w", marker, err)
	}
	return s.getWorkItemLocked(ctx, id)
}
