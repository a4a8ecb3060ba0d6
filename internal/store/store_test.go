package store

import (
	"context"
	"testing"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkItemRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	points := 5
	est := 8.0
	item := &types.WorkItem{
		ID:             "lin-123",
		ProjectID:      "proj-1",
		Title:          "Add auth",
		Description:    "JWT based login",
		Status:         types.StatusTodo,
		Priority:       2,
		StoryPoints:    &points,
		EstimatedHours: &est,
		Labels:         []string{"backend"},
	}
	if err := s.CreateWorkItem(ctx, item); err != nil {
		t.Fatalf("CreateWorkItem failed: %v", err)
	}

	got, err := s.GetWorkItem(ctx, "lin-123")
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if got.Title != "Add auth" || got.Status != types.StatusTodo {
		t.Errorf("Unexpected item: %+v", got)
	}
	if got.StoryPoints == nil || *got.StoryPoints != 5 {
		t.Errorf("Expected story points 5, got %v", got.StoryPoints)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "backend" {
		t.Errorf("Expected labels [backend], got %v", got.Labels)
	}
}

func TestMarkWorkItemDone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	item := &types.WorkItem{ID: "w1", ProjectID: "p1", Title: "t", Status: types.StatusInProgress, Priority: 3}
	if err := s.CreateWorkItem(ctx, item); err != nil {
		t.Fatalf("CreateWorkItem failed: %v", err)
	}

	if err := s.MarkWorkItemDone(ctx, "w1", 3.5, time.Now()); err != nil {
		t.Fatalf("MarkWorkItemDone failed: %v", err)
	}

	got, _ := s.GetWorkItem(ctx, "w1")
	if got.Status != types.StatusDone {
		t.Errorf("Expected done, got %s", got.Status)
	}
	if got.ActualHours == nil || *got.ActualHours != 3.5 {
		t.Errorf("Expected actual hours 3.5, got %v", got.ActualHours)
	}
	if got.CompletedAt == nil {
		t.Error("Expected completed_at to be set")
	}

	if err := s.MarkWorkItemDone(ctx, "missing", 1, time.Now()); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSetParentRejectsCycles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateWorkItem(ctx, &types.WorkItem{ID: id, ProjectID: "p", Title: id, Status: types.StatusBacklog, Priority: 3}); err != nil {
			t.Fatalf("CreateWorkItem failed: %v", err)
		}
	}

	// a <- b <- c
	if err := s.SetParent(ctx, "b", "a"); err != nil {
		t.Fatalf("SetParent(b,a) failed: %v", err)
	}
	if err := s.SetParent(ctx, "c", "b"); err != nil {
		t.Fatalf("SetParent(c,b) failed: %v", err)
	}

	// a under c would close the loop.
	if err := s.SetParent(ctx, "a", "c"); err != ErrParentCycle {
		t.Errorf("Expected ErrParentCycle, got %v", err)
	}
	if err := s.SetParent(ctx, "a", "a"); err != ErrParentCycle {
		t.Errorf("Expected ErrParentCycle for self-parent, got %v", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	current := "t2"
	now := time.Now().UTC().Truncate(time.Second)
	sess := &types.SprintSession{
		SprintID:         "sprint-1",
		TaskQueue:        []string{"t1", "t2", "t3"},
		Completed:        []string{"t1"},
		Current:          &current,
		Status:           types.SessionActive,
		StartedAt:        now,
		CurrentStartedAt: &now,
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "sprint-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.SessionActive || got.Current == nil || *got.Current != "t2" {
		t.Errorf("Unexpected session: %+v", got)
	}
	if len(got.TaskQueue) != 3 || len(got.Completed) != 1 {
		t.Errorf("Unexpected queue state: queue=%v completed=%v", got.TaskQueue, got.Completed)
	}

	// Upsert replaces the same row.
	sess.Completed = []string{"t1", "t2"}
	next := "t3"
	sess.Current = &next
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession upsert failed: %v", err)
	}
	got, _ = s.GetSession(ctx, "sprint-1")
	if len(got.Completed) != 2 || *got.Current != "t3" {
		t.Errorf("Upsert not applied: %+v", got)
	}
}

func TestFindWorkItemByMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateWorkItem(ctx, &types.WorkItem{ID: "lin-456", ProjectID: "p", Title: "t", Status: types.StatusTodo, Priority: 3}); err != nil {
		t.Fatalf("CreateWorkItem failed: %v", err)
	}

	got, err := s.FindWorkItemByMarker(ctx, 456)
	if err != nil {
		t.Fatalf("FindWorkItemByMarker failed: %v", err)
	}
	if got.ID != "lin-456" {
		t.Errorf("Expected lin-456, got %s", got.ID)
	}

	if _, err := s.FindWorkItemByMarker(ctx, 999); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
