// Package sprint drives continuous sprint execution: a persistent session
// per sprint holding a frozen ordered task queue, a current-task pointer,
// and instruction generation for the external agent working the queue.
package sprint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"go.uber.org/zap"
)

var (
	// ErrSessionActive rejects starting a sprint that already has a
	// non-completed session.
	ErrSessionActive = errors.New("sprint already has an active session")

	// ErrNoSession rejects operations on sprints that were never started.
	ErrNoSession = errors.New("sprint has no session")

	// ErrSessionNotActive rejects completions against paused or completed
	// sessions.
	ErrSessionNotActive = errors.New("session is not active")

	// ErrOutOfOrder rejects completing any task other than the current one.
	ErrOutOfOrder = errors.New("task is not the current task")

	// ErrEmptySprint rejects starting a sprint with no tasks.
	ErrEmptySprint = errors.New("sprint has no tasks")
)

// Recorder receives task outcomes after completion. Satisfied by the
// feedback loop; nil disables recording.
type Recorder interface {
	RecordCompletion(ctx context.Context, workItemID string, actualHours float64) error
}

// Executor owns sprint sessions. All state transitions persist to the
// store before the response is returned; the in-memory session map is a
// write-through cache so a restart loses nothing.
type Executor struct {
	store    *store.Store
	recorder Recorder
	callback string
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*types.SprintSession
	locks    map[string]*sync.Mutex

	nowFunc func() time.Time
}

// NewExecutor builds an executor. callbackBase is the externally reachable
// address embedded in instruction packets; recorder may be nil.
func NewExecutor(st *store.Store, recorder Recorder, callbackBase string,
	log *zap.Logger, m *metrics.Metrics) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		store:    st,
		recorder: recorder,
		callback: callbackBase,
		log:      log,
		metrics:  m,
		sessions: make(map[string]*types.SprintSession),
		locks:    make(map[string]*sync.Mutex),
		nowFunc:  time.Now,
	}
}

// sprintLock returns the mutex serializing transitions for one sprint.
// Different sprints progress independently.
func (e *Executor) sprintLock(sprintID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[sprintID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[sprintID] = l
	}
	return l
}

// loadSession returns the cached session or falls through to the store,
// so sessions survive restarts. Callers hold the sprint lock.
func (e *Executor) loadSession(ctx context.Context, sprintID string) (*types.SprintSession, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sprintID]
	e.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := e.store.GetSession(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sessions[sprintID] = sess
	e.mu.Unlock()
	return sess, nil
}

// saveSession persists the session and refreshes the cache. The store
// write happens first; the cache only ever reflects durable state.
func (e *Executor) saveSession(ctx context.Context, sess *types.SprintSession) error {
	if err := e.store.SaveSession(ctx, sess); err != nil {
		return err
	}
	e.mu.Lock()
	e.sessions[sess.SprintID] = sess
	e.mu.Unlock()
	return nil
}

// Start freezes the sprint's task list into a session queue and returns
// the instruction packet for the external agent. Rejects when a
// non-completed session already exists.
func (e *Executor) Start(ctx context.Context, sprintID string) (*InstructionPacket, error) {
	lock := e.sprintLock(sprintID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.loadSession(ctx, sprintID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status != types.SessionCompleted {
		e.count("rejected")
		return nil, ErrSessionActive
	}

	sp, err := e.store.GetSprint(ctx, sprintID)
	if err != nil {
		return nil, err
	}
	if len(sp.TaskIDs) == 0 {
		return nil, ErrEmptySprint
	}

	now := e.nowFunc().UTC()
	first := sp.TaskIDs[0]
	sess := &types.SprintSession{
		SprintID:         sprintID,
		TaskQueue:        append([]string(nil), sp.TaskIDs...),
		Completed:        []string{},
		Current:          &first,
		Status:           types.SessionActive,
		StartedAt:        now,
		CurrentStartedAt: &now,
	}
	if err := e.saveSession(ctx, sess); err != nil {
		return nil, err
	}

	if err := e.store.SetSprintStatus(ctx, sprintID, types.SprintActive); err != nil {
		e.log.Warn("failed to mark sprint active", zap.Error(err))
	}
	if err := e.store.SetWorkItemStatus(ctx, first, types.StatusInProgress); err != nil {
		e.log.Warn("failed to mark first task in progress", zap.Error(err))
	}

	tasks, err := e.taskBriefs(ctx, sess.TaskQueue)
	if err != nil {
		return nil, err
	}

	e.count("start")
	e.log.Info("sprint session started",
		zap.String("sprint", sprintID), zap.Int("tasks", len(tasks)))

	return &InstructionPacket{
		SprintID:    sprintID,
		SprintName:  sp.Name,
		TaskCount:   len(tasks),
		Tasks:       tasks,
		CallbackURL: e.completionCallback(sprintID),
		Directive: fmt.Sprintf(
			"Process all %d tasks strictly in the order listed. Work each task to completion, "+
				"then POST to the callback with the task id before starting the next. "+
				"Do not skip ahead and do not pause between tasks.", len(tasks)),
	}, nil
}

// Complete marks the current task done and advances the queue, returning
// either the next task's directive or the terminal summary. taskID must
// equal the session's current pointer; the agent may not skip ahead.
// actualHours overrides the elapsed-time inference when non-nil.
func (e *Executor) Complete(ctx context.Context, sprintID, taskID string, actualHours *float64) (*NextDirective, error) {
	lock := e.sprintLock(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.loadSession(ctx, sprintID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if sess.Status != types.SessionActive {
		return nil, ErrSessionNotActive
	}
	if sess.Current == nil || *sess.Current != taskID {
		e.count("rejected")
		return nil, fmt.Errorf("%w: expected %s", ErrOutOfOrder, currentOr(sess.Current, "none"))
	}

	now := e.nowFunc().UTC()
	hours := e.resolveActualHours(sess, actualHours, now)

	if err := e.store.MarkWorkItemDone(ctx, taskID, hours, now); err != nil {
		return nil, err
	}

	// Copy-on-write so the cached session never reflects an unsaved
	// transition.
	next := *sess
	next.Completed = append(append([]string(nil), sess.Completed...), taskID)

	idx := indexOf(sess.TaskQueue, taskID)
	last := idx < 0 || idx+1 >= len(sess.TaskQueue)

	if last {
		next.Current = nil
		next.CurrentStartedAt = nil
		next.Status = types.SessionCompleted
		next.CompletedAt = &now
	} else {
		nextID := sess.TaskQueue[idx+1]
		next.Current = &nextID
		next.CurrentStartedAt = &now
	}

	if err := e.saveSession(ctx, &next); err != nil {
		return nil, err
	}

	if e.recorder != nil {
		if err := e.recorder.RecordCompletion(ctx, taskID, hours); err != nil {
			e.log.Warn("failed to record task feedback",
				zap.String("task", taskID), zap.Error(err))
		}
	}

	if last {
		if err := e.store.SetSprintStatus(ctx, sprintID, types.SprintCompleted); err != nil {
			e.log.Warn("failed to mark sprint completed", zap.Error(err))
		}
		e.count("finish")
		e.log.Info("sprint session completed",
			zap.String("sprint", sprintID),
			zap.Int("tasks", len(next.Completed)),
			zap.Duration("elapsed", now.Sub(sess.StartedAt)))
		return &NextDirective{
			Done:           true,
			CompletedCount: len(next.Completed),
			TotalCount:     len(next.TaskQueue),
			ElapsedSeconds: now.Sub(sess.StartedAt).Seconds(),
			Directive: fmt.Sprintf("All %d tasks are complete. The sprint is finished; stop working.",
				len(next.Completed)),
		}, nil
	}

	if err := e.store.SetWorkItemStatus(ctx, *next.Current, types.StatusInProgress); err != nil {
		e.log.Warn("failed to mark next task in progress", zap.Error(err))
	}

	briefs, err := e.taskBriefs(ctx, []string{*next.Current})
	if err != nil {
		return nil, err
	}

	e.count("complete")
	return &NextDirective{
		Done:           false,
		NextTask:       &briefs[0],
		CompletedCount: len(next.Completed),
		TotalCount:     len(next.TaskQueue),
		CallbackURL:    e.completionCallback(sprintID),
		Directive: fmt.Sprintf("Task %s is recorded. Immediately begin task %s (%d of %d). "+
			"POST to the callback when it is done.",
			taskID, *next.Current, len(next.Completed)+1, len(next.TaskQueue)),
	}, nil
}

// Pause suspends an active session without advancing or clearing the
// current pointer. In-flight work is unaffected.
func (e *Executor) Pause(ctx context.Context, sprintID string) (*SessionSummary, error) {
	return e.transition(ctx, sprintID, types.SessionActive, types.SessionPaused, "pause")
}

// Resume reactivates a paused session with the current pointer unchanged.
func (e *Executor) Resume(ctx context.Context, sprintID string) (*SessionSummary, error) {
	return e.transition(ctx, sprintID, types.SessionPaused, types.SessionActive, "resume")
}

func (e *Executor) transition(ctx context.Context, sprintID string,
	from, to types.SessionStatus, event string) (*SessionSummary, error) {
	lock := e.sprintLock(sprintID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := e.loadSession(ctx, sprintID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	if sess.Status != from {
		return nil, fmt.Errorf("%w: status is %s", ErrSessionNotActive, sess.Status)
	}

	next := *sess
	next.Status = to
	if err := e.saveSession(ctx, &next); err != nil {
		return nil, err
	}

	e.count(event)
	e.log.Info("sprint session "+string(to), zap.String("sprint", sprintID))
	return summarize(&next), nil
}

// Status returns the session's progress and current task.
func (e *Executor) Status(ctx context.Context, sprintID string) (*SessionSummary, error) {
	sess, err := e.loadSession(ctx, sprintID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, err
	}
	return summarize(sess), nil
}

// resolveActualHours prefers the caller-supplied value and otherwise
// infers hours from how long the task was current, rounded to 2 decimals
// with a small floor so instant completions still carry signal.
func (e *Executor) resolveActualHours(sess *types.SprintSession, override *float64, now time.Time) float64 {
	if override != nil && *override > 0 {
		return *override
	}
	if sess.CurrentStartedAt == nil {
		return 0
	}
	hours := now.Sub(*sess.CurrentStartedAt).Hours()
	if hours < 0.01 {
		hours = 0.01
	}
	return math.Round(hours*100) / 100
}

func (e *Executor) taskBriefs(ctx context.Context, ids []string) ([]TaskBrief, error) {
	briefs := make([]TaskBrief, 0, len(ids))
	for _, id := range ids {
		item, err := e.store.GetWorkItem(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load task %s: %w", id, err)
		}
		b := TaskBrief{
			ID:          item.ID,
			Title:       item.Title,
			Description: item.Description,
			Priority:    item.Priority,
		}
		if item.EstimatedHours != nil {
			b.EstimatedHours = *item.EstimatedHours
		}
		if item.TokenBudget != nil {
			b.TokenBudget = *item.TokenBudget
		}
		briefs = append(briefs, b)
	}
	return briefs, nil
}

func (e *Executor) completionCallback(sprintID string) string {
	return fmt.Sprintf("%s/continuous/sprint/%s/task/{taskId}/complete", e.callback, sprintID)
}

func (e *Executor) count(event string) {
	if e.metrics != nil {
		e.metrics.SprintEvents.WithLabelValues(event).Inc()
	}
}

func indexOf(queue []string, id string) int {
	for i, q := range queue {
		if q == id {
			return i
		}
	}
	return -1
}

func currentOr(current *string, fallback string) string {
	if current == nil {
		return fallback
	}
	return *current
}
