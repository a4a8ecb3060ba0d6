package sprint

import (
	"math"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// TaskBrief is the per-task metadata handed to the external agent.
type TaskBrief struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Priority       int     `json:"priority"`
	EstimatedHours float64 `json:"estimated_hours,omitempty"`
	TokenBudget    int     `json:"token_budget,omitempty"`
}

// InstructionPacket is the start-of-sprint hand-off document: the full
// frozen queue, the completion callback, and the marching orders.
type InstructionPacket struct {
	SprintID    string      `json:"sprint_id"`
	SprintName  string      `json:"sprint_name"`
	TaskCount   int         `json:"task_count"`
	Tasks       []TaskBrief `json:"tasks"`
	CallbackURL string      `json:"callback_url"`
	Directive   string      `json:"directive"`
}

// NextDirective is the response to a completion: either the next task
// with a continuation imperative, or the terminal summary when Done.
type NextDirective struct {
	Done           bool       `json:"done"`
	NextTask       *TaskBrief `json:"next_task,omitempty"`
	CompletedCount int        `json:"completed_count"`
	TotalCount     int        `json:"total_count"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
	CallbackURL    string     `json:"callback_url,omitempty"`
	Directive      string     `json:"directive"`
}

// SessionSummary is the status view of a session.
type SessionSummary struct {
	SprintID  string    `json:"sprint_id"`
	Status    string    `json:"status"`
	Current   *string   `json:"current_task,omitempty"`
	Done      int       `json:"completed"`
	Total     int       `json:"total"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"started_at"`
}

func summarize(sess *types.SprintSession) *SessionSummary {
	done, total := sess.Progress()
	percent := 0.0
	if total > 0 {
		percent = math.Round(float64(done)/float64(total)*1000) / 10
	}
	return &SessionSummary{
		SprintID:  sess.SprintID,
		Status:    string(sess.Status),
		Current:   sess.Current,
		Done:      done,
		Total:     total,
		Percent:   percent,
		StartedAt: sess.StartedAt,
	}
}
