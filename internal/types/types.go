// Package types holds the domain entities shared across the Lineary core:
// projects, work items, sprints and their executing sessions, review jobs
// and insights, feedback records, and prompt templates.
package types

import "time"

// WorkItemStatus enumerates the work item lifecycle.
type WorkItemStatus string

const (
	StatusBacklog    WorkItemStatus = "backlog"
	StatusTodo       WorkItemStatus = "todo"
	StatusInProgress WorkItemStatus = "in_progress"
	StatusInReview   WorkItemStatus = "in_review"
	StatusDone       WorkItemStatus = "done"
	StatusCancelled  WorkItemStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s WorkItemStatus) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// IssueType classifies a work item for estimation and feedback purposes.
type IssueType string

const (
	IssueBug           IssueType = "bug"
	IssueFeature       IssueType = "feature"
	IssueRefactor      IssueType = "refactor"
	IssueDocumentation IssueType = "documentation"
	IssueTest          IssueType = "test"
	IssueOptimization  IssueType = "optimization"
)

// Project is the top-level container for sprints and work items.
// Created and mostly managed by the external CRUD layer.
type Project struct {
	ID        string
	Name      string
	Color     string
	Status    string
	CreatedAt time.Time
}

// CodeChangeRef identifies a pull/merge request on a code host.
type CodeChangeRef struct {
	Host   string `json:"host"`
	Repo   string `json:"repo"`
	Number int    `json:"number"`
}

// WorkItem is a unit of plannable work.
type WorkItem struct {
	ID             string
	ProjectID      string
	Title          string
	Description    string
	Status         WorkItemStatus
	Priority       int // 1 (critical) .. 5 (lowest)
	ParentID       *string
	EstimatedHours *float64
	ActualHours    *float64
	StoryPoints    *int
	TokenBudget    *int
	Labels         []string
	CodeChange     *CodeChangeRef
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// SprintStatus enumerates the sprint lifecycle.
type SprintStatus string

const (
	SprintPlanning  SprintStatus = "planning"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
)

// Sprint is a time-bounded, ordered bundle of work items.
type Sprint struct {
	ID        string
	ProjectID string
	Name      string
	StartsAt  time.Time
	EndsAt    time.Time
	Status    SprintStatus
	TaskIDs   []string // ordered
}

// SessionStatus enumerates the sprint session lifecycle.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// SprintSession is the executing instance over a sprint's task bundle.
// The task queue is frozen at start time and never reordered. Current is
// nil exactly when the session is completed.
type SprintSession struct {
	SprintID         string
	TaskQueue        []string // frozen, ordered
	Completed        []string
	Current          *string
	Status           SessionStatus
	StartedAt        time.Time
	CurrentStartedAt *time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

// Progress returns completed and total task counts.
func (s *SprintSession) Progress() (done, total int) {
	return len(s.Completed), len(s.TaskQueue)
}

// IsCompleted reports whether taskID has already been completed in this session.
func (s *SprintSession) IsCompleted(taskID string) bool {
	for _, id := range s.Completed {
		if id == taskID {
			return true
		}
	}
	return false
}

// ReviewJob is a durable queue entry requesting an LLM review of a code change.
type ReviewJob struct {
	ID             string
	Host           string
	Repo           string
	Number         int
	HeadSHA        string
	Title          string
	Body           string
	InstallationID int64
	Modifier       string // "", "security", "performance", "explain"
	Attempts       int
	EnqueuedAt     time.Time
}

// ChangeKey returns the identity under which jobs are deduplicated and locked.
func (j *ReviewJob) ChangeKey() string {
	return ChangeKey(j.Host, j.Repo, j.Number, j.HeadSHA)
}

// Severity grades a review suggestion.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Suggestion is a single reviewer finding.
type Suggestion struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	File     string   `json:"file,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// ReviewInsight is the structured, persisted output of one LLM code review.
type ReviewInsight struct {
	ID                   string
	Host                 string
	Repo                 string
	Number               int
	HeadSHA              string
	WorkItemID           *string // nil when no work-item marker resolved
	Score                int     // 0..100
	HasSecurityIssues    bool
	HasPerformanceIssues bool
	HasBugs              bool
	Suggestions          []Suggestion
	RawResponse          string
	Unparseable          bool
	Failed               bool
	CreatedAt            time.Time
}

// FeedbackRecord captures one estimated-vs-actual outcome. Append-only.
type FeedbackRecord struct {
	ID                   string
	WorkItemID           string
	ProjectID            string
	EstimatedHours       float64
	ActualHours          float64
	AccuracyScore        int  // 0..100
	ReviewQualityScore   *int // nil when the item had no reviews
	IssueType            IssueType
	Priority             int
	Complexity           int
	HadSecurityIssues    bool
	HadPerformanceIssues bool
	ReviewCount          int
	CreatedAt            time.Time
}

// PromptTemplate is a reusable prompt with named {{variable}} placeholders.
type PromptTemplate struct {
	ID          string
	Category    string // unique
	Template    string
	Variables   map[string]string // name -> default
	UsageCount  int
	SuccessRate float64 // EWMA in [0,1]
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
