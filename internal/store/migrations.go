package store

import "fmt"

// migrate creates the required tables. Statements are idempotent so the
// schema can be re-applied on every startup.
func (s *Store) migrate() error {
	projects := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		color TEXT DEFAULT '',
		status TEXT DEFAULT 'active',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	workItems := `
	CREATE TABLE IF NOT EXISTS work_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'backlog',
		priority INTEGER NOT NULL DEFAULT 3,
		parent_id TEXT,
		estimated_hours REAL,
		actual_hours REAL,
		story_points INTEGER,
		token_budget INTEGER,
		labels TEXT DEFAULT '[]',
		change_host TEXT,
		change_repo TEXT,
		change_number INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_work_items_project ON work_items(project_id);
	CREATE INDEX IF NOT EXISTS idx_work_items_parent ON work_items(parent_id);
	`

	sprints := `
	CREATE TABLE IF NOT EXISTS sprints (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		starts_at DATETIME,
		ends_at DATETIME,
		status TEXT NOT NULL DEFAULT 'planning',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS sprint_tasks (
		sprint_id TEXT NOT NULL,
		work_item_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (sprint_id, work_item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sprint_tasks_sprint ON sprint_tasks(sprint_id, position);
	`

	// One session row per sprint; the queue is frozen at start time.
	sessions := `
	CREATE TABLE IF NOT EXISTS sprint_sessions (
		sprint_id TEXT PRIMARY KEY,
		task_queue TEXT NOT NULL,
		completed TEXT NOT NULL DEFAULT '[]',
		current TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		started_at DATETIME NOT NULL,
		current_started_at DATETIME,
		completed_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// Durable review-job queue. A claim older than the claim timeout is
	// reclaimable; completed_at marks terminal consumption.
	reviewJobs := `
	CREATE TABLE IF NOT EXISTS review_jobs (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		repo TEXT NOT NULL,
		change_number INTEGER NOT NULL,
		head_sha TEXT NOT NULL,
		title TEXT DEFAULT '',
		body TEXT DEFAULT '',
		installation_id INTEGER DEFAULT 0,
		modifier TEXT DEFAULT '',
		attempts INTEGER DEFAULT 0,
		enqueued_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		claimed_at DATETIME,
		claimed_by TEXT,
		not_before DATETIME,
		completed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_review_jobs_pending ON review_jobs(completed_at, enqueued_at);
	`

	reviewInsights := `
	CREATE TABLE IF NOT EXISTS review_insights (
		id TEXT PRIMARY KEY,
		host TEXT NOT NULL,
		repo TEXT NOT NULL,
		change_number INTEGER NOT NULL,
		head_sha TEXT NOT NULL,
		work_item_id TEXT,
		score INTEGER NOT NULL DEFAULT 0,
		has_security_issues INTEGER NOT NULL DEFAULT 0,
		has_performance_issues INTEGER NOT NULL DEFAULT 0,
		has_bugs INTEGER NOT NULL DEFAULT 0,
		suggestions TEXT NOT NULL DEFAULT '[]',
		raw_response TEXT DEFAULT '',
		unparseable INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_insights_work_item ON review_insights(work_item_id);
	CREATE INDEX IF NOT EXISTS idx_insights_change ON review_insights(host, repo, change_number, head_sha);
	`

	feedback := `
	CREATE TABLE IF NOT EXISTS feedback_records (
		id TEXT PRIMARY KEY,
		work_item_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		estimated_hours REAL NOT NULL,
		actual_hours REAL NOT NULL,
		accuracy_score INTEGER NOT NULL,
		review_quality_score INTEGER,
		issue_type TEXT NOT NULL DEFAULT 'feature',
		priority INTEGER NOT NULL DEFAULT 3,
		complexity INTEGER NOT NULL DEFAULT 3,
		had_security_issues INTEGER NOT NULL DEFAULT 0,
		had_performance_issues INTEGER NOT NULL DEFAULT 0,
		review_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_project ON feedback_records(project_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_feedback_type ON feedback_records(project_id, issue_type);
	`

	prompts := `
	CREATE TABLE IF NOT EXISTS prompt_templates (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL UNIQUE,
		template TEXT NOT NULL,
		variables TEXT NOT NULL DEFAULT '{}',
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	// review_marks serves both webhook dedup (kind='seen') and posted-comment
	// de-duplication by content hash (kind='comment').
	marks := `
	CREATE TABLE IF NOT EXISTS review_marks (
		change_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		marked_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (change_key, kind, detail)
	);
	CREATE TABLE IF NOT EXISTS review_locks (
		change_key TEXT PRIMARY KEY,
		locked_by TEXT NOT NULL,
		locked_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, stmt := range []string{projects, workItems, sprints, sessions, reviewJobs, reviewInsights, feedback, prompts, marks} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}
