package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/google/uuid"
)

// successRateAlpha is the EWMA weight applied to the latest outcome when
// updating a template's success rate.
const successRateAlpha = 0.1

// GetTemplateByCategory loads a prompt template by its unique category.
func (s *Store) GetTemplateByCategory(ctx context.Context, category string) (*types.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var t types.PromptTemplate
	var variables string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, category, template, variables, usage_count, success_rate, created_at, updated_at
		 FROM prompt_templates WHERE category = ?`, category,
	).Scan(&t.ID, &t.Category, &t.Template, &variables, &t.UsageCount, &t.SuccessRate,
		&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", category, err)
	}

	if err := json.Unmarshal([]byte(variables), &t.Variables); err != nil {
		return nil, fmt.Errorf("failed to decode template variables: %w", err)
	}
	return &t, nil
}

// UpsertTemplate inserts or replaces a template by category.
func (s *Store) UpsertTemplate(ctx context.Context, t *types.PromptTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertTemplateLocked(ctx, t)
}

func (s *Store) upsertTemplateLocked(ctx context.Context, t *types.PromptTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	variables, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("failed to encode template variables: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO prompt_templates (id, category, template, variables, usage_count, success_rate)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(category) DO UPDATE SET
		 template = excluded.template,
		 variables = excluded.variables,
		 updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.Category, t.Template, string(variables), t.UsageCount, t.SuccessRate,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", t.Category, err)
	}
	return nil
}

// RecordTemplateUse increments usage_count and folds the latest outcome
// (1 for a parseable review, 0 otherwise) into the success-rate EWMA.
func (s *Store) RecordTemplateUse(ctx context.Context, category string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	outcome := 0.0
	if success {
		outcome = 1.0
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE prompt_templates
		 SET usage_count = usage_count + 1,
		     success_rate = CASE WHEN usage_count = 0 THEN ?
		                         ELSE success_rate + ? * (? - success_rate) END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE category = ?`,
		outcome, successRateAlpha, outcome, category,
	)
	if err != nil {
		return fmt.Errorf("failed to record template use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// seedPromptTemplates installs the default review templates when absent.
// Existing rows keep their usage counters; only missing categories are added.
func (s *Store) seedPromptTemplates() error {
	ctx := context.Background()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range defaultTemplates() {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM prompt_templates WHERE category = ?`, t.Category,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check template %s: %w", t.Category, err)
		}
		if exists > 0 {
			continue
		}
		if err := s.upsertTemplateLocked(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func defaultTemplates() []*types.PromptTemplate {
	vars := map[string]string{
		"language":    "unknown",
		"framework":   "none",
		"title":       "",
		"description": "",
		"files":       "",
	}

	return []*types.PromptTemplate{
		{
			Category: "code_review",
			Template: `You are a senior engineer reviewing a pull request.

Title: {{title}}
Description: {{description}}
Language: {{language}} ({{framework}})

Changed files:
{{files}}

Respond with a single JSON object:
{
  "overall_score": <0-100>,
  "security_issues": [{"severity": "info|warning|error|critical", "message": "...", "file": "...", "line": 0}],
  "performance_issues": [{"severity": "...", "message": "...", "file": "...", "line": 0}],
  "bugs": [{"severity": "...", "message": "...", "file": "...", "line": 0}],
  "suggested_improvements": ["..."],
  "summary": "one paragraph"
}`,
			Variables: vars,
		},
		{
			Category: "security",
			Template: `You are a security auditor. Focus exclusively on vulnerabilities: injection,
auth bypass, secrets handling, unsafe deserialization, SSRF.

Title: {{title}}
Description: {{description}}
Language: {{language}} ({{framework}})

Changed files:
{{files}}

Respond with the standard review JSON object (overall_score, security_issues,
performance_issues, bugs, suggested_improvements, summary). Score reflects
security posture only.`,
			Variables: vars,
		},
		{
			Category: "performance",
			Template: `You are a performance engineer. Focus on algorithmic complexity, allocation
pressure, N+1 queries, and blocking calls on hot paths.

Title: {{title}}
Description: {{description}}
Language: {{language}} ({{framework}})

Changed files:
{{files}}

Respond with the standard review JSON object (overall_score, security_issues,
performance_issues, bugs, suggested_improvements, summary).`,
			Variables: vars,
		},
		{
			Category: "explain",
			Template: `Explain what this change does for a reviewer unfamiliar with the codebase.
Walk through the intent, then the mechanics.

Title: {{title}}
Description: {{description}}
Language: {{language}} ({{framework}})

Changed files:
{{files}}

Respond with the standard review JSON object; put the explanation in "summary"
and leave issue lists empty unless something is clearly wrong.`,
			Variables: vars,
		},
	}
}
