// Package review consumes the durable review-job queue: it fetches the
// change's files from the code host, drives the LLM reviewer, persists the
// resulting insight, links it to a work item, and posts a summary comment.
package review

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/codehost"
	"github.com/48Nauts-Operator/lineary/internal/config"
	"github.com/48Nauts-Operator/lineary/internal/llm"
	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxJobAttempts bounds transient-failure retries per job.
const maxJobAttempts = 3

// llmDeadline bounds a single review completion.
const llmDeadline = 120 * time.Second

// Pool runs review workers against the durable queue.
type Pool struct {
	store   *store.Store
	hosts   map[string]codehost.Client
	llm     llm.Client
	cfg     config.ReviewConfig
	llmCfg  config.LLMConfig
	marker  string
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPool builds a worker pool. hosts maps host names ("github") to their
// clients; jobs for unknown hosts fail permanently.
func NewPool(st *store.Store, hosts map[string]codehost.Client, llmClient llm.Client,
	cfg config.ReviewConfig, llmCfg config.LLMConfig, markerPrefix string,
	log *zap.Logger, m *metrics.Metrics) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		store:   st,
		hosts:   hosts,
		llm:     llmClient,
		cfg:     cfg,
		llmCfg:  llmCfg,
		marker:  markerPrefix,
		log:     log,
		metrics: m,
	}
}

// Run polls the queue with cfg.Workers workers until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("review-worker-%d", i)
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		p.observeQueueDepth(ctx)

		for {
			job, err := p.store.ClaimNextReviewJob(ctx, workerID, p.cfg.ClaimTimeout)
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			if err != nil {
				p.log.Error("failed to claim review job", zap.Error(err))
				break
			}
			p.ProcessJob(ctx, workerID, job)
		}
	}
}

// ProcessJob runs one claimed job to a terminal or retryable outcome.
// Exported so tests and drain tooling can drive jobs synchronously.
func (p *Pool) ProcessJob(ctx context.Context, workerID string, job *types.ReviewJob) {
	log := p.log.With(
		zap.String("repo", job.Repo),
		zap.Int("change", job.Number),
		zap.String("head", job.HeadSHA))

	// Serialize reviews of the same change head so parallel workers never
	// double-comment.
	locked, err := p.store.AcquireReviewLock(ctx, job.ChangeKey(), workerID, p.cfg.ClaimTimeout)
	if err != nil {
		log.Error("failed to acquire review lock", zap.Error(err))
		p.store.ReleaseReviewJob(ctx, job.ID, 0)
		return
	}
	if !locked {
		log.Info("change locked by another worker, releasing job")
		p.store.ReleaseReviewJob(ctx, job.ID, 0)
		return
	}
	defer p.store.ReleaseReviewLock(ctx, job.ChangeKey(), workerID)

	err = p.process(ctx, job)
	switch {
	case err == nil:
		p.store.CompleteReviewJob(ctx, job.ID)

	case errors.Is(err, codehost.ErrPermanent):
		log.Warn("permanent review failure", zap.Error(err))
		p.writeFailedInsight(ctx, job)
		p.store.CompleteReviewJob(ctx, job.ID)
		p.count("failed")

	case job.Attempts >= maxJobAttempts:
		log.Error("review retry budget exhausted", zap.Error(err), zap.Int("attempts", job.Attempts))
		p.writeFailedInsight(ctx, job)
		p.store.CompleteReviewJob(ctx, job.ID)
		p.count("failed")

	default:
		delay := retryBackoff(job.Attempts)
		log.Warn("transient review failure, releasing for retry",
			zap.Error(err), zap.Int("attempts", job.Attempts), zap.Duration("backoff", delay))
		p.store.ReleaseReviewJob(ctx, job.ID, delay)
	}
}

// retryBackoff doubles from one second per failed attempt, capped at a
// minute.
func retryBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Second << (attempts - 1)
	if delay > time.Minute {
		delay = time.Minute
	}
	return delay
}

// observeQueueDepth reports the pending-job count on each poll tick.
func (p *Pool) observeQueueDepth(ctx context.Context) {
	if p.metrics == nil {
		return
	}
	n, err := p.store.CountPendingReviewJobs(ctx)
	if err != nil {
		return
	}
	p.metrics.QueueDepthGauge.Set(float64(n))
}

func (p *Pool) process(ctx context.Context, job *types.ReviewJob) error {
	host, ok := p.hosts[job.Host]
	if !ok {
		return fmt.Errorf("no client for host %s: %w", job.Host, codehost.ErrPermanent)
	}
	if job.InstallationID != 0 {
		host = host.ForInstallation(job.InstallationID)
	}

	// Mention-triggered jobs carry no head commit; pin the review to the
	// change's current head before fetching anything.
	if job.HeadSHA == "" || job.HeadSHA == "HEAD" {
		change, err := host.GetChange(ctx, job.Repo, job.Number)
		if err != nil {
			return fmt.Errorf("failed to resolve change head: %w", err)
		}
		job.HeadSHA = change.HeadSHA
	}

	files, err := p.gatherFiles(ctx, host, job)
	if err != nil {
		return err
	}

	category := "code_review"
	if job.Modifier != "" {
		category = job.Modifier
	}
	tmpl, err := p.store.GetTemplateByCategory(ctx, category)
	if errors.Is(err, store.ErrNotFound) {
		tmpl, err = p.store.GetTemplateByCategory(ctx, "code_review")
	}
	if err != nil {
		return fmt.Errorf("failed to load prompt template: %w", err)
	}

	prompt := renderTemplate(tmpl, map[string]string{
		"language":    detectLanguage(files),
		"framework":   "none",
		"title":       job.Title,
		"description": job.Body,
		"files":       joinFiles(files),
	})

	llmCtx, cancel := context.WithTimeout(ctx, llmDeadline)
	defer cancel()

	temp := p.llmCfg.Temperature
	start := time.Now()
	resp, err := p.llm.Complete(llmCtx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   p.llmCfg.MaxTokens,
		Temperature: &temp,
	})
	if p.metrics != nil {
		p.metrics.LLMDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("llm review failed: %w", err)
	}

	insight := &types.ReviewInsight{
		ID:          uuid.NewString(),
		Host:        job.Host,
		Repo:        job.Repo,
		Number:      job.Number,
		HeadSHA:     job.HeadSHA,
		RawResponse: resp.Content,
	}

	summary := ""
	parsed, ok := Parse(resp.Content)
	if ok {
		insight.Score = parsed.Score
		insight.HasSecurityIssues = parsed.HasSecurityIssues
		insight.HasPerformanceIssues = parsed.HasPerformanceIssues
		insight.HasBugs = parsed.HasBugs
		insight.Suggestions = parsed.Suggestions
		summary = parsed.Summary
	} else {
		insight.Unparseable = true
	}

	p.linkWorkItem(ctx, job, insight)

	if err := p.store.SaveReviewInsight(ctx, insight); err != nil {
		return fmt.Errorf("failed to persist review insight: %w", err)
	}

	p.postSummary(ctx, host, job, insight, summary)

	if err := p.store.RecordTemplateUse(ctx, tmpl.Category, !insight.Unparseable); err != nil {
		p.log.Warn("failed to update template counters", zap.Error(err))
	}

	if insight.Unparseable {
		p.count("unparseable")
	} else {
		p.count("reviewed")
	}
	return nil
}

// gatherFiles lists the change's files, filters to reviewable code, and
// fetches the retained contents at the head commit.
func (p *Pool) gatherFiles(ctx context.Context, host codehost.Client, job *types.ReviewJob) ([]fetchedFile, error) {
	changed, err := host.ListChangedFiles(ctx, job.Repo, job.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed files: %w", err)
	}

	var retained []codehost.ChangedFile
	totalLines := 0
	for _, f := range changed {
		if f.Status == "removed" {
			continue
		}
		if !p.isCodeFile(f.Path) {
			continue
		}
		if totalLines+f.Additions+f.Deletions > p.cfg.MaxChangedLines {
			break
		}
		totalLines += f.Additions + f.Deletions
		retained = append(retained, f)
		if len(retained) >= p.cfg.MaxFiles {
			break
		}
	}

	files := make([]fetchedFile, 0, len(retained))
	for _, f := range retained {
		content, err := host.FileContent(ctx, job.Repo, f.Path, job.HeadSHA)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", f.Path, err)
		}
		if len(content) > p.cfg.MaxFileChars {
			content = content[:p.cfg.MaxFileChars]
		}
		files = append(files, fetchedFile{path: f.Path, content: content})
	}
	return files, nil
}

type fetchedFile struct {
	path    string
	content string
}

func (p *Pool) isCodeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range p.cfg.CodeExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// linkWorkItem resolves a work-item marker in the change title or body and
// links both directions: insight -> item and item -> code change.
func (p *Pool) linkWorkItem(ctx context.Context, job *types.ReviewJob, insight *types.ReviewInsight) {
	marker, ok := ExtractMarker(p.marker, job.Title+" "+job.Body)
	if !ok {
		return
	}

	item, err := p.store.FindWorkItemByMarker(ctx, marker)
	if errors.Is(err, store.ErrNotFound) {
		p.log.Debug("marker did not resolve to a work item", zap.Int("marker", marker))
		return
	}
	if err != nil {
		p.log.Warn("failed to resolve work-item marker", zap.Error(err))
		return
	}

	insight.WorkItemID = &item.ID
	ref := types.CodeChangeRef{Host: job.Host, Repo: job.Repo, Number: job.Number}
	if err := p.store.SetWorkItemCodeChange(ctx, item.ID, ref); err != nil {
		p.log.Warn("failed to link code change to work item", zap.Error(err))
	}
}

// postSummary posts the markdown comment, skipping exact duplicates.
func (p *Pool) postSummary(ctx context.Context, host codehost.Client, job *types.ReviewJob, insight *types.ReviewInsight, summary string) {
	body := summaryComment(insight, summary)

	fresh, err := p.store.MarkCommentPosted(ctx, job.ChangeKey(), contentHash(body))
	if err != nil {
		p.log.Warn("failed to check comment dedup", zap.Error(err))
		return
	}
	if !fresh {
		p.log.Info("identical comment already posted, skipping")
		return
	}

	if err := host.PostComment(ctx, job.Repo, job.Number, body); err != nil {
		// The insight is already durable; a lost comment is not worth
		// failing the job over.
		p.log.Warn("failed to post review comment", zap.Error(err))
	}
}

// writeFailedInsight records a score-0 failed review so users see "review
// unavailable" instead of nothing.
func (p *Pool) writeFailedInsight(ctx context.Context, job *types.ReviewJob) {
	insight := &types.ReviewInsight{
		ID:      uuid.NewString(),
		Host:    job.Host,
		Repo:    job.Repo,
		Number:  job.Number,
		HeadSHA: job.HeadSHA,
		Failed:  true,
	}
	p.linkWorkItem(ctx, job, insight)
	if err := p.store.SaveReviewInsight(ctx, insight); err != nil {
		p.log.Error("failed to persist failed-review record", zap.Error(err))
	}
}

func (p *Pool) count(result string) {
	if p.metrics != nil {
		p.metrics.ReviewJobs.WithLabelValues(result).Inc()
	}
}

// renderTemplate substitutes {{name}} placeholders, falling back to the
// template's declared defaults for variables the caller omits.
func renderTemplate(tmpl *types.PromptTemplate, vars map[string]string) string {
	out := tmpl.Template
	for name, def := range tmpl.Variables {
		value, ok := vars[name]
		if !ok || value == "" {
			value = def
		}
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}

func joinFiles(files []fetchedFile) string {
	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", f.path, f.content)
	}
	return b.String()
}

// detectLanguage picks the dominant language by file extension.
func detectLanguage(files []fetchedFile) string {
	byExt := map[string]string{
		".go": "go", ".ts": "typescript", ".tsx": "typescript",
		".js": "javascript", ".jsx": "javascript", ".py": "python",
		".rs": "rust", ".java": "java", ".rb": "ruby", ".sql": "sql",
		".sh": "shell",
	}

	counts := make(map[string]int)
	for _, f := range files {
		if lang, ok := byExt[strings.ToLower(filepath.Ext(f.path))]; ok {
			counts[lang]++
		}
	}

	best, bestCount := "unknown", 0
	for lang, n := range counts {
		if n > bestCount {
			best, bestCount = lang, n
		}
	}
	return best
}
