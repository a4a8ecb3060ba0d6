package review

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/codehost"
	"github.com/48Nauts-Operator/lineary/internal/config"
	"github.com/48Nauts-Operator/lineary/internal/llm"
	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// fakeHost is a scriptable codehost.Client.
type fakeHost struct {
	files       []codehost.ChangedFile
	contents    map[string]string
	comments    []string
	listErr     error
	headSHA     string
	scopedTo    []int64
	fetchedRefs []string
}

func (f *fakeHost) InstallationToken(ctx context.Context, id int64) (string, time.Time, error) {
	return "tok", time.Now().Add(time.Hour), nil
}

func (f *fakeHost) ForInstallation(id int64) codehost.Client {
	f.scopedTo = append(f.scopedTo, id)
	return f
}

func (f *fakeHost) GetChange(ctx context.Context, repo string, number int) (*codehost.Change, error) {
	return &codehost.Change{Number: number, HeadSHA: f.headSHA}, nil
}

func (f *fakeHost) ListChangedFiles(ctx context.Context, repo string, number int) ([]codehost.ChangedFile, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.files, nil
}

func (f *fakeHost) FileContent(ctx context.Context, repo, path, ref string) (string, error) {
	f.fetchedRefs = append(f.fetchedRefs, ref)
	return f.contents[path], nil
}

func (f *fakeHost) PostComment(ctx context.Context, repo string, number int, body string) error {
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeHost) PostReview(ctx context.Context, repo string, number int, body string, comments []codehost.ReviewComment) error {
	return nil
}

// fakeLLM returns a canned response or error.
type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) > 0 {
		f.prompts = append(f.prompts, req.Messages[0].Content)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.response}, nil
}

func reviewCfg() config.ReviewConfig {
	cfg := config.Default().Review
	cfg.PollInterval = time.Millisecond
	return cfg
}

func newTestPool(t *testing.T, host *fakeHost, brain *fakeLLM) (*Pool, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	pool := NewPool(st, map[string]codehost.Client{"github": host}, brain,
		reviewCfg(), config.Default().LLM, "LIN", zap.NewNop(), metrics.NewUnregistered())
	return pool, st
}

func enqueueAndClaim(t *testing.T, st *store.Store, job *types.ReviewJob) *types.ReviewJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.EnqueueReviewJob(ctx, job))
	claimed, err := st.ClaimNextReviewJob(ctx, "test-worker", time.Minute)
	require.NoError(t, err)
	return claimed
}

func TestProcessJobLinksWorkItem(t *testing.T) {
	host := &fakeHost{
		files: []codehost.ChangedFile{
			{Path: "auth.go", Status: "modified", Additions: 50, Deletions: 5},
			{Path: "README.md", Status: "modified", Additions: 3},
		},
		contents: map[string]string{"auth.go": "package auth\n\nfunc Login() {}"},
	}
	brain := &fakeLLM{response: `{
		"overall_score": 85,
		"security_issues": [],
		"suggested_improvements": ["Handle token expiry", "Add rate limiting"],
		"summary": "Looks reasonable."
	}`}
	pool, st := newTestPool(t, host, brain)
	ctx := context.Background()

	require.NoError(t, st.CreateWorkItem(ctx, &types.WorkItem{
		ID: "lin-123", ProjectID: "p1", Title: "Add auth", Status: types.StatusInReview, Priority: 2,
	}))

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 42, HeadSHA: "abc",
		Title: "Add auth #123",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	insights, err := st.ListInsightsForWorkItem(ctx, "lin-123")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, 85, insights[0].Score)
	assert.False(t, insights[0].HasSecurityIssues)
	assert.Len(t, insights[0].Suggestions, 2)
	assert.False(t, insights[0].Unparseable)

	// Work item picked up the code-change linkage.
	item, err := st.GetWorkItem(ctx, "lin-123")
	require.NoError(t, err)
	require.NotNil(t, item.CodeChange)
	assert.Equal(t, "acme/api", item.CodeChange.Repo)
	assert.Equal(t, 42, item.CodeChange.Number)

	// One summary comment went out, markdown formatted.
	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "85/100")

	// Markdown file was filtered out of the prompt; the Go file stayed.
	require.Len(t, brain.prompts, 1)
	assert.Contains(t, brain.prompts[0], "auth.go")
	assert.NotContains(t, brain.prompts[0], "README.md")

	// Job consumed.
	_, err = st.ClaimNextReviewJob(ctx, "w2", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessJobScopesClientToJobInstallation(t *testing.T) {
	host := &fakeHost{
		files:    []codehost.ChangedFile{{Path: "a.go", Status: "modified", Additions: 5}},
		contents: map[string]string{"a.go": "package a"},
	}
	pool, st := newTestPool(t, host, &fakeLLM{response: `{"overall_score": 70, "summary": "ok"}`})
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
		InstallationID: 777,
	})
	pool.ProcessJob(ctx, "test-worker", job)

	// Host calls ran under the installation the webhook delivery named.
	assert.Equal(t, []int64{777}, host.scopedTo)
}

func TestProcessJobResolvesHeadForMentionTriggeredReview(t *testing.T) {
	host := &fakeHost{
		files:    []codehost.ChangedFile{{Path: "a.go", Status: "modified", Additions: 5}},
		contents: map[string]string{"a.go": "package a"},
		headSHA:  "real-head-sha",
	}
	pool, st := newTestPool(t, host, &fakeLLM{response: `{"overall_score": 70, "summary": "ok"}`})
	ctx := context.Background()

	require.NoError(t, st.CreateWorkItem(ctx, &types.WorkItem{
		ID: "lin-7", ProjectID: "p1", Title: "Fix parser", Status: types.StatusInReview, Priority: 2,
	}))

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "HEAD",
		Title: "Fix parser #7",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	// Contents were fetched at the change's actual head, never at the
	// placeholder ref.
	require.NotEmpty(t, host.fetchedRefs)
	for _, ref := range host.fetchedRefs {
		assert.Equal(t, "real-head-sha", ref)
	}

	// The persisted insight is pinned to the resolved commit.
	insights, err := st.ListInsightsForWorkItem(ctx, "lin-7")
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "real-head-sha", insights[0].HeadSHA)
}

func TestProcessJobMalformedLLMResponse(t *testing.T) {
	host := &fakeHost{
		files:    []codehost.ChangedFile{{Path: "a.go", Status: "modified", Additions: 5}},
		contents: map[string]string{"a.go": "package a"},
	}
	brain := &fakeLLM{response: "The change looks fine to me overall, no concerns."}
	pool, st := newTestPool(t, host, brain)
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	// Parse failure is terminal, not retried.
	_, err := st.ClaimNextReviewJob(ctx, "w2", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, host.comments, 1)
	assert.Contains(t, host.comments[0], "unavailable")

	// The unparseable outcome counted against the template.
	tmpl, err := st.GetTemplateByCategory(ctx, "code_review")
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.UsageCount)
	assert.Equal(t, 0.0, tmpl.SuccessRate)
}

func TestProcessJobPermanentHostFailure(t *testing.T) {
	host := &fakeHost{listErr: fmt.Errorf("change gone: %w", codehost.ErrPermanent)}
	pool, st := newTestPool(t, host, &fakeLLM{response: "{}"})
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1", Title: "#999",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	// Permanent failures are terminal: job consumed, no comment posted.
	_, err := st.ClaimNextReviewJob(ctx, "w2", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, host.comments)
}

func TestProcessJobTransientFailureReleasesJob(t *testing.T) {
	host := &fakeHost{listErr: fmt.Errorf("connection reset")}
	pool, st := newTestPool(t, host, &fakeLLM{response: "{}"})
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	// First failure: released with a backoff, so not immediately claimable.
	_, err := st.ClaimNextReviewJob(ctx, "w2", time.Minute)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// After the one-second backoff lapses the job comes back.
	var reclaimed *types.ReviewJob
	require.Eventually(t, func() bool {
		j, err := st.ClaimNextReviewJob(ctx, "w2", time.Minute)
		if err != nil {
			return false
		}
		reclaimed = j
		return true
	}, 3*time.Second, 50*time.Millisecond, "released job should become claimable")
	assert.Equal(t, "j1", reclaimed.ID)
	assert.Equal(t, 2, reclaimed.Attempts)
}

func TestObserveQueueDepth(t *testing.T) {
	pool, st := newTestPool(t, &fakeHost{}, &fakeLLM{response: "{}"})
	ctx := context.Background()

	require.NoError(t, st.EnqueueReviewJob(ctx, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	}))
	require.NoError(t, st.EnqueueReviewJob(ctx, &types.ReviewJob{
		ID: "j2", Host: "github", Repo: "acme/api", Number: 8, HeadSHA: "sha2",
	}))

	pool.observeQueueDepth(ctx)
	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.QueueDepthGauge))

	job, err := st.ClaimNextReviewJob(ctx, "w1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, st.CompleteReviewJob(ctx, job.ID))

	pool.observeQueueDepth(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.QueueDepthGauge))
}

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Second, retryBackoff(0))
	assert.Equal(t, time.Second, retryBackoff(1))
	assert.Equal(t, 2*time.Second, retryBackoff(2))
	assert.Equal(t, 4*time.Second, retryBackoff(3))
	assert.Equal(t, time.Minute, retryBackoff(10))
}

func TestProcessJobRetryBudgetExhausted(t *testing.T) {
	host := &fakeHost{listErr: fmt.Errorf("connection reset")}
	pool, st := newTestPool(t, host, &fakeLLM{response: "{}"})
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	})
	job.Attempts = maxJobAttempts
	pool.ProcessJob(ctx, "test-worker", job)

	// Budget spent: terminal failed record, job consumed.
	_, err := st.ClaimNextReviewJob(ctx, "w2", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessJobSkipsWhenChangeLocked(t *testing.T) {
	host := &fakeHost{}
	pool, st := newTestPool(t, host, &fakeLLM{response: "{}"})
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	})

	// Another worker holds the change lock.
	locked, err := st.AcquireReviewLock(ctx, job.ChangeKey(), "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, locked)

	pool.ProcessJob(ctx, "test-worker", job)

	// Job was released, not consumed, and nothing was posted.
	reclaimed, err := st.ClaimNextReviewJob(ctx, "w2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "j1", reclaimed.ID)
	assert.Empty(t, host.comments)
}

func TestPoolRunDrainsQueueAndStopsCleanly(t *testing.T) {
	// The store's connection pool outlives the test body; only worker
	// goroutines are checked.
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))

	host := &fakeHost{
		files:    []codehost.ChangedFile{{Path: "a.go", Status: "modified", Additions: 5}},
		contents: map[string]string{"a.go": "package a"},
	}
	brain := &fakeLLM{response: `{"overall_score": 75, "summary": "fine"}`}
	pool, st := newTestPool(t, host, brain)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, st.EnqueueReviewJob(ctx, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	}))

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := st.ClaimNextReviewJob(context.Background(), "drain-check", time.Hour)
		return errors.Is(err, store.ErrNotFound)
	}, 5*time.Second, 10*time.Millisecond, "queue should drain")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after cancellation")
	}
}

func TestRenderTemplate(t *testing.T) {
	tmpl := &types.PromptTemplate{
		Template:  "Review {{title}} in {{language}} ({{framework}})",
		Variables: map[string]string{"language": "unknown", "framework": "none", "title": ""},
	}

	out := renderTemplate(tmpl, map[string]string{"title": "Add auth", "language": "go"})
	assert.Equal(t, "Review Add auth in go (none)", out)
}

func TestUpdateTemplateCountersAfterUse(t *testing.T) {
	host := &fakeHost{
		files:    []codehost.ChangedFile{{Path: "a.go", Status: "modified", Additions: 5}},
		contents: map[string]string{"a.go": "package a"},
	}
	brain := &fakeLLM{response: `{"overall_score": 60, "summary": "meh"}`}
	pool, st := newTestPool(t, host, brain)
	ctx := context.Background()

	job := enqueueAndClaim(t, st, &types.ReviewJob{
		ID: "j1", Host: "github", Repo: "acme/api", Number: 7, HeadSHA: "sha1",
	})
	pool.ProcessJob(ctx, "test-worker", job)

	tmpl, err := st.GetTemplateByCategory(ctx, "code_review")
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.UsageCount)
	assert.Equal(t, 1.0, tmpl.SuccessRate)
}
