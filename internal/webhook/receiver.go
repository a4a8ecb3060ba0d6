// Package webhook validates signed code-host webhooks, normalizes them to
// CodeChangeEvents, and enqueues review jobs. Handlers return before any
// review work happens; workers pick jobs up from the durable queue.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/48Nauts-Operator/lineary/internal/config"
	"github.com/48Nauts-Operator/lineary/internal/metrics"
	"github.com/48Nauts-Operator/lineary/internal/store"
	"github.com/48Nauts-Operator/lineary/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxPayloadSize caps webhook bodies.
const maxPayloadSize = 5 << 20 // 5 MB

var (
	// ErrBadSignature is returned when the HMAC check fails.
	ErrBadSignature = errors.New("webhook signature mismatch")

	// ErrMissingHeader is returned when event-type or signature headers
	// are absent.
	ErrMissingHeader = errors.New("missing webhook header")

	// ErrUnknownHost is returned for hosts with no configured secret.
	ErrUnknownHost = errors.New("unknown webhook host")

	// ErrInvalidPayload is returned for signed deliveries whose body
	// cannot be parsed or lacks required fields.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// CodeChangeEvent is the normalized form of a change-affecting webhook.
type CodeChangeEvent struct {
	Host           string
	Repo           string
	Number         int
	HeadSHA        string
	Title          string
	Body           string
	InstallationID int64
	Modifier       string
}

// Receiver validates and ingests webhooks for all configured hosts.
type Receiver struct {
	store   *store.Store
	cfg     config.CodeHostConfig
	window  time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewReceiver builds a receiver. dedupWindow is the suppression window for
// repeated deliveries of the same change head.
func NewReceiver(st *store.Store, cfg config.CodeHostConfig, dedupWindow time.Duration, log *zap.Logger, m *metrics.Metrics) *Receiver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Receiver{store: st, cfg: cfg, window: dedupWindow, log: log, metrics: m}
}

// Result reports what ingestion did with a delivery.
type Result struct {
	Action string `json:"action"` // enqueued, suppressed, ignored
	JobID  string `json:"job_id,omitempty"`
}

// Ingest validates one delivery and enqueues a review job when warranted.
// eventType and signature come from the host's headers; body is the raw
// payload the signature was computed over.
func (r *Receiver) Ingest(req *http.Request, host string) (*Result, error) {
	eventType := req.Header.Get("X-GitHub-Event")
	if eventType == "" {
		eventType = req.Header.Get("X-Event-Type")
	}
	signature := req.Header.Get("X-Hub-Signature-256")
	if eventType == "" || signature == "" {
		return nil, ErrMissingHeader
	}

	hostCfg, ok := r.cfg.Hosts[host]
	if !ok || hostCfg.WebhookSecret == "" {
		return nil, ErrUnknownHost
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if err := VerifySignature(hostCfg.WebhookSecret, body, signature); err != nil {
		r.count(host, "rejected")
		return nil, err
	}

	event, ok, err := r.normalize(host, eventType, body)
	if err != nil {
		return nil, err
	}
	if !ok {
		r.count(host, "ignored")
		return &Result{Action: "ignored"}, nil
	}

	// Dedup: identical change head enqueued within the window is dropped.
	exists, err := r.store.RecentJobExists(req.Context(), event.Host, event.Repo, event.Number, event.HeadSHA, r.window)
	if err != nil {
		return nil, fmt.Errorf("failed to check dedup window: %w", err)
	}
	if exists {
		r.count(host, "suppressed")
		r.log.Info("duplicate delivery suppressed",
			zap.String("repo", event.Repo), zap.Int("change", event.Number))
		return &Result{Action: "suppressed"}, nil
	}

	job := &types.ReviewJob{
		ID:             uuid.NewString(),
		Host:           event.Host,
		Repo:           event.Repo,
		Number:         event.Number,
		HeadSHA:        event.HeadSHA,
		Title:          event.Title,
		Body:           event.Body,
		InstallationID: event.InstallationID,
		Modifier:       event.Modifier,
	}
	if err := r.store.EnqueueReviewJob(req.Context(), job); err != nil {
		return nil, fmt.Errorf("failed to enqueue review: %w", err)
	}

	r.count(host, "enqueued")
	return &Result{Action: "enqueued", JobID: job.ID}, nil
}

func (r *Receiver) count(host, result string) {
	if r.metrics != nil {
		r.metrics.WebhookEvents.WithLabelValues(host, result).Inc()
	}
}

// normalize extracts a CodeChangeEvent from the raw payload. The second
// return is false for event types the pipeline ignores.
func (r *Receiver) normalize(host, eventType string, body []byte) (*CodeChangeEvent, bool, error) {
	switch eventType {
	case "pull_request":
		return r.normalizePullRequest(host, body)
	case "issue_comment":
		return r.normalizeComment(host, body)
	default:
		return nil, false, nil
	}
}

type prPayload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (r *Receiver) normalizePullRequest(host string, body []byte) (*CodeChangeEvent, bool, error) {
	var p prPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false, fmt.Errorf("%w: malformed pull_request body: %v", ErrInvalidPayload, err)
	}

	switch p.Action {
	case "opened", "synchronize", "reopened":
	default:
		return nil, false, nil
	}

	if p.Repository.FullName == "" || p.PullRequest.Number == 0 || p.PullRequest.Head.SHA == "" {
		return nil, false, fmt.Errorf("%w: pull_request missing required fields", ErrInvalidPayload)
	}

	return &CodeChangeEvent{
		Host:           host,
		Repo:           p.Repository.FullName,
		Number:         p.PullRequest.Number,
		HeadSHA:        p.PullRequest.Head.SHA,
		Title:          p.PullRequest.Title,
		Body:           p.PullRequest.Body,
		InstallationID: p.Installation.ID,
	}, true, nil
}

type commentPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number      int `json:"number"`
		PullRequest *struct {
			URL string `json:"url"`
		} `json:"pull_request"`
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

func (r *Receiver) normalizeComment(host string, body []byte) (*CodeChangeEvent, bool, error) {
	var p commentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false, fmt.Errorf("%w: malformed issue_comment body: %v", ErrInvalidPayload, err)
	}

	if p.Action != "created" || p.Issue.PullRequest == nil {
		return nil, false, nil
	}

	modifier, mentioned := parseMention(p.Comment.Body, r.cfg.Mention)
	if !mentioned {
		return nil, false, nil
	}

	return &CodeChangeEvent{
		Host:           host,
		Repo:           p.Repository.FullName,
		Number:         p.Issue.Number,
		HeadSHA:        "HEAD", // resolved by the worker at fetch time
		Title:          p.Issue.Title,
		Body:           p.Issue.Body,
		InstallationID: p.Installation.ID,
		Modifier:       modifier,
	}, true, nil
}

// parseMention finds the reviewer mention in a comment and returns its
// modifier: "security", "performance", "explain", or "" for a default
// review.
func parseMention(comment, mention string) (string, bool) {
	idx := strings.Index(strings.ToLower(comment), strings.ToLower(mention))
	if idx < 0 {
		return "", false
	}

	rest := strings.Fields(comment[idx+len(mention):])
	if len(rest) > 0 {
		switch strings.ToLower(strings.Trim(rest[0], ".,!:")) {
		case "security":
			return "security", true
		case "performance":
			return "performance", true
		case "explain":
			return "explain", true
		}
	}
	return "", true
}
