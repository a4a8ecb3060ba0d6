package codehost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// GitHubClient implements Client against the GitHub REST v3 API using
// GitHub App authentication.
type GitHubClient struct {
	baseURL    string
	jwtGen     *JWTGenerator
	httpClient *http.Client
	tokens     *tokenCache
	log        *zap.Logger

	// installationID used to authenticate repo-scoped calls.
	installationID int64
}

// GitHubOption configures a GitHubClient.
type GitHubOption func(*GitHubClient)

// WithGitHubHTTPClient sets a custom HTTP client.
func WithGitHubHTTPClient(c *http.Client) GitHubOption {
	return func(g *GitHubClient) { g.httpClient = c }
}

// WithGitHubBaseURL overrides the API base URL (for GHE or tests).
func WithGitHubBaseURL(u string) GitHubOption {
	return func(g *GitHubClient) { g.baseURL = u }
}

// NewGitHubClient creates a GitHub App client. requestTimeout bounds each
// API call; 10 seconds is the configured default.
func NewGitHubClient(appID string, privateKeyPEM []byte, installationID int64, requestTimeout time.Duration, log *zap.Logger, opts ...GitHubOption) (*GitHubClient, error) {
	if log == nil {
		log = zap.NewNop()
	}

	jwtGen, err := NewJWTGenerator(appID, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT generator: %w", err)
	}

	g := &GitHubClient{
		baseURL:        "https://api.github.com",
		jwtGen:         jwtGen,
		httpClient:     &http.Client{Timeout: requestTimeout},
		log:            log,
		installationID: installationID,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.tokens = newTokenCache(g)
	return g, nil
}

// InstallationToken returns a valid installation token, cached until near
// expiry.
func (g *GitHubClient) InstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	return g.tokens.get(ctx, installationID)
}

// ForInstallation returns a client scoped to the given installation. The
// copy shares the token cache and transport, so per-installation tokens
// stay cached across calls.
func (g *GitHubClient) ForInstallation(installationID int64) Client {
	scoped := *g
	scoped.installationID = installationID
	return &scoped
}

// mintInstallationToken exchanges an app JWT for an installation token.
func (g *GitHubClient) mintInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error) {
	appJWT, err := g.jwtGen.GenerateToken()
	if err != nil {
		return "", time.Time{}, err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", g.baseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to exchange token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", time.Time{}, hostStatusError(resp.StatusCode, "token exchange")
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	return payload.Token, payload.ExpiresAt, nil
}

// GetChange fetches a pull request, including its current head commit.
func (g *GitHubClient) GetChange(ctx context.Context, repo string, number int) (*Change, error) {
	var payload struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		Head   struct {
			SHA string `json:"sha"`
		} `json:"head"`
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d", repo, number)
	if err := g.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}

	return &Change{
		Number:  payload.Number,
		Title:   payload.Title,
		Body:    payload.Body,
		HeadSHA: payload.Head.SHA,
	}, nil
}

// ListChangedFiles lists the files touched by a pull request.
func (g *GitHubClient) ListChangedFiles(ctx context.Context, repo string, number int) ([]ChangedFile, error) {
	var payload []struct {
		Filename  string `json:"filename"`
		Status    string `json:"status"`
		Additions int    `json:"additions"`
		Deletions int    `json:"deletions"`
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", repo, number)
	if err := g.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}

	files := make([]ChangedFile, 0, len(payload))
	for _, f := range payload {
		files = append(files, ChangedFile{
			Path:      f.Filename,
			Status:    f.Status,
			Additions: f.Additions,
			Deletions: f.Deletions,
		})
	}
	return files, nil
}

// FileContent fetches a file's content at a ref.
func (g *GitHubClient) FileContent(ctx context.Context, repo, path, ref string) (string, error) {
	var payload struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	apiPath := fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, path, ref)
	if err := g.getJSON(ctx, apiPath, &payload); err != nil {
		return "", err
	}

	if payload.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return string(decoded), nil
	}
	return payload.Content, nil
}

// PostComment posts an issue comment on a pull request. Callers de-duplicate
// by content hash; this method posts unconditionally.
func (g *GitHubClient) PostComment(ctx context.Context, repo string, number int, body string) error {
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)
	return g.postJSON(ctx, path, map[string]string{"body": body})
}

// PostReview posts a pull request review with optional per-line comments.
func (g *GitHubClient) PostReview(ctx context.Context, repo string, number int, body string, comments []ReviewComment) error {
	payload := map[string]any{
		"body":  body,
		"event": "COMMENT",
	}
	if len(comments) > 0 {
		lines := make([]map[string]any, 0, len(comments))
		for _, c := range comments {
			lines = append(lines, map[string]any{
				"path": c.Path,
				"line": c.Line,
				"body": c.Body,
			})
		}
		payload["comments"] = lines
	}
	path := fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, number)
	return g.postJSON(ctx, path, payload)
}

func (g *GitHubClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return err
	}
	if err := g.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("code-host request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hostStatusError(resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (g *GitHubClient) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := g.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("code-host request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return hostStatusError(resp.StatusCode, path)
	}
	return nil
}

func (g *GitHubClient) authorize(ctx context.Context, req *http.Request) error {
	token, _, err := g.tokens.get(ctx, g.installationID)
	if err != nil {
		return fmt.Errorf("failed to obtain installation token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	return nil
}

// hostStatusError maps HTTP statuses to transient or permanent failures.
func hostStatusError(code int, what string) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound {
		return fmt.Errorf("%s returned %d: %w", what, code, ErrPermanent)
	}
	return fmt.Errorf("%s returned %d", what, code)
}
