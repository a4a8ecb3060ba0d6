// Package codehost implements the code-host collaborator interface: app
// token minting, changed-file listing, content fetch, and comment posting.
// The GitHub implementation speaks the REST v3 API; other hosts implement
// the same Client interface.
package codehost

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks failures that must not be retried: authorization
// denied, change not found.
var ErrPermanent = errors.New("permanent code-host failure")

// ChangedFile describes one file touched by a change.
type ChangedFile struct {
	Path      string
	Status    string // added, modified, removed, renamed
	Additions int
	Deletions int
}

// ReviewComment is a per-line comment attached to a posted review.
type ReviewComment struct {
	Path string
	Line int
	Body string
}

// Change is the host's view of a pull request or merge request.
type Change struct {
	Number  int
	Title   string
	Body    string
	HeadSHA string
}

// Client is the operation surface the core consumes. All calls are
// idempotently retryable except PostComment, which callers de-duplicate
// by content hash before invoking.
type Client interface {
	// InstallationToken mints an installation-scoped access token.
	InstallationToken(ctx context.Context, installationID int64) (token string, expiresAt time.Time, err error)

	// ForInstallation returns a client whose calls authorize against the
	// given installation. Token caches are shared with the receiver.
	ForInstallation(installationID int64) Client

	// GetChange fetches the current state of a change, including its
	// head commit.
	GetChange(ctx context.Context, repo string, number int) (*Change, error)

	// ListChangedFiles lists the files touched by a change number.
	ListChangedFiles(ctx context.Context, repo string, number int) ([]ChangedFile, error)

	// FileContent fetches a file's content at a ref.
	FileContent(ctx context.Context, repo, path, ref string) (string, error)

	// PostComment posts a plain comment on a change.
	PostComment(ctx context.Context, repo string, number int, body string) error

	// PostReview posts a review with optional per-line comments.
	PostReview(ctx context.Context, repo string, number int, body string, comments []ReviewComment) error
}
