package codehost

import (
	"context"
	"sync"
	"time"
)

// TokenRefreshBuffer is how long before expiry a cached installation token
// is considered stale. Installation tokens live one hour.
const TokenRefreshBuffer = 5 * time.Minute

// tokenMinter exchanges an app JWT for an installation token. Implemented
// by the GitHub client; substituted in tests.
type tokenMinter interface {
	mintInstallationToken(ctx context.Context, installationID int64) (string, time.Time, error)
}

// tokenCache caches installation tokens per installation id, refreshing
// them before expiry. Safe for concurrent use by review workers.
type tokenCache struct {
	mu     sync.Mutex
	minter tokenMinter
	tokens map[int64]cachedToken

	// nowFunc allows time to be mocked in tests.
	nowFunc func() time.Time
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func newTokenCache(minter tokenMinter) *tokenCache {
	return &tokenCache{
		minter:  minter,
		tokens:  make(map[int64]cachedToken),
		nowFunc: time.Now,
	}
}

// get returns a valid token for the installation, minting a fresh one when
// the cached token is absent or inside the refresh buffer.
func (c *tokenCache) get(ctx context.Context, installationID int64) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.tokens[installationID]; ok {
		if c.nowFunc().Before(cached.expiresAt.Add(-TokenRefreshBuffer)) {
			return cached.token, cached.expiresAt, nil
		}
	}

	token, expiresAt, err := c.minter.mintInstallationToken(ctx, installationID)
	if err != nil {
		return "", time.Time{}, err
	}
	c.tokens[installationID] = cachedToken{token: token, expiresAt: expiresAt}
	return token, expiresAt, nil
}
