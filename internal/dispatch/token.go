package dispatch

import (
	"context"
	"sync"
	"time"
)

// TokenFetcher obtains a fresh access token and its lifetime.
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one gateway access token. It is refreshed on demand when
// missing, expired (minus margin) or invalidated after an auth rejection.
type TokenCache struct {
	fetch  TokenFetcher
	margin time.Duration
	now    func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewTokenCache(fetch TokenFetcher, margin time.Duration) *TokenCache {
	if margin < 0 {
		margin = 0
	}
	return &TokenCache{fetch: fetch, margin: margin, now: time.Now}
}

// Get returns a cached token or fetches a new one.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt) {
		return c.token, nil
	}
	tok, ttl, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.expiresAt = c.now().Add(ttl - c.margin)
	return tok, nil
}

// Invalidate drops the cached token so the next Get refreshes.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
