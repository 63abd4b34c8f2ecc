package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"land-collector/metrics"
	"land-collector/utils"
)

// Token is a bearer token and its lifetime. A zero ExpiresAt never expires.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (t Token) validAt(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || now.Add(margin).Before(t.ExpiresAt)
}

// TokenSource issues a new token from the external service.
type TokenSource interface {
	Fetch(ctx context.Context) (Token, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (Token, error)

func (f TokenSourceFunc) Fetch(ctx context.Context) (Token, error) { return f(ctx) }

// StaticTokenSource always returns the same pre-issued token.
type StaticTokenSource struct {
	Value string
}

func (s StaticTokenSource) Fetch(context.Context) (Token, error) {
	if s.Value == "" {
		return Token{}, errors.New("static token is empty")
	}
	exp, _ := JWTExpiry(s.Value)
	return Token{Value: s.Value, ExpiresAt: exp}, nil
}

// TokenManager owns the single cached token. Concurrent refreshes collapse
// into one call to the source; a failed refresh leaves the cached token as is.
type TokenManager struct {
	source  TokenSource
	margin  time.Duration
	timeout time.Duration
	logger  *utils.Logger
	now     func() time.Time

	mu    sync.RWMutex
	state Token

	flight    singleflight.Group
	refreshes atomic.Int64
}

// NewTokenManager creates a manager that refreshes margin before expiry.
func NewTokenManager(source TokenSource, margin time.Duration, logger *utils.Logger) *TokenManager {
	return &TokenManager{
		source:  source,
		margin:  margin,
		timeout: 30 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
}

// GetValidToken returns the cached token, refreshing it first when it is
// missing or inside the safety margin.
func (m *TokenManager) GetValidToken(ctx context.Context) (Token, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}
	return m.refresh(ctx, "")
}

// InvalidateAndRefresh refreshes regardless of the cached expiry. The
// token cached at call time is never returned.
func (m *TokenManager) InvalidateAndRefresh(ctx context.Context) (Token, error) {
	return m.RefreshRejected(ctx, m.State().Value)
}

// RefreshRejected refreshes after the API rejected the given token. When
// another caller already rotated it, the current token is returned instead.
func (m *TokenManager) RefreshRejected(ctx context.Context, rejected string) (Token, error) {
	tok, err := m.refresh(ctx, rejected)
	if err == nil && tok.Value == rejected {
		// joined a flight that only re-read the cache
		return m.refresh(ctx, rejected)
	}
	return tok, err
}

// State returns a copy of the cached token.
func (m *TokenManager) State() Token {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Refreshes returns how many times the source was called.
func (m *TokenManager) Refreshes() int64 {
	return m.refreshes.Load()
}

func (m *TokenManager) cached() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.state.validAt(m.now(), m.margin)
}

// refresh fetches a new token unless the cache already holds a valid token
// different from stale.
func (m *TokenManager) refresh(ctx context.Context, stale string) (Token, error) {
	ch := m.flight.DoChan("token", func() (any, error) {
		if cur, ok := m.cached(); ok && cur.Value != stale {
			return cur, nil
		}
		return m.fetch(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

func (m *TokenManager) fetch(ctx context.Context) (Token, error) {
	// The refresh outlives any single caller; waiters can still give up.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	m.refreshes.Add(1)
	tok, err := m.source.Fetch(fetchCtx)
	if err == nil && tok.Value == "" {
		err = errors.New("token source returned an empty token")
	}
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		m.logger.Error("[token] Refresh failed, keeping previous token: %v", err)
		return Token{}, &AuthError{Op: "refresh", Err: err}
	}

	now := m.now()
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = now
	}
	if !tok.validAt(now, m.margin) {
		m.logger.Warn("[token] New token expires at %s, inside the %v safety margin",
			tok.ExpiresAt.Format(time.RFC3339), m.margin)
	}

	m.mu.Lock()
	m.state = tok
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.logger.Info("[token] Token refreshed, expires %s", expiryString(tok))
	return tok, nil
}

func expiryString(t Token) string {
	if t.ExpiresAt.IsZero() {
		return "never"
	}
	return t.ExpiresAt.Format(time.RFC3339)
}
