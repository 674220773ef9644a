package reqflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenState is the lifecycle position of a Token at some instant.
type TokenState int

const (
	// TokenInvalid means the token is expired or revoked and must not be
	// used.
	TokenInvalid TokenState = iota

	// TokenExpiring means the token is inside the safety margin: still
	// usable, but a proactive refresh should start.
	TokenExpiring

	// TokenValid means the token is usable without action.
	TokenValid
)

// Token is a credential with an expiry instant and an optional refresh
// credential. The core treats Value as opaque bytes for the transport's
// Authorization header.
type Token struct {
	Value             string
	ExpiresAt         time.Time
	RefreshCredential string
}

// StateAt classifies the token at the given instant with the given safety
// margin.
func (t Token) StateAt(now time.Time, margin time.Duration) TokenState {
	if t.Value == "" || !now.Before(t.ExpiresAt) {
		return TokenInvalid
	}
	if !now.Before(t.ExpiresAt.Add(-margin)) {
		return TokenExpiring
	}
	return TokenValid
}

// Session owns the credential's lifetime: it supplies the initial Token and
// performs the actual refresh exchange. reqflow never retries a failed
// refresh on its own; re-authentication is the session owner's call.
type Session interface {
	Refresh(ctx context.Context, refreshCredential string) (Token, error)
}

// TokenCoordinator keeps exactly one Token live and coordinates its
// renewal. Concurrent acquirers that observe an invalid token all join one
// single-flight refresh instead of issuing redundant Session calls; an
// expiring token triggers a non-blocking background refresh. Safe for
// concurrent use.
type TokenCoordinator struct {
	session        Session
	margin         time.Duration
	refreshTimeout time.Duration
	logger         Logger
	metrics        *MetricsCollector
	now            func() time.Time

	mu      sync.Mutex
	current Token
	revoked bool

	group singleflight.Group
}

// TokenCoordinatorOption configures a TokenCoordinator.
type TokenCoordinatorOption func(*TokenCoordinator)

// WithTokenSafetyMargin sets how long before expiry a token counts as
// expiring; default 30s.
func WithTokenSafetyMargin(d time.Duration) TokenCoordinatorOption {
	return func(tc *TokenCoordinator) {
		tc.margin = d
	}
}

// WithTokenRefreshTimeout bounds a single Session.Refresh call; default 30s.
func WithTokenRefreshTimeout(d time.Duration) TokenCoordinatorOption {
	return func(tc *TokenCoordinator) {
		tc.refreshTimeout = d
	}
}

// WithTokenLogger sets the coordinator's logger.
func WithTokenLogger(logger Logger) TokenCoordinatorOption {
	return func(tc *TokenCoordinator) {
		tc.logger = logger
	}
}

// WithTokenMetrics sets the coordinator's metrics collector.
func WithTokenMetrics(mc *MetricsCollector) TokenCoordinatorOption {
	return func(tc *TokenCoordinator) {
		tc.metrics = mc
	}
}

// NewTokenCoordinator creates a coordinator seeded with the session's
// initial token.
func NewTokenCoordinator(session Session, initial Token, opts ...TokenCoordinatorOption) *TokenCoordinator {
	tc := &TokenCoordinator{
		session:        session,
		margin:         30 * time.Second,
		refreshTimeout: 30 * time.Second,
		now:            time.Now,
		current:        initial,
	}
	for _, opt := range opts {
		opt(tc)
	}
	return tc
}

// Current returns the live token without triggering any refresh.
func (tc *TokenCoordinator) Current() Token {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.current
}

// Acquire returns a token usable for one attempt. A valid token returns
// immediately; an expiring one returns immediately while a background
// refresh starts; an invalid one blocks the caller on the shared refresh.
func (tc *TokenCoordinator) Acquire(ctx context.Context) (Token, error) {
	tc.mu.Lock()
	tok := tc.current
	state := tok.StateAt(tc.now(), tc.margin)
	if tc.revoked {
		state = TokenInvalid
	}
	tc.mu.Unlock()

	switch state {
	case TokenValid:
		return tok, nil
	case TokenExpiring:
		go func() {
			_, _, _ = tc.group.Do("refresh", tc.refresh)
		}()
		return tok, nil
	default:
		ch := tc.group.DoChan("refresh", tc.refresh)
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
}

// Invalidate marks tok revoked if it is still the live token. It reports
// whether the transition happened: concurrent invalidations of the same
// stale token collapse into one, so one rejected attempt yields one refresh.
func (tc *TokenCoordinator) Invalidate(tok Token) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.revoked || tok.Value != tc.current.Value {
		return false
	}
	tc.revoked = true
	if tc.metrics != nil {
		tc.metrics.RecordTokenInvalidation()
	}
	if tc.logger != nil {
		tc.logger.Warn("token invalidated", "expiresAt", tc.current.ExpiresAt)
	}
	return true
}

// refresh performs one Session refresh; all concurrent acquirers share its
// outcome through the singleflight group. It runs on a background context
// so one caller's cancellation cannot abort a refresh others are waiting on.
func (tc *TokenCoordinator) refresh() (interface{}, error) {
	tc.mu.Lock()
	cred := tc.current.RefreshCredential
	tc.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), tc.refreshTimeout)
	defer cancel()

	tok, err := tc.session.Refresh(ctx, cred)
	if err != nil {
		if tc.metrics != nil {
			tc.metrics.RecordTokenRefresh("failure")
		}
		if tc.logger != nil {
			tc.logger.Error("token refresh failed", "error", err.Error())
		}
		return nil, &RequestError{
			Type:      ClassAuthenticationFailed,
			Message:   "token refresh failed",
			Cause:     err,
			Timestamp: tc.now(),
		}
	}

	tc.mu.Lock()
	tc.current = tok
	tc.revoked = false
	tc.mu.Unlock()

	if tc.metrics != nil {
		tc.metrics.RecordTokenRefresh("success")
	}
	if tc.logger != nil {
		tc.logger.Info("token refreshed", "expiresAt", tok.ExpiresAt)
	}
	return tok, nil
}
