package reqflow

import (
	"context"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// HMACSession is a self-contained Session that mints and refreshes
// HMAC-signed JWTs. It is meant for development, tests and services that own
// their signing secret; production deployments usually implement Session
// against their identity provider instead.
type HMACSession struct {
	secret     []byte
	method     jwtlib.SigningMethod
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// HMACSessionOption configures an HMACSession.
type HMACSessionOption func(*HMACSession)

// WithSessionIssuer sets the iss claim.
func WithSessionIssuer(issuer string) HMACSessionOption {
	return func(s *HMACSession) {
		s.issuer = issuer
	}
}

// WithSessionTTLs sets access and refresh token lifetimes; defaults 15m/24h.
func WithSessionTTLs(access, refresh time.Duration) HMACSessionOption {
	return func(s *HMACSession) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// NewHMACSession creates a session signing with HS256. The secret must be at
// least 32 bytes.
func NewHMACSession(secret []byte, opts ...HMACSessionOption) (*HMACSession, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("reqflow: HMAC secret must be at least 32 bytes, got %d", len(secret))
	}
	s := &HMACSession{
		secret:     secret,
		method:     jwtlib.SigningMethodHS256,
		issuer:     "reqflow",
		accessTTL:  15 * time.Minute,
		refreshTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue mints the initial Token: an access JWT plus a refresh JWT as the
// refresh credential.
func (s *HMACSession) Issue(_ context.Context) (Token, error) {
	now := s.now()

	access, expiresAt, err := s.sign("access", now, s.accessTTL)
	if err != nil {
		return Token{}, err
	}
	refresh, _, err := s.sign("refresh", now, s.refreshTTL)
	if err != nil {
		return Token{}, err
	}

	return Token{Value: access, ExpiresAt: expiresAt, RefreshCredential: refresh}, nil
}

// Refresh implements Session: it verifies the refresh credential and mints a
// fresh access token carrying the same refresh credential.
func (s *HMACSession) Refresh(_ context.Context, refreshCredential string) (Token, error) {
	claims := &jwtlib.RegisteredClaims{}
	token, err := jwtlib.ParseWithClaims(refreshCredential, claims, func(t *jwtlib.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("reqflow: unexpected signing method %q", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("reqflow: refresh credential rejected: %w", err)
	}
	if !token.Valid || claims.Subject != "refresh" {
		return Token{}, fmt.Errorf("reqflow: refresh credential rejected: wrong subject")
	}

	access, expiresAt, err := s.sign("access", s.now(), s.accessTTL)
	if err != nil {
		return Token{}, err
	}
	return Token{Value: access, ExpiresAt: expiresAt, RefreshCredential: refreshCredential}, nil
}

func (s *HMACSession) sign(subject string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := jwtlib.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(expiresAt),
	}

	signed, err := jwtlib.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reqflow: failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}
