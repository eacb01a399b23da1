// Package identity resolves bearer tokens to user sessions.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoSession means the caller has no valid session.
	ErrNoSession = errors.New("no active session")

	// ErrUnavailable means the session backend could not be reached.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Session is an authenticated user session.
type Session struct {
	Token     string    `json:"-"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the session is usable at now.
func (s Session) Active(now time.Time) bool {
	if s.UserID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Provider is the identity and session collaborator.
type Provider interface {
	Authenticate(ctx context.Context, token string) (Session, error)
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
