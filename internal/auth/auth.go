// Package auth identifies portal users from signed session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles a portal user can hold.
const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
)

// SessionCookie is the cookie checked when no Authorization header is sent.
const SessionCookie = "session"

var (
	// ErrSecretRequired is returned when signing or verifying without a secret.
	ErrSecretRequired = errors.New("auth: signing secret is required")
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidRole is returned when a token names an unknown role.
	ErrInvalidRole = errors.New("auth: invalid role")
)

// User is an authenticated portal user.
type User struct {
	ID    string
	Email string
	Role  string
}

type claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleEngineer
}

// Issue signs an HS256 token for u that expires after ttl.
func Issue(secret []byte, u User, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretRequired
	}
	if !validRole(u.Role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(secret)
}

// Parse verifies raw and returns the user it names.
func Parse(secret []byte, raw string) (User, error) {
	if len(secret) == 0 {
		return User{}, ErrSecretRequired
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if c.Subject == "" {
		return User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if !validRole(c.Role) {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}

	return User{ID: c.Subject, Email: c.Email, Role: c.Role}, nil
}

type ctxKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// tokenFrom extracts the bearer token or session cookie from r.
func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware attaches the authenticated user to the request context.
// Requests without a valid token pass through anonymously; handlers decide
// how to report that.
func Middleware(secret []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFrom(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}

			u, err := Parse(secret, raw)
			if err != nil {
				logger.Warn("rejected session token",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
		})
	}
}

// ContextLookup finds the current user in the request context.
type ContextLookup struct{}

// CurrentUser returns the user placed in ctx by Middleware.
func (ContextLookup) CurrentUser(ctx context.Context) (User, bool) {
	return UserFromContext(ctx)
}

// StaticLookup always returns the same user. The CLI uses it to run the
// pipeline outside an HTTP request.
type StaticLookup struct {
	User User
}

// CurrentUser implements the lookup.
func (s StaticLookup) CurrentUser(context.Context) (User, bool) {
	return s.User, s.User.ID != ""
}
