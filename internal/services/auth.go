package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource provides the bearer token used to authenticate against the assistant backend. Issuing
// tokens is outside this module: a source only hands out whatever token is currently available.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same configured token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("token is empty")
	}
	return string(s), nil
}

// FileToken is a TokenSource that reads the token from a file on every call, so an external login
// tool can rotate it without restarting the client.
type FileToken struct {
	Path string
}

// Token implements TokenSource.
func (f FileToken) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	return token, nil
}

// Identity is what the client knows about the authenticated promotor, decoded from the token claims.
type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

// Auth is the authentication context of a gateway. It is created once at start-up, invalidated when
// the backend rejects a request as unauthorized, and lazily recreated from its TokenSource before the
// next request. Claims are decoded without verifying the signature: verification is the backend's job,
// the client only reads the identity and the expiry.
type Auth struct {
	source TokenSource
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	token    string
	identity Identity
	valid    bool
}

// NewAuth creates an Auth and loads its first token from source.
func NewAuth(ctx context.Context, source TokenSource, logger *slog.Logger) (*Auth, error) {
	a := &Auth{
		source: source,
		logger: logger.With(slog.String("module", "auth")),
		now:    time.Now,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Token returns the current bearer token, reloading it from the source when the context was
// invalidated or the token has expired.
func (a *Auth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	expired := !a.identity.ExpiresAt.IsZero() && !a.now().Before(a.identity.ExpiresAt)
	if !a.valid || expired {
		if err := a.reload(ctx); err != nil {
			return "", err
		}
	}
	return a.token, nil
}

// Identity returns the identity decoded from the current token.
func (a *Auth) Identity() Identity {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.identity
}

// Invalidate drops the current token. The next call to Token recreates it from the source.
func (a *Auth) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.valid {
		a.logger.Warn("Authentication invalidated", slog.String("userID", a.identity.UserID))
	}
	a.valid = false
	a.token = ""
	a.identity = Identity{}
}

// reload must be called with a.mu held.
func (a *Auth) reload(ctx context.Context) error {
	token, err := a.source.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	a.token = token
	a.identity = identityFromToken(token)
	a.valid = true

	a.logger.Debug("Authentication loaded",
		slog.String("userID", a.identity.UserID),
		slog.Time("expiresAt", a.identity.ExpiresAt))
	return nil
}

// identityFromToken reads the identity claims of a JWT. Opaque tokens yield an empty Identity.
func identityFromToken(token string) Identity {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Identity{}
	}

	var id Identity
	if sub, err := claims.GetSubject(); err == nil {
		id.UserID = sub
	}
	if name, ok := claims["name"].(string); ok {
		id.Name = name
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id
}
