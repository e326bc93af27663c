// Package jwtbackend is the "jwt" authentication backend. It verifies bearer
// tokens against the key file named by the request's effective configuration.
package jwtbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/credential"
	"github.com/ggoodman/authn-jwt/internal/jwtauth"
	"github.com/ggoodman/authn-jwt/internal/keyload"
	"github.com/ggoodman/authn-jwt/internal/metrics"
	"github.com/ggoodman/authn-jwt/scope"
	"github.com/ggoodman/authn-jwt/storage"
)

// Name is the registry name of the backend.
const Name = "jwt"

// KeySource loads key material by path. *keyload.Loader satisfies it.
type KeySource interface {
	Load(ctx context.Context, path string) (keyload.Material, error)
}

// Backend verifies bearer tokens. It is safe for concurrent use.
type Backend struct {
	resolver scope.Resolver
	keys     KeySource
	verifier jwtauth.Verifier
	revoked  storage.Storage
	metrics  *metrics.Metrics
	log      *slog.Logger
}

var _ auth.BearerVerifier = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithKeySource replaces the default uncached loader.
func WithKeySource(ks KeySource) Option {
	return func(b *Backend) { b.keys = ks }
}

// WithVerifier replaces the default jwtauth.KeyVerifier.
func WithVerifier(v jwtauth.Verifier) Option {
	return func(b *Backend) { b.verifier = v }
}

// WithRevocationStore rejects tokens whose jti is denylisted in s.
func WithRevocationStore(s storage.Storage) Option {
	return func(b *Backend) { b.revoked = s }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Backend) { b.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// New builds the backend. The resolver is consulted only when the request
// context carries no resolved configuration.
func New(resolver scope.Resolver, opts ...Option) *Backend {
	b := &Backend{
		resolver: resolver,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.keys == nil {
		b.keys = keyload.NewLoader(keyload.WithLogger(b.log))
	}
	if b.verifier == nil {
		b.verifier = jwtauth.NewKeyVerifier()
	}
	return b
}

// VerifyBearer checks tok under the effective configuration for r. Key
// failures are configuration errors; token failures are rejections.
func (b *Backend) VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) auth.Outcome {
	eff, ok := scope.EffectiveFromContext(ctx)
	if !ok {
		if b.resolver == nil {
			return auth.Misconfigured("jwt backend has no configuration")
		}
		eff = b.resolver.Resolve(r)
	}

	key := keyload.None()
	if eff.KeyFile != "" {
		m, err := b.keys.Load(ctx, eff.KeyFile)
		if err != nil {
			b.log.ErrorContext(ctx, "jwt.key.fail", slog.String("path", eff.KeyFile), slog.String("err", err.Error()))
			return auth.Misconfigured(err.Error())
		}
		key = m
	}

	if eff.DebugLogToken {
		b.log.InfoContext(ctx, "jwt.token", slog.String("token", tok.String()))
	}

	ui, err := b.verifier.Verify(ctx, tok.String(), key, PolicyFor(eff))
	if err != nil {
		if errors.Is(err, jwtauth.ErrInvalidKey) {
			b.log.ErrorContext(ctx, "jwt.key.invalid", slog.String("path", eff.KeyFile), slog.String("err", err.Error()))
			return auth.Misconfigured(err.Error())
		}
		b.log.InfoContext(ctx, "jwt.verify.fail", slog.String("err", err.Error()))
		return auth.Rejected(err.Error())
	}

	if b.revoked != nil {
		jti, err := tokenID(ui)
		if err != nil {
			b.log.InfoContext(ctx, "jwt.verify.fail", slog.String("err", err.Error()))
			return auth.Rejected(err.Error())
		}
		revoked, err := storage.IsRevoked(ctx, b.revoked, jti)
		if err != nil {
			b.log.ErrorContext(ctx, "jwt.revocation.fail", slog.String("err", err.Error()))
			return auth.Misconfigured(fmt.Sprintf("revocation lookup: %v", err))
		}
		if revoked {
			b.metrics.ObserveRevoked()
			b.log.InfoContext(ctx, "jwt.verify.revoked", slog.String("jti", jti), slog.String("sub", ui.UserID()))
			return auth.Rejected("token revoked")
		}
	}

	return auth.Accepted(ui)
}

// tokenID returns the jti claim, or "" when the token has none. A jti that is
// not a string cannot be matched against the denylist and is an error.
func tokenID(ui jwtauth.UserInfo) (string, error) {
	var c struct {
		ID any `json:"jti"`
	}
	if err := ui.Claims(&c); err != nil {
		return "", fmt.Errorf("decode claims: %w", err)
	}
	switch id := c.ID.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	default:
		return "", fmt.Errorf("jti claim is a %T, want a string", id)
	}
}

// PolicyFor maps effective configuration to verifier policy.
func PolicyFor(eff scope.Effective) jwtauth.Policy {
	return jwtauth.Policy{
		Algorithms:    eff.Algorithms,
		Issuer:        eff.Issuer,
		Audiences:     eff.Audiences,
		RequireExp:    eff.RequireExp,
		Leeway:        eff.Leeway,
		AllowUnsigned: eff.AllowUnsigned,
	}
}
