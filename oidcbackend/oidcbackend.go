// Package oidcbackend is the "oidc" authentication backend. It validates
// bearer tokens against an issuer's published, auto-refreshing JWKS instead
// of a local key file.
package oidcbackend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/credential"
	"github.com/ggoodman/authn-jwt/internal/jwtauth"
)

// Name is the registry name of the backend.
const Name = "oidc"

// Config selects the issuer and validation policy.
type Config struct {
	Issuer    string
	Audiences []string
	// JWKSURI skips discovery when set.
	JWKSURI        string
	RequiredScopes []string
	// ScopeModeAny accepts any one of RequiredScopes instead of all of them.
	ScopeModeAny bool
	Algorithms   []string
	Leeway       time.Duration
	// RequireAccessTokenType enforces the "at+jwt" typ header.
	RequireAccessTokenType bool
}

// Backend adapts an auth.Authenticator to the bearer capability.
type Backend struct {
	authn auth.Authenticator
	log   *slog.Logger
}

var _ auth.BearerVerifier = (*Backend)(nil)

type Option func(*Backend)

func WithLogger(log *slog.Logger) Option {
	return func(b *Backend) {
		if log != nil {
			b.log = log
		}
	}
}

// New builds the backend, running discovery (or fetching JWKSURI) before it
// returns.
func New(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	v, err := jwtauth.NewRemote(ctx, jwtauth.RemoteConfig{
		Issuer:                 cfg.Issuer,
		Audiences:              cfg.Audiences,
		JWKSURI:                cfg.JWKSURI,
		Algorithms:             cfg.Algorithms,
		Leeway:                 cfg.Leeway,
		RequiredScopes:         cfg.RequiredScopes,
		ScopeModeAny:           cfg.ScopeModeAny,
		RequireAccessTokenType: cfg.RequireAccessTokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("oidcbackend: %w", err)
	}
	return FromAuthenticator(adapter{v}, opts...), nil
}

// FromAuthenticator wraps an existing authenticator.
func FromAuthenticator(a auth.Authenticator, opts ...Option) *Backend {
	b := &Backend{authn: a, log: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// VerifyBearer maps every token failure, scope shortfalls included, to a
// rejection.
func (b *Backend) VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) auth.Outcome {
	ui, err := b.authn.CheckAuthentication(ctx, tok.String())
	if err != nil {
		if !errors.Is(err, jwtauth.ErrUnauthorized) && !errors.Is(err, jwtauth.ErrInsufficientScope) && !errors.Is(err, auth.ErrUnauthorized) {
			b.log.ErrorContext(ctx, "oidc.check.error", slog.String("err", err.Error()))
		} else {
			b.log.InfoContext(ctx, "oidc.check.fail", slog.String("err", err.Error()))
		}
		return auth.Rejected(err.Error())
	}
	return auth.Accepted(ui)
}

type adapter struct{ v *jwtauth.RemoteVerifier }

func (a adapter) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	ui, err := a.v.CheckAuthentication(ctx, tok)
	if err != nil {
		return nil, err
	}
	return ui, nil
}
