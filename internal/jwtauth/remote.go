package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// RemoteConfig selects an issuer whose signing keys are published as a JWKS.
type RemoteConfig struct {
	Issuer    string
	Audiences []string
	// JWKSURI skips OIDC discovery when set. Tokens must then carry Issuer
	// verbatim.
	JWKSURI string
	// Algorithms restricts accepted algorithms. Empty means every asymmetric
	// algorithm a JWKS can carry.
	Algorithms []string
	Leeway     time.Duration

	RequiredScopes []string
	// ScopeModeAny accepts any one of RequiredScopes instead of all of them.
	ScopeModeAny bool
	// RequireAccessTokenType enforces the "at+jwt" typ header.
	RequireAccessTokenType bool
}

// RemoteVerifier checks tokens against a remote JWKS. Expiry is always
// required. It is safe for concurrent use.
type RemoteVerifier struct {
	keys       jwt.Keyfunc
	algs       []string
	policy     Policy
	scopes     []string
	anyScope   bool
	requireTyp bool
}

// NewRemote resolves the JWKS location, by discovery unless cfg.JWKSURI is
// set, and starts the auto-refreshing key set.
func NewRemote(ctx context.Context, cfg RemoteConfig) (*RemoteVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("jwtauth: issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("jwtauth: at least one audience is required")
	}
	algs := jwksAlgs
	if len(cfg.Algorithms) > 0 {
		algs = intersect(cfg.Algorithms, jwksAlgs)
		if len(algs) == 0 {
			return nil, fmt.Errorf("%w: none of %v can be verified with a JWKS", ErrInvalidKey, cfg.Algorithms)
		}
	}

	issuer, jwksURI := cfg.Issuer, cfg.JWKSURI
	if jwksURI == "" {
		var err error
		if issuer, jwksURI, err = discover(ctx, cfg.Issuer); err != nil {
			return nil, err
		}
	}
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwtauth: jwks init failed: %w", err)
	}

	return &RemoteVerifier{
		keys: kf.Keyfunc,
		algs: algs,
		policy: Policy{
			Issuer:     issuer,
			Audiences:  cfg.Audiences,
			RequireExp: true,
			Leeway:     cfg.Leeway,
		},
		scopes:     cfg.RequiredScopes,
		anyScope:   cfg.ScopeModeAny,
		requireTyp: cfg.RequireAccessTokenType,
	}, nil
}

func discover(ctx context.Context, issuer string) (string, string, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return "", "", fmt.Errorf("jwtauth: oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", "", fmt.Errorf("jwtauth: invalid discovery metadata: %w", err)
	}
	if meta.JWKSURI == "" {
		return "", "", errors.New("jwtauth: discovery metadata has no jwks_uri")
	}
	return meta.Issuer, meta.JWKSURI, nil
}

// CheckAuthentication verifies tok. Validation failures wrap ErrUnauthorized;
// a valid token without the required scopes returns ErrInsufficientScope.
func (v *RemoteVerifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parsed, claims, err := parseClaims(tok, v.keys, v.algs, v.policy)
	if err != nil {
		return nil, err
	}
	if v.requireTyp {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}
	if err := checkScopes(claims, v.scopes, v.anyScope); err != nil {
		return nil, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}
	return &userInfo{sub: sub, claims: claims}, nil
}
