package oidcbackend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/auth/authtest"
	"github.com/ggoodman/authn-jwt/credential"
)

func bearer(t *testing.T, s string) credential.Token {
	t.Helper()
	tok, err := credential.NewToken(s, credential.DefaultMaxTokenLen)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	return tok
}

func check(b *Backend, tok credential.Token) auth.Outcome {
	return b.VerifyBearer(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil), tok)
}

func TestNew_Discovery(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := authtest.NewOIDCServer(t, authtest.JWKSJSON(t, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}))

	b, err := New(context.Background(), Config{
		Issuer:         srv.Issuer(),
		Audiences:      []string{"api"},
		RequiredScopes: []string{"items:read"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	claims := authtest.Claims("alice", time.Minute)
	claims["iss"] = srv.Issuer()
	claims["aud"] = "api"
	claims["scope"] = "items:read items:write"
	if got := check(b, bearer(t, authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", claims))); got.Kind != auth.OutcomeAccepted {
		t.Fatalf("outcome = %s (%s)", got.Kind, got.Detail)
	}

	claims["scope"] = "items:write"
	if got := check(b, bearer(t, authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", claims))); got.Kind != auth.OutcomeRejected {
		t.Fatalf("insufficient scope: outcome = %s", got.Kind)
	}

	claims["scope"] = "items:read"
	claims["aud"] = "other"
	if got := check(b, bearer(t, authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", claims))); got.Kind != auth.OutcomeRejected {
		t.Fatalf("wrong audience: outcome = %s", got.Kind)
	}
}

func TestNew_StaticJWKS(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := authtest.NewOIDCServer(t, authtest.JWKSJSON(t, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}))

	b, err := New(context.Background(), Config{
		Issuer:    "https://issuer.example",
		Audiences: []string{"api"},
		JWKSURI:   srv.JWKSURL(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	claims := authtest.Claims("bob", time.Minute)
	claims["iss"] = "https://issuer.example"
	claims["aud"] = []string{"api"}
	raw := authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", claims)

	if got := check(b, bearer(t, raw)); got.Kind != auth.OutcomeAccepted {
		t.Fatalf("outcome = %s (%s)", got.Kind, got.Detail)
	}
	if got := check(b, bearer(t, authtest.FlipSignatureByte(raw))); got.Kind != auth.OutcomeRejected {
		t.Fatalf("tampered: outcome = %s", got.Kind)
	}
}

func TestNew_AlgorithmPolicy(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := authtest.NewOIDCServer(t, authtest.JWKSJSON(t, jose.JSONWebKey{Key: &pk.PublicKey, KeyID: "k1", Use: "sig"}))

	b, err := New(context.Background(), Config{
		Issuer:     srv.Issuer(),
		Audiences:  []string{"api"},
		Algorithms: []string{"RS256"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	claims := authtest.Claims("mallory", time.Minute)
	claims["iss"] = srv.Issuer()
	claims["aud"] = "api"

	if got := check(b, bearer(t, authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", claims))); got.Kind != auth.OutcomeAccepted {
		t.Fatalf("RS256: outcome = %s (%s)", got.Kind, got.Detail)
	}
	if got := check(b, bearer(t, authtest.Sign(t, jwt.SigningMethodRS512, pk, "k1", claims))); got.Kind != auth.OutcomeRejected {
		t.Fatalf("RS512: outcome = %s", got.Kind)
	}
}

func TestNew_RequiresIssuer(t *testing.T) {
	if _, err := New(context.Background(), Config{Audiences: []string{"api"}}); err == nil {
		t.Fatal("expected error without issuer")
	}
}

func TestFromAuthenticator(t *testing.T) {
	b := FromAuthenticator(authFunc(func(ctx context.Context, tok string) (auth.UserInfo, error) {
		return nil, errors.New("backend exploded")
	}))
	if got := check(b, bearer(t, "x")); got.Kind != auth.OutcomeRejected {
		t.Fatalf("outcome = %s", got.Kind)
	}
}

type authFunc func(ctx context.Context, tok string) (auth.UserInfo, error)

func (f authFunc) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	return f(ctx, tok)
}
