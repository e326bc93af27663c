package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/authn-jwt/auth/authtest"
)

// publishKey serves pub in a JWKS under kid. The JWK carries no alg, so the
// verifier's own algorithm policy is the only gate.
func publishKey(t *testing.T, pub any, kid string) *authtest.OIDCServer {
	t.Helper()
	return authtest.NewOIDCServer(t, authtest.JWKSJSON(t, jose.JSONWebKey{Key: pub, KeyID: kid, Use: "sig"}))
}

func TestRemoteVerifier_Discovery(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := publishKey(t, &pk.PublicKey, "k1")

	v, err := NewRemote(context.Background(), RemoteConfig{
		Issuer:     srv.Issuer(),
		Audiences:  []string{"api", "admin"},
		Algorithms: []string{"RS256"},
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	claims := func(edit func(jwt.MapClaims)) jwt.MapClaims {
		c := authtest.Claims("alice", time.Minute)
		c["iss"] = srv.Issuer()
		c["aud"] = "api"
		if edit != nil {
			edit(c)
		}
		return c
	}
	sign := func(m jwt.SigningMethod, c jwt.MapClaims) string {
		return authtest.Sign(t, m, pk, "k1", c)
	}

	cases := []struct {
		name string
		tok  string
		ok   bool
	}{
		{"valid", sign(jwt.SigningMethodRS256, claims(nil)), true},
		{"audience in array", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { c["aud"] = []string{"x", "admin"} })), true},
		{"algorithm not configured", sign(jwt.SigningMethodRS512, claims(nil)), false},
		{"wrong audience", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { c["aud"] = "web" })), false},
		{"wrong issuer", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { c["iss"] = "https://evil.example" })), false},
		{"expired", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() })), false},
		{"no exp", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { delete(c, "exp") })), false},
		{"no sub", sign(jwt.SigningMethodRS256, claims(func(c jwt.MapClaims) { delete(c, "sub") })), false},
		{"tampered", authtest.FlipSignatureByte(sign(jwt.SigningMethodRS256, claims(nil))), false},
		{"unsigned", authtest.Unsigned(t, claims(nil)), false},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ui, err := v.CheckAuthentication(context.Background(), tc.tok)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if ui.UserID() != "alice" {
					t.Fatalf("user id = %q", ui.UserID())
				}
				return
			}
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestRemoteVerifier_DefaultAlgorithms(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := publishKey(t, &pk.PublicKey, "k1")
	v, err := NewRemote(context.Background(), RemoteConfig{Issuer: srv.Issuer(), Audiences: []string{"api"}})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	c := authtest.Claims("bob", time.Minute)
	c["iss"] = srv.Issuer()
	c["aud"] = "api"
	if _, err := v.CheckAuthentication(context.Background(), authtest.Sign(t, jwt.SigningMethodRS512, pk, "k1", c)); err != nil {
		t.Fatalf("RS512 with no algorithm restriction: %v", err)
	}
	// A symmetric token keyed with public material never verifies.
	forged := authtest.Sign(t, jwt.SigningMethodHS256, []byte("public"), "k1", c)
	if _, err := v.CheckAuthentication(context.Background(), forged); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("HS256: expected ErrUnauthorized, got %v", err)
	}
}

func TestRemoteVerifier_StaticJWKS(t *testing.T) {
	ec := authtest.ECKey(t)
	srv := publishKey(t, &ec.PublicKey, "ec")
	v, err := NewRemote(context.Background(), RemoteConfig{
		Issuer:    "https://issuer.example",
		Audiences: []string{"api"},
		JWKSURI:   srv.JWKSURL(),
		Leeway:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	c := authtest.Claims("carol", time.Minute)
	c["iss"] = "https://issuer.example"
	c["aud"] = "api"
	c["exp"] = time.Now().Add(-10 * time.Second).Unix()
	if _, err := v.CheckAuthentication(context.Background(), authtest.Sign(t, jwt.SigningMethodES256, ec, "ec", c)); err != nil {
		t.Fatalf("expired within leeway: %v", err)
	}

	c["iss"] = srv.Issuer()
	if _, err := v.CheckAuthentication(context.Background(), authtest.Sign(t, jwt.SigningMethodES256, ec, "ec", c)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("server url as issuer: expected ErrUnauthorized, got %v", err)
	}
}

func TestRemoteVerifier_Scopes(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := publishKey(t, &pk.PublicKey, "k1")

	cases := []struct {
		name  string
		any   bool
		scope string
		ok    bool
	}{
		{"all present", false, "items:read items:write", true},
		{"one missing", false, "items:read", false},
		{"any mode one present", true, "items:write", true},
		{"any mode none present", true, "profile", false},
		{"no scope claim", false, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := NewRemote(context.Background(), RemoteConfig{
				Issuer:         srv.Issuer(),
				Audiences:      []string{"api"},
				RequiredScopes: []string{"items:read", "items:write"},
				ScopeModeAny:   tc.any,
			})
			if err != nil {
				t.Fatalf("NewRemote: %v", err)
			}
			c := authtest.Claims("dave", time.Minute)
			c["iss"] = srv.Issuer()
			c["aud"] = "api"
			if tc.scope != "" {
				c["scope"] = tc.scope
			}
			_, err = v.CheckAuthentication(context.Background(), authtest.Sign(t, jwt.SigningMethodRS256, pk, "k1", c))
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInsufficientScope) {
				t.Fatalf("expected ErrInsufficientScope, got %v", err)
			}
		})
	}
}

func TestRemoteVerifier_AccessTokenType(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := publishKey(t, &pk.PublicKey, "k1")
	v, err := NewRemote(context.Background(), RemoteConfig{
		Issuer:                 srv.Issuer(),
		Audiences:              []string{"api"},
		RequireAccessTokenType: true,
	})
	if err != nil {
		t.Fatalf("NewRemote: %v", err)
	}

	c := authtest.Claims("erin", time.Minute)
	c["iss"] = srv.Issuer()
	c["aud"] = "api"
	for typ, ok := range map[string]bool{"at+jwt": true, "application/at+jwt": true, "JWT": false} {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
		tok.Header["kid"] = "k1"
		tok.Header["typ"] = typ
		raw, err := tok.SignedString(pk)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		_, err = v.CheckAuthentication(context.Background(), raw)
		if ok != (err == nil) {
			t.Fatalf("typ %q: err = %v", typ, err)
		}
	}
}

func TestNewRemote_Invalid(t *testing.T) {
	pk := authtest.RSAKey(t)
	srv := publishKey(t, &pk.PublicKey, "k1")

	noJWKS := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"issuer": "http://" + r.Host})
	}))
	t.Cleanup(noJWKS.Close)

	cases := map[string]RemoteConfig{
		"no issuer":           {Audiences: []string{"api"}, JWKSURI: srv.JWKSURL()},
		"no audience":         {Issuer: srv.Issuer()},
		"symmetric only":      {Issuer: srv.Issuer(), Audiences: []string{"api"}, Algorithms: []string{"HS256"}},
		"discovery no jwks":   {Issuer: noJWKS.URL, Audiences: []string{"api"}},
		"discovery unreached": {Issuer: "http://127.0.0.1:1", Audiences: []string{"api"}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRemote(context.Background(), cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := NewRemote(context.Background(), cases["symmetric only"]); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("symmetric only: expected ErrInvalidKey, got %v", err)
	}
}
