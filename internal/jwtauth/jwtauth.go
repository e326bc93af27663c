// Package jwtauth verifies JSON Web Tokens. KeyVerifier checks tokens against
// key material loaded from disk; RemoteVerifier checks them against an
// issuer's published, auto-refreshing JWKS.
package jwtauth

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserInfo is the verified principal. It has the same method set as
// auth.UserInfo.
type UserInfo interface {
	UserID() string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }

func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// ErrUnauthorized indicates the token failed validation (signature, issuer,
// audience, exp/nbf) and the request is unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates a valid token lacking the required scopes.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// audIntersects reports whether the aud claim, a string or an array, names
// any of wants.
func audIntersects(aud any, wants []string) bool {
	switch v := aud.(type) {
	case string:
		return slices.Contains(wants, v)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && slices.Contains(wants, s) {
				return true
			}
		}
	case []string:
		for _, s := range v {
			if slices.Contains(wants, s) {
				return true
			}
		}
	}
	return false
}

// checkScopes matches the space-separated "scope" claim against required.
// With anyMode one match is enough; otherwise all are needed.
func checkScopes(claims jwt.MapClaims, required []string, anyMode bool) error {
	if len(required) == 0 {
		return nil
	}
	scopeStr, _ := claims["scope"].(string)
	have := strings.Fields(scopeStr)
	for _, want := range required {
		found := slices.Contains(have, want)
		if anyMode && found {
			return nil
		}
		if !anyMode && !found {
			return ErrInsufficientScope
		}
	}
	if anyMode {
		return ErrInsufficientScope
	}
	return nil
}
