package jwtauth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/authn-jwt/internal/keyload"
)

// ErrNoKey indicates verification ran in no-key mode without unsigned
// tokens being allowed.
var ErrNoKey = errors.New("jwtauth: no verification key configured")

// ErrInvalidKey indicates the key material could not be parsed. This is an
// operator problem, not a client one.
var ErrInvalidKey = errors.New("jwtauth: invalid key material")

var (
	rsaAlgs  = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	hmacAlgs = []string{"HS256", "HS384", "HS512"}
	edAlgs   = []string{"EdDSA"}
	jwksAlgs = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512", "EdDSA"}
)

// Policy carries the per-scope validation knobs.
type Policy struct {
	// Algorithms restricts accepted algorithms. Empty means the set implied by
	// the key type. "none" is only ever accepted in no-key mode.
	Algorithms    []string
	Issuer        string
	Audiences     []string
	RequireExp    bool
	Leeway        time.Duration
	AllowUnsigned bool
}

// Verifier checks a compact JWT against key material. Implementations never
// see the HTTP request and are safe for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, tok string, key keyload.Material, p Policy) (UserInfo, error)
}

// maxParsedKeys bounds the parsed key cache.
const maxParsedKeys = 64

// KeyVerifier verifies tokens with golang-jwt against PEM, JWK, JWKS or raw
// HMAC key material. Parsed keys are cached by content fingerprint.
type KeyVerifier struct {
	mu     sync.RWMutex
	parsed map[[sha256.Size]byte]*parsedKey
}

var _ Verifier = (*KeyVerifier)(nil)

func NewKeyVerifier() *KeyVerifier {
	return &KeyVerifier{parsed: make(map[[sha256.Size]byte]*parsedKey)}
}

type parsedKey struct {
	keyfunc jwt.Keyfunc
	algs    []string
	// rawSecret is set for files that are neither PEM nor JSON.
	rawSecret bool
}

// Verify parses and validates tok. Any token-side failure wraps
// ErrUnauthorized; unusable key material wraps ErrInvalidKey.
func (v *KeyVerifier) Verify(ctx context.Context, tok string, key keyload.Material, p Policy) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	var (
		kf   jwt.Keyfunc
		algs []string
	)
	if !key.Present() {
		if !p.AllowUnsigned {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoKey)
		}
		algs = []string{jwt.SigningMethodNone.Alg()}
		kf = func(*jwt.Token) (any, error) { return jwt.UnsafeAllowNoneSignatureType, nil }
	} else {
		pk, err := v.keyFor(key)
		if err != nil {
			return nil, err
		}
		kf = pk.keyfunc
		switch {
		case pk.rawSecret && len(p.Algorithms) == 0:
			return nil, fmt.Errorf("%w: %s is neither PEM nor JSON; a raw HMAC secret needs an explicit HS* algorithm", ErrInvalidKey, key.Path)
		case len(p.Algorithms) > 0:
			algs = intersect(p.Algorithms, pk.algs)
		default:
			algs = pk.algs
		}
		algs = slices.DeleteFunc(algs, func(a string) bool { return a == jwt.SigningMethodNone.Alg() })
		if len(algs) == 0 {
			return nil, fmt.Errorf("%w: no configured algorithm usable with key %s", ErrInvalidKey, key.Path)
		}
	}

	_, claims, err := parseClaims(tok, kf, algs, p)
	if err != nil {
		return nil, err
	}
	sub, _ := claims["sub"].(string)
	return &userInfo{sub: sub, claims: claims}, nil
}

// parseClaims verifies the signature with kf, restricted to algs, and applies
// the time, issuer and audience checks of p.
func parseClaims(tok string, kf jwt.Keyfunc, algs []string, p Policy) (*jwt.Token, jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithLeeway(p.Leeway),
	}
	if p.RequireExp {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	if p.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.Issuer))
	}
	parsed, err := jwt.NewParser(opts...).Parse(tok, kf)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	if len(p.Audiences) > 0 && !audIntersects(claims["aud"], p.Audiences) {
		return nil, nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	return parsed, claims, nil
}

func (v *KeyVerifier) keyFor(m keyload.Material) (*parsedKey, error) {
	v.mu.RLock()
	pk, ok := v.parsed[m.Fingerprint]
	v.mu.RUnlock()
	if ok {
		return pk, nil
	}
	pk, err := parseKey(m.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKey, m.Path, err)
	}
	v.mu.Lock()
	if len(v.parsed) >= maxParsedKeys {
		clear(v.parsed)
	}
	v.parsed[m.Fingerprint] = pk
	v.mu.Unlock()
	return pk, nil
}

// parseKey detects the key format. Any file containing a PEM boundary is
// parsed as PEM, text before the block included, and never falls back to a
// secret. JSON is a JWK or JWKS. Anything else is a raw HMAC secret used byte
// for byte, which Verify only accepts with explicitly configured algorithms.
func parseKey(data []byte) (*parsedKey, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.Contains(data, []byte("-----BEGIN")):
		return parsePEM(data)
	case bytes.HasPrefix(trimmed, []byte("{")):
		return parseJSONKey(trimmed)
	case len(data) == 0:
		return nil, errors.New("empty key")
	default:
		pk := staticKey(append([]byte(nil), data...), hmacAlgs)
		pk.rawSecret = true
		return pk, nil
	}
}

func parsePEM(data []byte) (*parsedKey, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return staticKey(k, rsaAlgs), nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return staticKey(k, ecAlgs(k.Curve)), nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return staticKey(k, edAlgs), nil
	}
	return nil, errors.New("unsupported PEM key: expected an RSA, EC or Ed25519 public key or certificate")
}

func parseJSONKey(data []byte) (*parsedKey, error) {
	var shape struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("invalid JSON key: %w", err)
	}
	if shape.Keys != nil {
		kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(data))
		if err != nil {
			return nil, fmt.Errorf("invalid JWKS: %w", err)
		}
		return &parsedKey{keyfunc: kf.Keyfunc, algs: jwksAlgs}, nil
	}

	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("invalid JWK: %w", err)
	}
	if secret, ok := jwk.Key.([]byte); ok {
		if len(secret) == 0 {
			return nil, errors.New("empty oct JWK")
		}
	} else if !jwk.Valid() {
		return nil, errors.New("invalid JWK")
	}
	if !jwk.IsPublic() {
		if pub := jwk.Public(); pub.Key != nil {
			jwk = pub
		}
	}
	var (
		key  any
		algs []string
	)
	switch k := jwk.Key.(type) {
	case *rsa.PublicKey:
		key, algs = k, rsaAlgs
	case *ecdsa.PublicKey:
		key, algs = k, ecAlgs(k.Curve)
	case ed25519.PublicKey:
		key, algs = k, edAlgs
	case []byte:
		key, algs = k, hmacAlgs
	default:
		return nil, fmt.Errorf("unsupported JWK key type %T", jwk.Key)
	}
	if jwk.Algorithm != "" {
		algs = intersect([]string{jwk.Algorithm}, algs)
	}
	return staticKey(key, algs), nil
}

func staticKey(key any, algs []string) *parsedKey {
	return &parsedKey{
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
		algs:    algs,
	}
}

func ecAlgs(c elliptic.Curve) []string {
	switch c {
	case elliptic.P256():
		return []string{"ES256"}
	case elliptic.P384():
		return []string{"ES384"}
	case elliptic.P521():
		return []string{"ES512"}
	default:
		return nil
	}
}

func intersect(want, have []string) []string {
	out := make([]string, 0, len(want))
	for _, w := range want {
		if slices.Contains(have, w) {
			out = append(out, w)
		}
	}
	return out
}
