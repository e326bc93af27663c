// Package authtest provides keys, signed tokens and fake backends for tests
// of the authentication pipeline.
package authtest

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/credential"
)

func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen rsa key: %v", err)
	}
	return pk
}

func ECKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("gen ec key: %v", err)
	}
	return pk
}

func Ed25519Key(t testing.TB) ed25519.PrivateKey {
	t.Helper()
	_, pk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("gen ed25519 key: %v", err)
	}
	return pk
}

// PublicKeyPEM encodes pub as a PKIX "PUBLIC KEY" PEM block.
func PublicKeyPEM(t testing.TB, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// JWKJSON encodes a single JSON Web Key.
func JWKJSON(t testing.TB, key any, kid, alg string) []byte {
	t.Helper()
	b, err := json.Marshal(jose.JSONWebKey{Key: key, KeyID: kid, Algorithm: alg, Use: "sig"})
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	return b
}

// JWKSJSON encodes keys as a JSON Web Key Set.
func JWKSJSON(t testing.TB, keys ...jose.JSONWebKey) []byte {
	t.Helper()
	b, err := json.Marshal(jose.JSONWebKeySet{Keys: keys})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

// Claims returns a minimal valid claim set for sub expiring after ttl.
func Claims(sub string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": sub,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
}

// Sign signs claims with method and key. A non-empty kid is set in the header.
func Sign(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// Unsigned returns an alg=none token for claims.
func Unsigned(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	return Sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, "", claims)
}

// FlipSignatureByte alters one character in the middle of the signature
// segment so the signature bytes change.
func FlipSignatureByte(tok string) string {
	i := strings.LastIndexByte(tok, '.')
	if i < 0 || i == len(tok)-1 {
		return tok + "x"
	}
	sig := []byte(tok[i+1:])
	mid := len(sig) / 2
	if sig[mid] == 'A' {
		sig[mid] = 'B'
	} else {
		sig[mid] = 'A'
	}
	return tok[:i+1] + string(sig)
}

// WriteKeyFile writes data to a file under a test temp dir and returns its path.
func WriteKeyFile(t testing.TB, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	return p
}

// NoAuth is a backend that accepts every bearer token. Used for testing and
// development environments where verification is not required.
type NoAuth struct {
	UserID string
}

// NewNoAuth creates a new NoAuth backend with the specified user ID.
// If userID is empty, it defaults to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{UserID: userID}
}

func (n *NoAuth) VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) auth.Outcome {
	return auth.Accepted(&noAuthUserInfo{userID: n.UserID})
}

// noAuthUserInfo provides user info for the NoAuth backend
type noAuthUserInfo struct {
	userID string
}

func (n *noAuthUserInfo) UserID() string {
	return n.userID
}

func (n *noAuthUserInfo) Claims(ref any) error {
	return nil // No claims to unmarshal
}

// SpyBackend records bearer verification calls and returns Result.
type SpyBackend struct {
	Result auth.Outcome
	calls  atomic.Int64
}

func (s *SpyBackend) VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) auth.Outcome {
	s.calls.Add(1)
	return s.Result
}

// Calls returns how many times VerifyBearer ran.
func (s *SpyBackend) Calls() int64 { return s.calls.Load() }
