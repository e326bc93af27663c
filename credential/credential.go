// Package credential extracts bearer credentials from an Authorization
// header value.
//
// Extraction performs no I/O and never truncates: a token longer than the
// configured limit is reported as ErrTokenTooLarge so the caller can reject
// the request before any verification work is done.
package credential

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxTokenLen is the default upper bound on the token length in bytes.
const DefaultMaxTokenLen = 2047

// BearerScheme is the lowercased scheme name recorded for bearer credentials.
const BearerScheme = "bearer"

const bearerPrefix = "Bearer "

var (
	// ErrTokenTooLarge indicates the presented token exceeds the size limit.
	ErrTokenTooLarge = errors.New("credential: token too large")
	// ErrEmptyToken indicates a Bearer prefix followed by nothing.
	ErrEmptyToken = errors.New("credential: empty bearer token")
)

// Token is a bounded, length-tracked copy of a bearer token. The zero value
// is an empty token. A Token can only be built through NewToken, which
// rejects inputs larger than the requested capacity.
//
// The declared length is the token length plus one terminator slot. It is
// fixed at construction and never derived from the bytes.
type Token struct {
	buf      []byte
	n        int
	declared int
}

// NewToken copies src into a new Token with the given capacity. It fails with
// ErrTokenTooLarge when len(src) exceeds capacity.
func NewToken(src string, capacity int) (Token, error) {
	if capacity < 0 || len(src) > capacity {
		return Token{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTokenTooLarge, len(src), capacity)
	}
	buf := make([]byte, len(src), capacity)
	n := copy(buf, src)
	return Token{buf: buf, n: n, declared: n + 1}, nil
}

// Len returns the number of token bytes.
func (t Token) Len() int { return t.n }

// DeclaredLen returns the recorded buffer length, Len()+1 for any token built
// by NewToken and 0 for the zero value.
func (t Token) DeclaredLen() int { return t.declared }

// Cap returns the capacity the token was constructed with.
func (t Token) Cap() int { return cap(t.buf) }

// Bytes returns a copy of the token bytes.
func (t Token) Bytes() []byte { return append([]byte(nil), t.buf[:t.n]...) }

// String returns the token as a string.
func (t Token) String() string { return string(t.buf[:t.n]) }

// Credential is the authorization evidence presented with one request.
type Credential struct {
	Scheme    string
	Token     Token
	Presented bool
}

// Extract parses an Authorization header value. A missing header or one that
// does not start with "Bearer " (scheme word matched case-insensitively)
// yields a Credential with Presented=false and a nil error.
func Extract(header string, limit int) (Credential, error) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return Credential{}, nil
	}
	tokenLen := len(header) - len(bearerPrefix)
	if tokenLen > limit {
		return Credential{Scheme: BearerScheme, Presented: true}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTokenTooLarge, tokenLen, limit)
	}
	if tokenLen == 0 {
		return Credential{Scheme: BearerScheme, Presented: true}, ErrEmptyToken
	}
	tok, err := NewToken(header[len(bearerPrefix):], limit)
	if err != nil {
		return Credential{Scheme: BearerScheme, Presented: true}, err
	}
	return Credential{Scheme: BearerScheme, Token: tok, Presented: true}, nil
}
