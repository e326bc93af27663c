package storage

import (
	"context"
	"fmt"
	"time"
)

// RevokedNamespace holds denylisted token ids.
const RevokedNamespace = "revoked"

// Revoke denylists the token id jti until the given time, which should be the
// token's own expiry. A zero until keeps the entry forever. An until in the
// past is a no-op since the token can no longer verify anyway.
func Revoke(ctx context.Context, s Storage, jti string, until time.Time) error {
	if jti == "" {
		return fmt.Errorf("%w: empty token id", ErrInvalidOptions)
	}
	opts := []Option{WithNamespace(RevokedNamespace)}
	if !until.IsZero() {
		ttl := time.Until(until)
		if ttl <= 0 {
			return nil
		}
		opts = append(opts, WithTTL(ttl))
	}
	return s.Set(ctx, jti, []byte(until.UTC().Format(time.RFC3339)), opts...)
}

// IsRevoked reports whether jti is denylisted. Errors come only from the
// underlying store.
func IsRevoked(ctx context.Context, s Storage, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	item, err := s.Get(ctx, jti, WithNamespace(RevokedNamespace))
	if err != nil {
		return false, err
	}
	return item != nil, nil
}

// Unrevoke removes jti from the denylist.
func Unrevoke(ctx context.Context, s Storage, jti string) error {
	return s.Delete(ctx, WithNamespace(RevokedNamespace), WithKey(jti))
}
