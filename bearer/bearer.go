// Package bearer implements the "bearer" authentication scheme: it pulls a
// token out of the Authorization header and hands it to a backend that can
// verify bearer tokens.
package bearer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/credential"
)

// Name is the registry name of the scheme.
const Name = credential.BearerScheme

// Scheme is the bearer auth.Scheme. It is safe for concurrent use.
type Scheme struct {
	maxLen int
	log    *slog.Logger
}

var _ auth.Scheme = (*Scheme)(nil)

// Option configures a Scheme.
type Option func(*Scheme)

// WithMaxTokenLen overrides credential.DefaultMaxTokenLen.
func WithMaxTokenLen(n int) Option {
	return func(s *Scheme) {
		if n > 0 {
			s.maxLen = n
		}
	}
}

// WithLogger sets the logger used for extraction failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheme) {
		if log != nil {
			s.log = log
		}
	}
}

func New(opts ...Option) *Scheme {
	s := &Scheme{
		maxLen: credential.DefaultMaxTokenLen,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check extracts the bearer credential and delegates to backend. Oversized or
// empty tokens are rejected here and never reach the backend.
func (s *Scheme) Check(ctx context.Context, r *http.Request, req auth.Requirement, backend auth.Backend) auth.Outcome {
	cred, err := credential.Extract(r.Header.Get("Authorization"), s.maxLen)
	switch {
	case err != nil:
		s.log.InfoContext(ctx, "bearer.extract.fail", slog.String("err", err.Error()))
		return auth.Malformed(err.Error())
	case !cred.Presented:
		return auth.Rejected("no bearer credential presented")
	}

	v, ok := backend.(auth.BearerVerifier)
	if !ok {
		return auth.Misconfigured(fmt.Sprintf("backend %q cannot verify bearer tokens", req.Backend))
	}
	return v.VerifyBearer(ctx, r, cred.Token)
}
