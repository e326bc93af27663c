package bearer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/auth/authtest"
	"github.com/ggoodman/authn-jwt/credential"
)

func request(authz string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	if authz != "" {
		r.Header.Set("Authorization", authz)
	}
	return r
}

var req = auth.Requirement{Scheme: Name, Backend: "spy", Realm: "r"}

func TestCheck(t *testing.T) {
	cases := []struct {
		name      string
		header    string
		want      auth.OutcomeKind
		wantCalls int64
	}{
		{"missing header", "", auth.OutcomeRejected, 0},
		{"basic scheme", "Basic dXNlcjpwYXNz", auth.OutcomeRejected, 0},
		{"empty token", "Bearer ", auth.OutcomeMalformed, 0},
		{"at limit", "Bearer " + strings.Repeat("a", credential.DefaultMaxTokenLen), auth.OutcomeAccepted, 1},
		{"over limit", "Bearer " + strings.Repeat("a", credential.DefaultMaxTokenLen+1), auth.OutcomeMalformed, 0},
		{"lowercase scheme", "bearer abc", auth.OutcomeAccepted, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spy := &authtest.SpyBackend{Result: auth.Accepted(nil)}
			got := New().Check(context.Background(), request(tc.header), req, spy)
			if got.Kind != tc.want {
				t.Fatalf("outcome = %s, want %s (%s)", got.Kind, tc.want, got.Detail)
			}
			if spy.Calls() != tc.wantCalls {
				t.Fatalf("backend calls = %d, want %d", spy.Calls(), tc.wantCalls)
			}
		})
	}
}

func TestCheck_PassesExactToken(t *testing.T) {
	var seen string
	backend := auth.BearerVerifierFunc(func(ctx context.Context, r *http.Request, tok credential.Token) auth.Outcome {
		seen = tok.String()
		return auth.Rejected("nope")
	})
	got := New().Check(context.Background(), request("Bearer a.b.c"), req, backend)
	if got.Kind != auth.OutcomeRejected {
		t.Fatalf("outcome = %s", got.Kind)
	}
	if seen != "a.b.c" {
		t.Fatalf("backend saw %q", seen)
	}
}

func TestCheck_MaxTokenLenOption(t *testing.T) {
	spy := &authtest.SpyBackend{Result: auth.Accepted(nil)}
	s := New(WithMaxTokenLen(4))
	if got := s.Check(context.Background(), request("Bearer abcd"), req, spy); got.Kind != auth.OutcomeAccepted {
		t.Fatalf("4 bytes: outcome = %s", got.Kind)
	}
	if got := s.Check(context.Background(), request("Bearer abcde"), req, spy); got.Kind != auth.OutcomeMalformed {
		t.Fatalf("5 bytes: outcome = %s", got.Kind)
	}
	if spy.Calls() != 1 {
		t.Fatalf("backend calls = %d, want 1", spy.Calls())
	}
}

func TestCheck_BackendWithoutCapability(t *testing.T) {
	got := New().Check(context.Background(), request("Bearer abc"), req, struct{}{})
	if got.Kind != auth.OutcomeMisconfigured {
		t.Fatalf("outcome = %s, want misconfigured", got.Kind)
	}
}

func TestCheck_ThroughRegistry(t *testing.T) {
	reg := auth.NewRegistry()
	reg.MustRegisterScheme(Name, New())
	reg.MustRegisterBackend("noauth", authtest.NewNoAuth("alice"))

	got := reg.Dispatch(context.Background(), request("Bearer t"), auth.Requirement{Scheme: Name, Backend: "noauth"})
	if got.Kind != auth.OutcomeAccepted || got.User.UserID() != "alice" {
		t.Fatalf("unexpected outcome %+v", got)
	}
	got = reg.Dispatch(context.Background(), request("Bearer t"), auth.Requirement{Scheme: Name, Backend: "missing"})
	if got.Kind != auth.OutcomeMisconfigured {
		t.Fatalf("unknown backend: outcome = %s", got.Kind)
	}
}
