package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/authn-jwt/credential"
)

type staticUser struct{ id string }

func (u staticUser) UserID() string   { return u.id }
func (u staticUser) Claims(any) error { return nil }

// passScheme hands a fixed token to the backend if it can verify bearer tokens.
var passScheme = SchemeFunc(func(ctx context.Context, r *http.Request, req Requirement, b Backend) Outcome {
	v, ok := b.(BearerVerifier)
	if !ok {
		return Misconfigured("backend lacks bearer capability")
	}
	tok, _ := credential.NewToken("tok", 8)
	return v.VerifyBearer(ctx, r, tok)
})

func TestRegistry_DuplicateNames(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RegisterScheme("bearer", passScheme); err != nil {
		t.Fatalf("first scheme registration: %v", err)
	}
	if err := reg.RegisterScheme("bearer", passScheme); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("want ErrDuplicateName, got %v", err)
	}

	b := BearerVerifierFunc(func(context.Context, *http.Request, credential.Token) Outcome { return Continue() })
	if err := reg.RegisterBackend("jwt", b); err != nil {
		t.Fatalf("first backend registration: %v", err)
	}
	if err := reg.RegisterBackend("jwt", b); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("want ErrDuplicateName, got %v", err)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegisterScheme("bearer", passScheme)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate scheme")
		}
	}()
	reg.MustRegisterScheme("bearer", passScheme)
}

func TestRegistry_Dispatch(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegisterScheme("bearer", passScheme)
	reg.MustRegisterBackend("jwt", BearerVerifierFunc(func(_ context.Context, _ *http.Request, tok credential.Token) Outcome {
		if tok.String() != "tok" {
			return Rejected("wrong token")
		}
		return Accepted(staticUser{id: "u1"})
	}))
	reg.MustRegisterBackend("opaque", struct{}{})

	r := httptest.NewRequest("GET", "/", nil)
	tests := []struct {
		name string
		req  Requirement
		want OutcomeKind
	}{
		{name: "accepted", req: Requirement{Scheme: "bearer", Backend: "jwt"}, want: OutcomeAccepted},
		{name: "unknown scheme", req: Requirement{Scheme: "digest", Backend: "jwt"}, want: OutcomeMisconfigured},
		{name: "unknown backend", req: Requirement{Scheme: "bearer", Backend: "ldap"}, want: OutcomeMisconfigured},
		{name: "backend without capability", req: Requirement{Scheme: "bearer", Backend: "opaque"}, want: OutcomeMisconfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.Dispatch(context.Background(), r, tt.req)
			if got.Kind != tt.want {
				t.Fatalf("Dispatch() = %v (%s), want %v", got.Kind, got.Detail, tt.want)
			}
		})
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegisterScheme("bearer", passScheme)
	reg.MustRegisterBackend("oidc", struct{}{})
	reg.MustRegisterBackend("jwt", struct{}{})

	schemes, backends := reg.Names()
	if len(schemes) != 1 || schemes[0] != "bearer" {
		t.Fatalf("schemes = %v", schemes)
	}
	if len(backends) != 2 || backends[0] != "jwt" || backends[1] != "oidc" {
		t.Fatalf("backends = %v", backends)
	}
}

func TestOutcome_Err(t *testing.T) {
	if err := Continue().Err(); err != nil {
		t.Fatalf("Continue().Err() = %v", err)
	}
	if err := Rejected("bad sig").Err(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Rejected().Err() = %v", err)
	}
	if err := Malformed("too large").Err(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Malformed().Err() = %v", err)
	}
	if err := Misconfigured("no key").Err(); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("Misconfigured().Err() = %v", err)
	}
}
