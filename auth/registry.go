package auth

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/ggoodman/authn-jwt/credential"
)

// Requirement names the scheme and backend a request must be checked with.
type Requirement struct {
	Scheme  string
	Backend string
	Realm   string
}

// Scheme handles how a credential is transported: it extracts the credential
// from the request and hands it to the resolved backend.
type Scheme interface {
	Check(ctx context.Context, r *http.Request, req Requirement, backend Backend) Outcome
}

// SchemeFunc adapts a function to the Scheme interface.
type SchemeFunc func(ctx context.Context, r *http.Request, req Requirement, backend Backend) Outcome

func (f SchemeFunc) Check(ctx context.Context, r *http.Request, req Requirement, backend Backend) Outcome {
	return f(ctx, r, req, backend)
}

// Backend is any value registered under a backend name. Schemes discover what
// a backend can do through capability interfaces such as BearerVerifier.
type Backend interface{}

// BearerVerifier is the capability a backend needs to serve the bearer scheme.
type BearerVerifier interface {
	VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) Outcome
}

// BearerVerifierFunc adapts a function to the BearerVerifier interface.
type BearerVerifierFunc func(ctx context.Context, r *http.Request, tok credential.Token) Outcome

func (f BearerVerifierFunc) VerifyBearer(ctx context.Context, r *http.Request, tok credential.Token) Outcome {
	return f(ctx, r, tok)
}

// Registry maps scheme and backend names to implementations. Registration is
// expected once at startup; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	schemes  map[string]Scheme
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{
		schemes:  make(map[string]Scheme),
		backends: make(map[string]Backend),
	}
}

// RegisterScheme adds a scheme under name. It fails if name is taken.
func (reg *Registry) RegisterScheme(name string, s Scheme) error {
	if name == "" || s == nil {
		return fmt.Errorf("auth: invalid scheme registration %q", name)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.schemes[name]; ok {
		return fmt.Errorf("%w: scheme %q", ErrDuplicateName, name)
	}
	reg.schemes[name] = s
	return nil
}

// RegisterBackend adds a backend under name. It fails if name is taken.
func (reg *Registry) RegisterBackend(name string, b Backend) error {
	if name == "" || b == nil {
		return fmt.Errorf("auth: invalid backend registration %q", name)
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.backends[name]; ok {
		return fmt.Errorf("%w: backend %q", ErrDuplicateName, name)
	}
	reg.backends[name] = b
	return nil
}

// MustRegisterScheme is like RegisterScheme but panics on error.
func (reg *Registry) MustRegisterScheme(name string, s Scheme) {
	if err := reg.RegisterScheme(name, s); err != nil {
		panic(err)
	}
}

// MustRegisterBackend is like RegisterBackend but panics on error.
func (reg *Registry) MustRegisterBackend(name string, b Backend) {
	if err := reg.RegisterBackend(name, b); err != nil {
		panic(err)
	}
}

func (reg *Registry) Scheme(name string) (Scheme, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	s, ok := reg.schemes[name]
	return s, ok
}

func (reg *Registry) Backend(name string) (Backend, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	b, ok := reg.backends[name]
	return b, ok
}

// Names returns the sorted scheme and backend names.
func (reg *Registry) Names() (schemes, backends []string) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	for n := range reg.schemes {
		schemes = append(schemes, n)
	}
	for n := range reg.backends {
		backends = append(backends, n)
	}
	sort.Strings(schemes)
	sort.Strings(backends)
	return schemes, backends
}

// Dispatch runs the scheme named by req against the backend named by req.
// A missing scheme or backend is an operator mistake and yields Misconfigured.
func (reg *Registry) Dispatch(ctx context.Context, r *http.Request, req Requirement) Outcome {
	s, ok := reg.Scheme(req.Scheme)
	if !ok {
		return Misconfigured(fmt.Sprintf("no scheme registered for %q", req.Scheme))
	}
	b, ok := reg.Backend(req.Backend)
	if !ok {
		return Misconfigured(fmt.Sprintf("no backend registered for %q", req.Backend))
	}
	return s.Check(ctx, r, req, b)
}
