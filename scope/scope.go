// Package scope resolves the effective authentication configuration for a
// request by folding scope-conditional overrides onto a defaults record.
//
// Overrides are applied in list order and the last active override to set a
// field wins. Resolution is pure: it reads the request, never mutates the
// Config, and returns a value that shares no mutable state with it.
package scope

import (
	"net/http"
	"strings"
	"time"
)

// Default scheme and backend names used when configuration does not name one.
const (
	DefaultScheme  = "bearer"
	DefaultBackend = "jwt"
)

// Effective is the fully resolved configuration for one request.
type Effective struct {
	// KeyFile is the path to the verification key. Empty means no key is
	// configured and the verifier runs in its explicit no-key mode.
	KeyFile string
	Realm   string
	// Match lists path suffixes for which the module participates.
	Match []string

	Scheme  string
	Backend string

	Algorithms    []string
	Issuer        string
	Audiences     []string
	RequireExp    bool
	Leeway        time.Duration
	AllowUnsigned bool
	DebugLogToken bool
}

// Participates reports whether a request for path is in scope for
// authentication: some Match entry must be a suffix of path.
func (e Effective) Participates(path string) bool {
	for _, m := range e.Match {
		if strings.HasSuffix(path, m) {
			return true
		}
	}
	return false
}

// Fields holds the per-field overrides of one configuration block. Nil
// pointers and nil slices leave the accumulated value untouched; a non-nil
// empty slice clears it.
type Fields struct {
	KeyFile       *string
	Realm         *string
	Match         []string
	Scheme        *string
	Backend       *string
	Algorithms    []string
	Issuer        *string
	Audiences     []string
	RequireExp    *bool
	Leeway        *time.Duration
	AllowUnsigned *bool
	DebugLogToken *bool
}

// Apply returns base with every set field of f written over it.
func (f Fields) Apply(base Effective) Effective {
	out := base.clone()
	if f.KeyFile != nil {
		out.KeyFile = *f.KeyFile
	}
	if f.Realm != nil {
		out.Realm = *f.Realm
	}
	if f.Match != nil {
		out.Match = append([]string{}, f.Match...)
	}
	if f.Scheme != nil {
		out.Scheme = *f.Scheme
	}
	if f.Backend != nil {
		out.Backend = *f.Backend
	}
	if f.Algorithms != nil {
		out.Algorithms = append([]string{}, f.Algorithms...)
	}
	if f.Issuer != nil {
		out.Issuer = *f.Issuer
	}
	if f.Audiences != nil {
		out.Audiences = append([]string{}, f.Audiences...)
	}
	if f.RequireExp != nil {
		out.RequireExp = *f.RequireExp
	}
	if f.Leeway != nil {
		out.Leeway = *f.Leeway
	}
	if f.AllowUnsigned != nil {
		out.AllowUnsigned = *f.AllowUnsigned
	}
	if f.DebugLogToken != nil {
		out.DebugLogToken = *f.DebugLogToken
	}
	return out
}

func (e Effective) clone() Effective {
	dup := e
	dup.Match = cloneStrings(e.Match)
	dup.Algorithms = cloneStrings(e.Algorithms)
	dup.Audiences = cloneStrings(e.Audiences)
	return dup
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

// Override is a configuration block that applies only when its predicate
// matches the request. A nil When never matches.
type Override struct {
	When   Predicate
	Fields Fields
}

// Resolver produces the effective configuration for a request.
type Resolver interface {
	Resolve(r *http.Request) Effective
}

// Config is a defaults record plus an ordered list of overrides. List order
// is priority order and must be preserved from load time.
type Config struct {
	Defaults  Effective
	Overrides []Override
}

var _ Resolver = (*Config)(nil)

// NewConfig builds a Config whose defaults are the built-in defaults with
// base applied on top.
func NewConfig(base Fields, overrides ...Override) *Config {
	return &Config{
		Defaults:  base.Apply(BuiltinDefaults()),
		Overrides: append([]Override(nil), overrides...),
	}
}

// BuiltinDefaults returns the configuration used when nothing is set.
func BuiltinDefaults() Effective {
	return Effective{
		Scheme:  DefaultScheme,
		Backend: DefaultBackend,
	}
}

// Resolve folds every override whose predicate matches r onto the defaults.
func (c *Config) Resolve(r *http.Request) Effective {
	out := c.Defaults.clone()
	for _, o := range c.Overrides {
		if o.When == nil || !o.When.Match(r) {
			continue
		}
		out = o.Fields.Apply(out)
	}
	return out
}
