// Package config reads the scope configuration file: a defaults block plus
// an ordered list of scoped overrides, in YAML.
//
//	defaults:
//	  key_file: /etc/authn/jwt.pem
//	  realm: api
//	  match: [".json", "/admin"]
//	scopes:
//	  - when: {host: admin.example.com}
//	    set: {realm: admin, key_file: /etc/authn/admin.pem}
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/authn-jwt/scope"
)

// MaxFileSize bounds the configuration file, in bytes.
const MaxFileSize = 1 << 20

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

var knownAlgorithms = []string{
	"HS256", "HS384", "HS512",
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// File is the on-disk document.
type File struct {
	Defaults Block   `yaml:"defaults" json:"defaults,omitempty" jsonschema:"description=Settings applied to every request"`
	Scopes   []Scope `yaml:"scopes" json:"scopes,omitempty" jsonschema:"description=Conditional overrides; later entries win"`
}

// Scope is one conditional override.
type Scope struct {
	When When  `yaml:"when" json:"when,omitempty"`
	Set  Block `yaml:"set" json:"set"`
}

// When is the activation condition. Every non-empty field must match; an
// empty When always matches.
type When struct {
	Host       string `yaml:"host" json:"host,omitempty" jsonschema:"description=Host name; port and case are ignored"`
	PathPrefix string `yaml:"path_prefix" json:"path_prefix,omitempty"`
	Method     string `yaml:"method" json:"method,omitempty"`
}

// Block lists the settable fields. Omitted fields keep the inherited value.
type Block struct {
	KeyFile       *string  `yaml:"key_file" json:"key_file,omitempty" jsonschema:"description=Verification key: PEM public key or certificate or a JWK or JWKS or raw HMAC secret. A raw secret is only used when algorithms names an HS algorithm. Empty selects no-key mode"`
	Realm         *string  `yaml:"realm" json:"realm,omitempty"`
	Match         []string `yaml:"match" json:"match,omitempty" jsonschema:"description=Path suffixes that require authentication; an empty string matches every path"`
	Scheme        *string  `yaml:"scheme" json:"scheme,omitempty"`
	Backend       *string  `yaml:"backend" json:"backend,omitempty"`
	Algorithms    []string `yaml:"algorithms" json:"algorithms,omitempty"`
	Issuer        *string  `yaml:"issuer" json:"issuer,omitempty"`
	Audiences     []string `yaml:"audiences" json:"audiences,omitempty"`
	RequireExp    *bool    `yaml:"require_exp" json:"require_exp,omitempty"`
	Leeway        *string  `yaml:"leeway" json:"leeway,omitempty" jsonschema:"description=Clock skew tolerance as a Go duration such as 30s"`
	AllowUnsigned *bool    `yaml:"allow_unsigned" json:"allow_unsigned,omitempty" jsonschema:"description=In no-key mode accept alg=none tokens"`
	DebugLogToken *bool    `yaml:"debug_log_token" json:"debug_log_token,omitempty" jsonschema:"description=Log raw tokens; never enable in production"`
}

// Load reads and parses the file at path.
func Load(path string) (*scope.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalid, path, MaxFileSize)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Source adapts Load to a reloadable configuration source.
func Source(path string) func(ctx context.Context) (*scope.Config, error) {
	return func(context.Context) (*scope.Config, error) { return Load(path) }
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*scope.Config, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return file.Build()
}

// Build validates the document and converts it to a scope.Config.
func (f File) Build() (*scope.Config, error) {
	defaults, err := f.Defaults.fields()
	if err != nil {
		return nil, fmt.Errorf("defaults: %w", err)
	}
	overrides := make([]scope.Override, 0, len(f.Scopes))
	for i, s := range f.Scopes {
		fields, err := s.Set.fields()
		if err != nil {
			return nil, fmt.Errorf("scopes[%d]: %w", i, err)
		}
		overrides = append(overrides, scope.Override{When: s.When.predicate(), Fields: fields})
	}
	return scope.NewConfig(defaults, overrides...), nil
}

func (b Block) fields() (scope.Fields, error) {
	out := scope.Fields{
		KeyFile:       b.KeyFile,
		Realm:         b.Realm,
		Match:         b.Match,
		Scheme:        b.Scheme,
		Backend:       b.Backend,
		Algorithms:    b.Algorithms,
		Issuer:        b.Issuer,
		Audiences:     b.Audiences,
		RequireExp:    b.RequireExp,
		AllowUnsigned: b.AllowUnsigned,
		DebugLogToken: b.DebugLogToken,
	}
	for _, alg := range b.Algorithms {
		if !slices.Contains(knownAlgorithms, alg) {
			return scope.Fields{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalid, alg)
		}
	}
	if b.Scheme != nil && *b.Scheme == "" {
		return scope.Fields{}, fmt.Errorf("%w: scheme must not be empty", ErrInvalid)
	}
	if b.Backend != nil && *b.Backend == "" {
		return scope.Fields{}, fmt.Errorf("%w: backend must not be empty", ErrInvalid)
	}
	if b.Leeway != nil {
		d, err := time.ParseDuration(*b.Leeway)
		if err != nil {
			return scope.Fields{}, fmt.Errorf("%w: leeway: %v", ErrInvalid, err)
		}
		if d < 0 {
			return scope.Fields{}, fmt.Errorf("%w: leeway must not be negative", ErrInvalid)
		}
		out.Leeway = &d
	}
	return out, nil
}

func (w When) predicate() scope.Predicate {
	var preds []scope.Predicate
	if w.Host != "" {
		preds = append(preds, scope.Host(w.Host))
	}
	if w.PathPrefix != "" {
		preds = append(preds, scope.PathPrefix(w.PathPrefix))
	}
	if w.Method != "" {
		preds = append(preds, scope.Method(w.Method))
	}
	if len(preds) == 0 {
		return scope.Always()
	}
	return scope.All(preds...)
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(File))
	s.Title = "authn-jwt scope configuration"
	return json.MarshalIndent(s, "", "  ")
}
