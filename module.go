package authnjwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/bearer"
	"github.com/ggoodman/authn-jwt/credential"
	"github.com/ggoodman/authn-jwt/internal/keyload"
	"github.com/ggoodman/authn-jwt/internal/logctx"
	"github.com/ggoodman/authn-jwt/internal/metrics"
	"github.com/ggoodman/authn-jwt/jwtbackend"
	"github.com/ggoodman/authn-jwt/plugin"
	"github.com/ggoodman/authn-jwt/scope"
	"github.com/ggoodman/authn-jwt/storage"
)

// Name is the plugin name.
const Name = "authn_jwt"

// ErrNotConfigured is returned when SetDefaults has no configuration source.
var ErrNotConfigured = errors.New("authnjwt: no configuration")

// ConfigSource produces the scope configuration. It is called on every
// SetDefaults, so reloads pick up changes.
type ConfigSource func(ctx context.Context) (*scope.Config, error)

// Module is the authentication plugin. Create it with New and load it with
// plugin.Host.Load(m.PluginInit).
type Module struct {
	log         *slog.Logger
	metrics     *metrics.Metrics
	source      ConfigSource
	registry    *auth.Registry
	extra       map[string]auth.Backend
	revocations storage.Storage
	maxTokenLen int
	keyCache    bool

	cfg  atomic.Pointer[scope.Config]
	keys *keyload.Loader

	initOnce    sync.Once
	stopWatch   context.CancelFunc
	watchDone   chan struct{}
	initialized atomic.Bool
}

var _ scope.Resolver = (*Module)(nil)

// Option configures a Module.
type Option func(*Module)

func WithLogger(log *slog.Logger) Option {
	return func(m *Module) {
		if log != nil {
			m.log = log
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Module) { m.metrics = mt }
}

// WithConfig uses a fixed configuration.
func WithConfig(cfg *scope.Config) Option {
	return func(m *Module) {
		m.source = func(context.Context) (*scope.Config, error) { return cfg, nil }
	}
}

// WithConfigSource loads configuration from src on every SetDefaults.
func WithConfigSource(src ConfigSource) Option {
	return func(m *Module) { m.source = src }
}

// WithRegistry replaces the default registry. The caller is responsible for
// registering every scheme and backend the configuration names.
func WithRegistry(reg *auth.Registry) Option {
	return func(m *Module) { m.registry = reg }
}

// WithBackend registers an additional backend in the default registry.
func WithBackend(name string, b auth.Backend) Option {
	return func(m *Module) {
		if m.extra == nil {
			m.extra = make(map[string]auth.Backend)
		}
		m.extra[name] = b
	}
}

// WithRevocationStore makes the jwt backend reject denylisted token ids.
func WithRevocationStore(s storage.Storage) Option {
	return func(m *Module) { m.revocations = s }
}

// WithMaxTokenLen bounds accepted bearer tokens, in bytes.
func WithMaxTokenLen(n int) Option {
	return func(m *Module) { m.maxTokenLen = n }
}

// WithKeyCache caches key files by (path, mtime, size) and watches their
// directories for changes.
func WithKeyCache(enabled bool) Option {
	return func(m *Module) { m.keyCache = enabled }
}

func New(opts ...Option) *Module {
	m := &Module{
		log:         slog.Default(),
		maxTokenLen: credential.DefaultMaxTokenLen,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PluginInit fills p with the module callbacks.
func (m *Module) PluginInit(p *plugin.Plugin) error {
	p.Name = Name
	p.Version = plugin.APIVersion
	p.Init = m.Init
	p.SetDefaults = m.SetDefaults
	p.HandleURIClean = m.HandleURIClean
	p.Cleanup = m.Cleanup
	return nil
}

// Init builds the registry and starts the key watcher. It runs once.
func (m *Module) Init(ctx context.Context) error {
	var err error
	m.initOnce.Do(func() { err = m.init() })
	return err
}

func (m *Module) init() error {
	var loaderOpts []keyload.Option
	loaderOpts = append(loaderOpts, keyload.WithLogger(m.log), keyload.WithObserver(m.metrics.ObserveKeyLoad))
	if m.keyCache {
		loaderOpts = append(loaderOpts, keyload.WithCache())
	}
	m.keys = keyload.NewLoader(loaderOpts...)

	if m.registry == nil {
		reg := auth.NewRegistry()
		if err := reg.RegisterScheme(bearer.Name, bearer.New(bearer.WithMaxTokenLen(m.maxTokenLen), bearer.WithLogger(m.log))); err != nil {
			return err
		}
		backendOpts := []jwtbackend.Option{
			jwtbackend.WithKeySource(m.keys),
			jwtbackend.WithMetrics(m.metrics),
			jwtbackend.WithLogger(m.log),
		}
		if m.revocations != nil {
			backendOpts = append(backendOpts, jwtbackend.WithRevocationStore(m.revocations))
		}
		if err := reg.RegisterBackend(jwtbackend.Name, jwtbackend.New(m, backendOpts...)); err != nil {
			return err
		}
		for name, b := range m.extra {
			if err := reg.RegisterBackend(name, b); err != nil {
				return err
			}
		}
		m.registry = reg
	}

	if m.keyCache {
		ctx, cancel := context.WithCancel(context.Background())
		m.stopWatch = cancel
		m.watchDone = make(chan struct{})
		go func() {
			defer close(m.watchDone)
			if err := m.keys.Watch(ctx); err != nil {
				m.log.WarnContext(ctx, "authnjwt.keywatch.fail", slog.String("err", err.Error()))
			}
		}()
	}
	m.initialized.Store(true)
	return nil
}

// SetDefaults loads configuration and swaps it in atomically. Requests in
// flight keep the snapshot they started with.
func (m *Module) SetDefaults(ctx context.Context) error {
	if m.source == nil {
		return ErrNotConfigured
	}
	cfg, err := m.source(ctx)
	if err != nil {
		return fmt.Errorf("authnjwt: load config: %w", err)
	}
	if cfg == nil {
		return ErrNotConfigured
	}
	m.warnUnknownNames(ctx, cfg)
	m.cfg.Store(cfg)
	m.log.InfoContext(ctx, "authnjwt.config.applied", slog.Int("overrides", len(cfg.Overrides)))
	return nil
}

// warnUnknownNames flags scheme and backend names that nothing registered.
// Requests hitting them still fail with a 500.
func (m *Module) warnUnknownNames(ctx context.Context, cfg *scope.Config) {
	if m.registry == nil {
		return
	}
	check := func(kind, name string, ok bool) {
		if name != "" && !ok {
			m.log.WarnContext(ctx, "authnjwt.config.unknown_"+kind, slog.String("name", name))
		}
	}
	lookup := func(scheme, backend *string) {
		if scheme != nil {
			_, ok := m.registry.Scheme(*scheme)
			check("scheme", *scheme, ok)
		}
		if backend != nil {
			_, ok := m.registry.Backend(*backend)
			check("backend", *backend, ok)
		}
	}
	lookup(&cfg.Defaults.Scheme, &cfg.Defaults.Backend)
	for _, o := range cfg.Overrides {
		lookup(o.Fields.Scheme, o.Fields.Backend)
	}
}

// Resolve returns the effective configuration for r under the current
// snapshot.
func (m *Module) Resolve(r *http.Request) scope.Effective {
	cfg := m.cfg.Load()
	if cfg == nil {
		return scope.BuiltinDefaults()
	}
	return cfg.Resolve(r)
}

// Cleanup stops the key watcher.
func (m *Module) Cleanup() error {
	if m.stopWatch != nil {
		m.stopWatch()
		<-m.watchDone
		m.stopWatch = nil
	}
	return nil
}

// Registry exposes the registry built by Init.
func (m *Module) Registry() *auth.Registry { return m.registry }

// HandleURIClean authenticates r when the module participates.
func (m *Module) HandleURIClean(w http.ResponseWriter, r *http.Request) (plugin.HandlerResult, *http.Request) {
	if plugin.Handler(r) != "" || r.URL.Path == "" {
		return plugin.HandlerGoOn, nil
	}
	if !m.initialized.Load() || m.cfg.Load() == nil {
		m.log.ErrorContext(r.Context(), "authnjwt.not_configured")
		writeStatus(w, r, http.StatusInternalServerError)
		return plugin.HandlerError, nil
	}

	eff := m.Resolve(r)
	if !eff.Participates(r.URL.Path) {
		return plugin.HandlerGoOn, nil
	}

	ctx := scope.WithEffective(r.Context(), eff)
	ctx = logctx.WithAuthData(ctx, &logctx.AuthData{
		Scheme:  eff.Scheme,
		Backend: eff.Backend,
		Realm:   eff.Realm,
		KeyFile: eff.KeyFile,
	})
	r = r.WithContext(ctx)

	start := time.Now()
	outcome := m.registry.Dispatch(ctx, r, auth.Requirement{Scheme: eff.Scheme, Backend: eff.Backend, Realm: eff.Realm})
	m.metrics.ObserveCheck(eff.Scheme, eff.Backend, outcome.Kind.String(), time.Since(start))

	d := auth.Translate(outcome, eff.Realm)
	switch d.Action {
	case auth.ActionContinue:
		if d.User != nil {
			m.log.DebugContext(ctx, "auth.check.ok", slog.String("user_id", d.User.UserID()))
			r = r.WithContext(auth.WithUserInfo(ctx, d.User))
		}
		return plugin.HandlerGoOn, r
	case auth.ActionFinished:
		m.log.InfoContext(ctx, "auth.check.fail", slog.String("outcome", outcome.Kind.String()), slog.String("err", outcome.Detail))
		w.Header().Set("WWW-Authenticate", d.Challenge.WWWAuthenticate)
		writeStatus(w, r, d.Challenge.Status)
		return plugin.HandlerFinished, r
	default:
		m.log.ErrorContext(ctx, "auth.check.error", slog.String("outcome", outcome.Kind.String()), slog.String("err", outcome.Detail))
		writeStatus(w, r, http.StatusInternalServerError)
		return plugin.HandlerError, r
	}
}
