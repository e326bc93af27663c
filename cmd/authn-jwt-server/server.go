package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	authnjwt "github.com/ggoodman/authn-jwt"
	"github.com/ggoodman/authn-jwt/auth"
	"github.com/ggoodman/authn-jwt/internal/config"
	"github.com/ggoodman/authn-jwt/internal/logctx"
	"github.com/ggoodman/authn-jwt/internal/metrics"
	"github.com/ggoodman/authn-jwt/oidcbackend"
	"github.com/ggoodman/authn-jwt/plugin"
	"github.com/ggoodman/authn-jwt/storage"
	"github.com/ggoodman/authn-jwt/storage/redis"
)

// UserHeader carries the authenticated subject to the upstream. Any value
// sent by the client is removed first.
const UserHeader = "X-Authenticated-User"

type server struct {
	log      *slog.Logger
	host     *plugin.Host
	registry *prometheus.Registry
	upstream http.Handler
	metrics  string
	store    storage.Storage
}

func newServer(ctx context.Context, log *slog.Logger, cfg serverConfig) (*server, error) {
	s := &server{
		log:      log,
		registry: prometheus.NewRegistry(),
		metrics:  cfg.MetricsPath,
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []authnjwt.Option{
		authnjwt.WithLogger(log),
		authnjwt.WithMetrics(metrics.New(s.registry)),
		authnjwt.WithConfigSource(config.Source(cfg.ConfigFile)),
		authnjwt.WithKeyCache(cfg.KeyCache),
		authnjwt.WithMaxTokenLen(cfg.MaxTokenLen),
	}

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st, err := redis.New(redis.Config{Client: client, KeyPrefix: cfg.RedisKeyPrefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		s.store = st
		opts = append(opts, authnjwt.WithRevocationStore(st))
	}

	if cfg.OIDCIssuer != "" {
		b, err := oidcbackend.New(ctx, oidcbackend.Config{
			Issuer:    cfg.OIDCIssuer,
			Audiences: cfg.OIDCAudiences,
			JWKSURI:   cfg.OIDCJWKSURI,
			Leeway:    cfg.OIDCLeeway,
		}, oidcbackend.WithLogger(log))
		if err != nil {
			s.closeStore()
			return nil, err
		}
		opts = append(opts, authnjwt.WithBackend(oidcbackend.Name, b))
	}

	if cfg.Upstream != "" {
		u, err := url.Parse(cfg.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			s.closeStore()
			return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
		}
		s.upstream = httputil.NewSingleHostReverseProxy(u)
	} else {
		s.upstream = http.HandlerFunc(echo)
	}

	s.host = plugin.NewHost(log)
	mod := authnjwt.New(opts...)
	if err := s.host.Load(mod.PluginInit); err != nil {
		s.closeStore()
		return nil, err
	}
	if err := s.host.Start(ctx); err != nil {
		s.closeStore()
		return nil, err
	}
	return s, nil
}

// Handler serves metrics directly and everything else through the plugin
// host.
func (s *server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.metrics != "" {
		mux.Handle(s.metrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	mux.Handle("/", s.host.Handler(forwardUser(s.upstream)))
	return withRequestData(mux)
}

func (s *server) Reload(ctx context.Context) error { return s.host.Reload(ctx) }

func (s *server) Close() error {
	err := s.host.Close()
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	return err
}

func (s *server) closeStore() {
	if s.store != nil {
		_ = s.store.Close()
	}
}

func withRequestData(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rd := logctx.RequestDataFrom(r)
		w.Header().Set(logctx.RequestIDHeader, rd.RequestID)
		next.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), rd)))
	})
}

func forwardUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(UserHeader)
		if ui, ok := auth.UserInfoFromContext(r.Context()); ok && ui.UserID() != "" {
			r.Header.Set(UserHeader, ui.UserID())
		}
		next.ServeHTTP(w, r)
	})
}

// echo reports who the caller authenticated as. Used when no upstream is
// configured.
func echo(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Path          string         `json:"path"`
		Authenticated bool           `json:"authenticated"`
		User          string         `json:"user,omitempty"`
		Claims        map[string]any `json:"claims,omitempty"`
	}{Path: r.URL.Path}
	if ui, ok := auth.UserInfoFromContext(r.Context()); ok {
		resp.Authenticated = true
		resp.User = ui.UserID()
		_ = ui.Claims(&resp.Claims)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
