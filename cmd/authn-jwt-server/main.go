// Command authn-jwt-server is an authenticating reverse proxy: requests that
// match the scope configuration must carry a valid bearer JWT before they
// reach the upstream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/ggoodman/authn-jwt/internal/config"
	"github.com/ggoodman/authn-jwt/internal/logctx"
)

// serverConfig is populated from the environment.
type serverConfig struct {
	Addr        string `env:"AUTHN_ADDR,default=127.0.0.1:8080"`
	ConfigFile  string `env:"AUTHN_CONFIG,default=/etc/authn-jwt/config.yaml"`
	Upstream    string `env:"AUTHN_UPSTREAM"`
	LogLevel    string `env:"AUTHN_LOG_LEVEL,default=info"`
	MetricsPath string `env:"AUTHN_METRICS_PATH,default=/metrics"`
	KeyCache    bool   `env:"AUTHN_KEY_CACHE,default=true"`
	MaxTokenLen int    `env:"AUTHN_MAX_TOKEN_LEN,default=2047"`

	// Revocation denylist shared through Redis. ENV: REDIS_ADDR
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisKeyPrefix string `env:"AUTHN_REDIS_PREFIX,default=authn:storage:"`

	// Optional "oidc" backend.
	OIDCIssuer    string        `env:"OIDC_ISSUER"`
	OIDCAudiences []string      `env:"OIDC_AUDIENCES"`
	OIDCJWKSURI   string        `env:"OIDC_JWKS_URI"`
	OIDCLeeway    time.Duration `env:"OIDC_LEEWAY,default=60s"`
}

func main() {
	printSchema := flag.Bool("print-schema", false, "print the configuration file JSON Schema and exit")
	check := flag.Bool("check", false, "validate the configuration file and exit")
	flag.Parse()

	if *printSchema {
		b, err := config.Schema()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}

	var cfg serverConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		fmt.Fprintf(os.Stderr, "environment: %v\n", err)
		os.Exit(2)
	}

	if *check {
		if _, err := config.Load(cfg.ConfigFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("ok")
		return
	}

	log := defaultLogger(cfg.LogLevel)
	if err := run(log, cfg); err != nil {
		log.Error("server.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger, cfg serverConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, log, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := srv.Reload(ctx); err != nil {
					log.ErrorContext(ctx, "server.reload.fail", slog.String("err", err.Error()))
					continue
				}
				log.InfoContext(ctx, "server.reload.ok")
			}
		}
	}()

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.listen", slog.String("addr", cfg.Addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

func defaultLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})})
}
