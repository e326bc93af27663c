package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// ErrVersionMismatch is returned by Load for a plugin built against another
// callback contract.
var ErrVersionMismatch = errors.New("plugin: version mismatch")

// Host owns the loaded plugins and their lifecycle.
type Host struct {
	log *slog.Logger

	mu      sync.Mutex
	plugins []*Plugin
	// inited counts the leading plugins whose Init has run and whose
	// Cleanup is still owed.
	inited  int
	started bool
}

func NewHost(log *slog.Logger) *Host {
	if log == nil {
		log = slog.Default()
	}
	return &Host{log: log}
}

// Load runs init against a fresh Plugin and keeps it. Plugins run in load
// order.
func (h *Host) Load(init InitFunc) error {
	p := &Plugin{}
	if err := init(p); err != nil {
		return fmt.Errorf("plugin: init: %w", err)
	}
	if p.Name == "" {
		return errors.New("plugin: init did not set a name")
	}
	if p.Version != APIVersion {
		return fmt.Errorf("%w: %s declares %d, host supports %d", ErrVersionMismatch, p.Name, p.Version, APIVersion)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("plugin: cannot load %s after start", p.Name)
	}
	for _, q := range h.plugins {
		if q.Name == p.Name {
			return fmt.Errorf("plugin: %s already loaded", p.Name)
		}
	}
	h.plugins = append(h.plugins, p)
	return nil
}

// Start calls Init then SetDefaults on every plugin. If any step fails, the
// plugins already initialized are cleaned up in reverse order before Start
// returns, and a later Close does not clean them again.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("plugin: host already started")
	}
	for _, p := range h.plugins[h.inited:] {
		if p.Init != nil {
			if err := p.Init(ctx); err != nil {
				err = fmt.Errorf("plugin: %s init: %w", p.Name, err)
				return errors.Join(err, h.cleanup())
			}
		}
		h.inited++
	}
	if err := h.setDefaults(ctx); err != nil {
		return errors.Join(err, h.cleanup())
	}
	h.started = true
	return nil
}

// Reload re-applies configuration on every plugin.
func (h *Host) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return errors.New("plugin: host not started")
	}
	return h.setDefaults(ctx)
}

func (h *Host) setDefaults(ctx context.Context) error {
	for _, p := range h.plugins {
		if p.SetDefaults == nil {
			continue
		}
		if err := p.SetDefaults(ctx); err != nil {
			return fmt.Errorf("plugin: %s set defaults: %w", p.Name, err)
		}
	}
	return nil
}

// Close runs Cleanup on every initialized plugin in reverse load order.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	return h.cleanup()
}

// cleanup must be called with mu held.
func (h *Host) cleanup() error {
	var errs []error
	for i := h.inited - 1; i >= 0; i-- {
		p := h.plugins[i]
		if p.Cleanup == nil {
			continue
		}
		if err := p.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("plugin: %s cleanup: %w", p.Name, err))
		}
	}
	h.inited = 0
	return errors.Join(errs...)
}

// Handler runs every plugin's HandleURIClean in order before next.
func (h *Host) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		plugins := h.plugins
		h.mu.Unlock()

		rw := &trackingWriter{ResponseWriter: w}
		for _, p := range plugins {
			if p.HandleURIClean == nil {
				continue
			}
			res, nr := p.HandleURIClean(rw, r)
			if nr != nil {
				r = nr
			}
			switch res {
			case HandlerGoOn:
				continue
			case HandlerFinished:
				return
			default:
				h.log.ErrorContext(r.Context(), "plugin.handle.error", slog.String("plugin", p.Name), slog.String("result", res.String()))
				if !rw.wrote {
					http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
				return
			}
		}
		next.ServeHTTP(rw, r)
	})
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *trackingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func (t *trackingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		t.wrote = true
		f.Flush()
	}
}
