// Package plugin is the contract between request-pipeline modules and the
// host that runs them. A module fills a Plugin with callbacks at load time;
// the Host initializes it once, applies configuration, and runs its request
// hook as net/http middleware.
package plugin

import (
	"context"
	"fmt"
	"net/http"
)

// APIVersion is the callback contract version a Plugin must declare.
const APIVersion = 1

// HandlerResult tells the host how to proceed after a request hook.
type HandlerResult int

const (
	// HandlerGoOn passes the request to the next plugin or the final handler.
	HandlerGoOn HandlerResult = iota
	// HandlerFinished means the plugin has written the response.
	HandlerFinished
	// HandlerError ends the request with a server error. The host writes a
	// 500 unless the plugin already wrote a response.
	HandlerError
)

func (r HandlerResult) String() string {
	switch r {
	case HandlerGoOn:
		return "go_on"
	case HandlerFinished:
		return "finished"
	case HandlerError:
		return "error"
	default:
		return fmt.Sprintf("handler_result(%d)", int(r))
	}
}

// Plugin is the callback set of one module. Any callback may be nil.
type Plugin struct {
	Name    string
	Version int

	// Init runs once, before any configuration is applied.
	Init func(ctx context.Context) error
	// SetDefaults applies configuration. It runs after Init and again on
	// every reload.
	SetDefaults func(ctx context.Context) error
	// HandleURIClean runs for every request once the URI is normalized. It
	// may return a derived request carrying additional context.
	HandleURIClean func(w http.ResponseWriter, r *http.Request) (HandlerResult, *http.Request)
	// Cleanup runs once at shutdown.
	Cleanup func() error
}

// InitFunc fills in a Plugin.
type InitFunc func(p *Plugin) error

type handlerKey struct{}

// SetHandler records that the named module has claimed the request. Later
// modules that only act on unclaimed requests step aside.
func SetHandler(r *http.Request, name string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), handlerKey{}, name))
}

// Handler returns the module that claimed r, or "".
func Handler(r *http.Request) string {
	name, _ := r.Context().Value(handlerKey{}).(string)
	return name
}
