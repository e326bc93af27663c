package scope

import (
	"net"
	"net/http"
	"strings"
)

// Predicate decides whether a configuration scope is active for a request.
type Predicate interface {
	Match(r *http.Request) bool
}

// PredicateFunc adapts a function to the Predicate interface.
type PredicateFunc func(r *http.Request) bool

func (f PredicateFunc) Match(r *http.Request) bool { return f(r) }

// Always matches every request.
func Always() Predicate {
	return PredicateFunc(func(*http.Request) bool { return true })
}

// Never matches no request.
func Never() Predicate {
	return PredicateFunc(func(*http.Request) bool { return false })
}

// Host matches requests whose host (without port) equals host, ignoring case.
func Host(host string) Predicate {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return PredicateFunc(func(r *http.Request) bool {
		return requestHost(r) == host
	})
}

// PathPrefix matches requests whose URL path starts with prefix.
func PathPrefix(prefix string) Predicate {
	return PredicateFunc(func(r *http.Request) bool {
		return r.URL != nil && strings.HasPrefix(r.URL.Path, prefix)
	})
}

// Method matches requests with the given HTTP method.
func Method(method string) Predicate {
	return PredicateFunc(func(r *http.Request) bool {
		return strings.EqualFold(r.Method, method)
	})
}

// All matches when every predicate matches. An empty All matches everything.
func All(preds ...Predicate) Predicate {
	return PredicateFunc(func(r *http.Request) bool {
		for _, p := range preds {
			if !p.Match(r) {
				return false
			}
		}
		return true
	})
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(r *http.Request) bool { return !p.Match(r) })
}

func requestHost(r *http.Request) string {
	h := r.Host
	if h == "" && r.URL != nil {
		h = r.URL.Host
	}
	if hostOnly, _, err := net.SplitHostPort(h); err == nil {
		h = hostOnly
	}
	return strings.ToLower(strings.TrimSuffix(h, "."))
}
