// Package routing implements the gateway's dispatch: an explicit ordered
// list of (predicate, handler) pairs evaluated in sequence, first match
// wins. Keeping the order visible in one slice makes the route semantics
// auditable and lets each route be unit-tested in isolation.
package routing

import (
	"net/http"
	"strings"
)

// Predicate decides whether a route handles a request.
type Predicate func(r *http.Request) bool

// Route pairs a predicate with its handler. Name appears in logs and
// metrics labels.
type Route struct {
	Name    string
	Match   Predicate
	Handler http.Handler
}

// Table dispatches requests across an ordered route list. The fallback
// handler runs when nothing matches.
type Table struct {
	routes   []Route
	fallback http.Handler
}

// NewTable builds a Table. fallback must not be nil.
func NewTable(routes []Route, fallback http.Handler) *Table {
	return &Table{routes: routes, fallback: fallback}
}

// ServeHTTP implements http.Handler: routes are tried in declaration
// order and the first match wins.
func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if route, ok := t.Lookup(r); ok {
		route.Handler.ServeHTTP(w, r)
		return
	}
	t.fallback.ServeHTTP(w, r)
}

// Lookup returns the first matching route without invoking it. Exposed
// for per-route tests and for middleware that needs the route name.
func (t *Table) Lookup(r *http.Request) (Route, bool) {
	for _, route := range t.routes {
		if route.Match(r) {
			return route, true
		}
	}
	return Route{}, false
}

// Method returns a predicate matching an HTTP method on any path.
func Method(method string) Predicate {
	return func(r *http.Request) bool {
		return r.Method == method
	}
}

// Exact returns a predicate matching a method and an exact path.
func Exact(method, path string) Predicate {
	return func(r *http.Request) bool {
		return r.Method == method && r.URL.Path == path
	}
}

// Path returns a predicate matching an exact path for any method.
func Path(path string) Predicate {
	return func(r *http.Request) bool {
		return r.URL.Path == path
	}
}

// Prefix returns a predicate matching any of the given path prefixes,
// with boundary enforcement (see MatchesPrefix).
func Prefix(prefixes ...string) Predicate {
	return func(r *http.Request) bool {
		for _, p := range prefixes {
			if MatchesPrefix(r.URL.Path, p) {
				return true
			}
		}
		return false
	}
}

// MatchesPrefix checks if path matches prefix with boundary enforcement.
// The path must either equal the prefix, the prefix must end with "/",
// or the character after the prefix in path must be "/".
func MatchesPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	if prefix[len(prefix)-1] == '/' {
		return true
	}
	return path[len(prefix)] == '/'
}
