// Package route dispatches requests to the handler registered under the
// longest URL-path prefix that matches the request path.
package route

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"
)

// Root is the catch-all prefix every router carries.
const Root = "/"

type ctxKey int

const (
	prefixKey ctxKey = iota
	suffixKey
)

// Route binds a path prefix to the handler that serves it.
type Route struct {
	Prefix  string
	Handler http.Handler
}

// Router holds the registered routes. It is built once at startup and is
// read-only while serving.
type Router struct {
	routes map[string]http.Handler
	// sorted is the table longest prefix first, rebuilt on every Handle.
	sorted []Route
}

// New returns a router with the catch-all prefix bound to a not-found
// handler, so every path matches something even before "/" is overridden.
func New() *Router {
	rt := &Router{
		routes: map[string]http.Handler{Root: http.NotFoundHandler()},
	}
	rt.reindex()
	return rt
}

// Handle binds prefix to h. Registering the same prefix twice replaces the
// earlier handler.
func (rt *Router) Handle(prefix string, h http.Handler) {
	if prefix == "" {
		prefix = Root
	}
	rt.routes[prefix] = h
	rt.reindex()
}

// HandleFunc is Handle for plain functions.
func (rt *Router) HandleFunc(prefix string, fn func(http.ResponseWriter, *http.Request)) {
	rt.Handle(prefix, http.HandlerFunc(fn))
}

// reindex orders the table longest prefix first. Equal-length prefixes are
// ordered lexically so the result is deterministic.
func (rt *Router) reindex() {
	out := make([]Route, 0, len(rt.routes))
	for p, h := range rt.routes {
		out = append(out, Route{Prefix: p, Handler: h})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Prefix) != len(out[j].Prefix) {
			return len(out[i].Prefix) > len(out[j].Prefix)
		}
		return out[i].Prefix < out[j].Prefix
	})
	rt.sorted = out
}

// Routes returns a copy of the route table ordered longest prefix first.
func (rt *Router) Routes() []Route {
	return append([]Route(nil), rt.sorted...)
}

// Match selects the route with the longest prefix of path and returns it
// together with path minus that prefix.
func (rt *Router) Match(path string) (Route, string) {
	for _, r := range rt.sorted {
		if strings.HasPrefix(path, r.Prefix) {
			return r, path[len(r.Prefix):]
		}
	}
	// Only reachable for paths that don't start with "/", e.g. "*".
	return Route{Prefix: Root, Handler: rt.routes[Root]}, path
}

// Build mounts the table on a gorilla/mux router. mux tries routes in
// registration order, so registering longest prefixes first makes it select
// exactly what Match selects.
func (rt *Router) Build() *mux.Router {
	r := mux.NewRouter()
	// Path cleaning would turn "/../x" into a redirect; the handlers decide.
	r.SkipClean(true)

	for _, rte := range rt.sorted {
		r.PathPrefix(rte.Prefix).Handler(bind(rte))
	}
	r.NotFoundHandler = bind(Route{Prefix: "", Handler: rt.routes[Root]})
	return r
}

func bind(rte Route) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), prefixKey, rte.Prefix)
		ctx = context.WithValue(ctx, suffixKey, strings.TrimPrefix(r.URL.Path, rte.Prefix))
		rte.Handler.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Prefix reports the prefix of the route that was selected for r.
func Prefix(r *http.Request) string {
	p, _ := r.Context().Value(prefixKey).(string)
	return p
}

// Suffix reports r's path with the matched prefix removed. Outside a routed
// request it is the whole path.
func Suffix(r *http.Request) string {
	if s, ok := r.Context().Value(suffixKey).(string); ok {
		return s
	}
	return r.URL.Path
}
