package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Router registers handlers. Route-level middleware wraps in order, the
// first one outermost.
type Router interface {
	GET(path string, handler http.HandlerFunc, middlewares ...Middleware)
	POST(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PUT(path string, handler http.HandlerFunc, middlewares ...Middleware)
	PATCH(path string, handler http.HandlerFunc, middlewares ...Middleware)
	DELETE(path string, handler http.HandlerFunc, middlewares ...Middleware)

	// Group mounts routes under prefix with middleware for the whole group.
	Group(prefix string, fn func(Router), middlewares ...Middleware)
	Use(middlewares ...Middleware)
	With(middlewares ...Middleware) Router

	Handler() http.Handler
	Walk(fn func(method, path string, handler http.Handler) error) error
}

// Chain applies middlewares to handler, the first one outermost.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

type chiRouter struct {
	mux chi.Router
}

var _ Router = (*chiRouter)(nil)

// NewRouter returns a chi backed Router that cleans paths and resolves the
// client address from proxy headers.
func NewRouter() Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.CleanPath)
	r.Use(chimw.StripSlashes)
	return &chiRouter{mux: r}
}

func (r *chiRouter) GET(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Get(path, wrap(h, mws))
}

func (r *chiRouter) POST(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Post(path, wrap(h, mws))
}

func (r *chiRouter) PUT(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Put(path, wrap(h, mws))
}

func (r *chiRouter) PATCH(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Patch(path, wrap(h, mws))
}

func (r *chiRouter) DELETE(path string, h http.HandlerFunc, mws ...Middleware) {
	r.mux.Delete(path, wrap(h, mws))
}

func (r *chiRouter) Group(prefix string, fn func(Router), mws ...Middleware) {
	r.mux.Route(prefix, func(cr chi.Router) {
		for _, mw := range mws {
			cr.Use(mw)
		}
		fn(&chiRouter{mux: cr})
	})
}

func (r *chiRouter) Use(mws ...Middleware) {
	for _, mw := range mws {
		r.mux.Use(mw)
	}
}

func (r *chiRouter) With(mws ...Middleware) Router {
	chiMws := make([]func(http.Handler) http.Handler, len(mws))
	for i, mw := range mws {
		chiMws[i] = mw
	}
	return &chiRouter{mux: r.mux.With(chiMws...)}
}

func (r *chiRouter) Handler() http.Handler {
	return r.mux
}

func (r *chiRouter) Walk(fn func(method, path string, handler http.Handler) error) error {
	return chi.Walk(r.mux, func(method, route string, handler http.Handler, _ ...func(http.Handler) http.Handler) error {
		if route == "/*" {
			return nil
		}
		return fn(method, route, handler)
	})
}

func wrap(h http.HandlerFunc, mws []Middleware) http.HandlerFunc {
	if len(mws) == 0 {
		return h
	}
	return Chain(h, mws...).ServeHTTP
}
