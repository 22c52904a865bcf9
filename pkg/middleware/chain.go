package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// Middleware wraps a handler with additional logic.
type Middleware func(http.Handler) http.Handler

// Chain holds an ordered list of middleware.
type Chain struct {
	stack []Middleware
}

// NewChain creates a new middleware chain.
func NewChain(mw ...Middleware) *Chain {
	return &Chain{stack: mw}
}

// Use appends middleware to the chain. The first added runs outermost.
func (c *Chain) Use(mw Middleware) {
	c.stack = append(c.stack, mw)
}

// Wrap wraps a handler with the middleware chain.
func (c *Chain) Wrap(handler http.Handler) http.Handler {
	wrapped := handler
	for i := len(c.stack) - 1; i >= 0; i-- {
		wrapped = c.stack[i](wrapped)
	}
	return wrapped
}

// WrapWithContext wraps a handler with the chain and seeds a fresh
// RequestContext before any middleware runs.
func (c *Chain) WrapWithContext(handler http.Handler) http.Handler {
	wrapped := c.Wrap(handler)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := NewRequestContext(uuid.NewString())
		wrapped.ServeHTTP(w, r.WithContext(WithRequestContext(r.Context(), rc)))
	})
}
