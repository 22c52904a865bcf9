// Package middleware provides the HTTP middleware chain for tunnel handlers.
package middleware

import (
	"context"
	"time"
)

// contextKey is a private type for context keys.
type contextKey int

const requestContextKey contextKey = iota

// RequestContext holds per-request metadata threaded through the chain.
type RequestContext struct {
	// Request identification
	RequestID string
	StartTime time.Time

	// Client information
	ClientIP string
	UserID   string

	// Tunnel routing (set by the tunnel handler once resolved)
	TunnelName string
	StepName   string

	// Results (populated after the handler runs)
	Status   int
	Duration time.Duration
}

// NewRequestContext creates a request context stamped with the start time.
func NewRequestContext(requestID string) *RequestContext {
	return &RequestContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// WithRequestContext adds the request context to the context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// GetRequestContext retrieves the request context, or nil when absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
		return rc
	}
	return nil
}
