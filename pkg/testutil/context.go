package testutil

import (
	"context"
	"net/http"

	"borderhist/internal/platform/middleware"
)

// WithSubject adds an authenticated subject to the request context,
// simulating what the auth middleware does for a valid bearer token.
func WithSubject(req *http.Request, subject string) *http.Request {
	if subject == "" {
		return req
	}
	ctx := context.WithValue(req.Context(), middleware.ContextKeySubject, subject)
	return req.WithContext(ctx)
}

// WithRequestID adds a request ID to the request context.
func WithRequestID(req *http.Request, id string) *http.Request {
	if id == "" {
		return req
	}
	ctx := context.WithValue(req.Context(), middleware.ContextKeyRequestID, id)
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
