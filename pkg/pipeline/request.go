// Package pipeline wraps every storefront API call in an ordered chain of
// middleware: bearer-token injection, request and response schema checks,
// refresh-on-401 recovery and error normalization.
package pipeline

import (
	"context"
	"net/http"
	"net/textproto"
)

// Request is one outgoing API call. Middleware never mutates a Request it
// received; it derives a new one with Clone or WithHeader.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any
}

// Clone returns a copy with its own header map keyed by canonical names, so a
// later Set replaces a caller's "authorization" instead of adding a second
// entry. The body is shared and must be treated as read-only.
func (request Request) Clone() Request {
	clone := request
	clone.Header = make(http.Header, len(request.Header))
	for key, values := range request.Header {
		canonicalKey := textproto.CanonicalMIMEHeaderKey(key)
		for _, value := range values {
			clone.Header.Add(canonicalKey, value)
		}
	}
	return clone
}

// WithHeader returns a copy with key set to value, replacing earlier values.
func (request Request) WithHeader(key string, value string) Request {
	clone := request.Clone()
	clone.Header.Set(key, value)
	return clone
}

// Response is a successful transport result.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Handler sends a request and returns its response.
type Handler func(ctx context.Context, request Request) (Response, error)

// Middleware wraps a Handler with additional behavior.
type Middleware func(next Handler) Handler

// Chain wraps handler so that middlewares[0] runs first.
func Chain(handler Handler, middlewares ...Middleware) Handler {
	for index := len(middlewares) - 1; index >= 0; index-- {
		handler = middlewares[index](handler)
	}
	return handler
}
