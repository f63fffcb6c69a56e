package schema

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Registry maps endpoint patterns to request and response schemas.
//
// A pattern is an optional HTTP method followed by a path, for example
// "POST /auth/login" or "/sweets/{id}/purchase". A pattern matches a request
// URL when its segments equal the trailing segments of the URL path; a
// "{name}" segment matches any single segment. The first registered match wins.
type Registry struct {
	mutex     sync.RWMutex
	requests  []route
	responses []route
}

type route struct {
	method   string
	segments []string
	schema   Schema
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterRequest binds a schema for outgoing bodies sent to pattern.
func (registry *Registry) RegisterRequest(pattern string, s Schema) *Registry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.requests = append(registry.requests, parseRoute(pattern, s))
	return registry
}

// RegisterResponse binds a schema for successful bodies returned by pattern.
func (registry *Registry) RegisterResponse(pattern string, s Schema) *Registry {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.responses = append(registry.responses, parseRoute(pattern, s))
	return registry
}

// RequestSchema returns the request schema registered for the method and URL.
func (registry *Registry) RequestSchema(method string, rawURL string) (Schema, bool) {
	if registry == nil {
		return nil, false
	}
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return lookup(registry.requests, method, rawURL)
}

// ResponseSchema returns the response schema registered for the method and URL.
func (registry *Registry) ResponseSchema(method string, rawURL string) (Schema, bool) {
	if registry == nil {
		return nil, false
	}
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()
	return lookup(registry.responses, method, rawURL)
}

func parseRoute(pattern string, s Schema) route {
	method, path := "", ""
	switch fields := strings.Fields(pattern); len(fields) {
	case 1:
		if isMethod(fields[0]) {
			method = strings.ToUpper(fields[0])
		} else {
			path = fields[0]
		}
	case 2:
		method, path = strings.ToUpper(fields[0]), fields[1]
	}
	segments := splitPath(path)
	if len(segments) == 0 {
		panic("schema.registry: pattern must contain a path: " + pattern)
	}
	if s == nil {
		panic("schema.registry: schema is required for " + pattern)
	}
	return route{method: method, segments: segments, schema: s}
}

func isMethod(token string) bool {
	switch strings.ToUpper(token) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

func lookup(routes []route, method string, rawURL string) (Schema, bool) {
	segments := splitPath(pathOf(rawURL))
	method = strings.ToUpper(method)
	for _, candidate := range routes {
		if candidate.method != "" && candidate.method != method {
			continue
		}
		if matchesTail(candidate.segments, segments) {
			return candidate.schema, true
		}
	}
	return nil, false
}

func matchesTail(pattern []string, segments []string) bool {
	if len(pattern) > len(segments) {
		return false
	}
	offset := len(segments) - len(pattern)
	for index, expectedSegment := range pattern {
		if strings.HasPrefix(expectedSegment, "{") && strings.HasSuffix(expectedSegment, "}") {
			continue
		}
		if segments[offset+index] != expectedSegment {
			return false
		}
	}
	return true
}

func pathOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		withoutQuery, _, _ := strings.Cut(rawURL, "?")
		return withoutQuery
	}
	return parsed.Path
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}
