package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTransportTimeout = 30 * time.Second

// Transport performs a single network exchange.
type Transport interface {
	RoundTrip(ctx context.Context, request Request) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, request Request) (Response, error)

// RoundTrip calls transportFunc.
func (transportFunc TransportFunc) RoundTrip(ctx context.Context, request Request) (Response, error) {
	return transportFunc(ctx, request)
}

// TransportError reports a non-2xx response or a failed exchange. StatusCode
// is zero when no response was received.
type TransportError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Cause      error
}

func (transportError *TransportError) Error() string {
	if transportError.StatusCode == 0 {
		return fmt.Sprintf("transport.failure: %v", transportError.Cause)
	}
	return fmt.Sprintf("transport.status_%d", transportError.StatusCode)
}

func (transportError *TransportError) Unwrap() error {
	return transportError.Cause
}

// HTTPTransport sends requests with net/http against a base URL.
type HTTPTransport struct {
	baseURL *url.URL
	client  *http.Client
}

// NewHTTPTransport builds a transport rooted at baseURL. A nil client gets a
// default one with a 30 second timeout. The client's round tripper is wrapped
// with OpenTelemetry instrumentation.
func NewHTTPTransport(baseURL string, client *http.Client) (*HTTPTransport, error) {
	parsedURL, parseErr := url.Parse(strings.TrimSpace(baseURL))
	if parseErr != nil {
		return nil, fmt.Errorf("transport.base_url: %w", parseErr)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("transport.base_url: %q must be absolute", baseURL)
	}
	instrumented := &http.Client{Timeout: defaultTransportTimeout}
	if client != nil {
		copied := *client
		instrumented = &copied
	}
	roundTripper := instrumented.Transport
	if roundTripper == nil {
		roundTripper = http.DefaultTransport
	}
	instrumented.Transport = otelhttp.NewTransport(roundTripper)
	return &HTTPTransport{baseURL: parsedURL, client: instrumented}, nil
}

// RoundTrip implements Transport.
func (transport *HTTPTransport) RoundTrip(ctx context.Context, request Request) (Response, error) {
	target, resolveErr := transport.resolve(request.URL)
	if resolveErr != nil {
		return Response{}, &TransportError{Cause: resolveErr}
	}
	bodyReader, hasBody, encodeErr := encodeBody(request.Body)
	if encodeErr != nil {
		return Response{}, &TransportError{Cause: encodeErr}
	}
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	httpRequest, buildErr := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if buildErr != nil {
		return Response{}, &TransportError{Cause: buildErr}
	}
	for key, values := range request.Header {
		for _, value := range values {
			httpRequest.Header.Add(key, value)
		}
	}
	if hasBody && httpRequest.Header.Get("Content-Type") == "" {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if httpRequest.Header.Get("Accept") == "" {
		httpRequest.Header.Set("Accept", "application/json")
	}

	httpResponse, sendErr := transport.client.Do(httpRequest)
	if sendErr != nil {
		return Response{}, &TransportError{Cause: sendErr}
	}
	defer httpResponse.Body.Close()
	payload, readErr := io.ReadAll(httpResponse.Body)
	if readErr != nil {
		return Response{}, &TransportError{StatusCode: httpResponse.StatusCode, Header: httpResponse.Header, Cause: readErr}
	}
	if httpResponse.StatusCode < 200 || httpResponse.StatusCode > 299 {
		return Response{}, &TransportError{StatusCode: httpResponse.StatusCode, Header: httpResponse.Header, Body: payload}
	}
	return Response{StatusCode: httpResponse.StatusCode, Header: httpResponse.Header, Body: payload}, nil
}

func (transport *HTTPTransport) resolve(rawURL string) (string, error) {
	reference, parseErr := url.Parse(rawURL)
	if parseErr != nil {
		return "", fmt.Errorf("transport.url: %w", parseErr)
	}
	if reference.IsAbs() {
		return reference.String(), nil
	}
	target := *transport.baseURL
	target.Path = strings.TrimRight(transport.baseURL.Path, "/") + "/" + strings.TrimLeft(reference.Path, "/")
	target.RawPath = ""
	target.RawQuery = reference.RawQuery
	return target.String(), nil
}

func encodeBody(body any) (io.Reader, bool, error) {
	switch typed := body.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		if len(typed) == 0 {
			return nil, false, nil
		}
		return bytes.NewReader(typed), true, nil
	case json.RawMessage:
		if len(typed) == 0 {
			return nil, false, nil
		}
		return bytes.NewReader(typed), true, nil
	}
	encoded, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return nil, false, fmt.Errorf("transport.encode_body: %w", marshalErr)
	}
	return bytes.NewReader(encoded), true, nil
}
