package mockbackend

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

func TestStorefrontOrigins(t *testing.T) {
	t.Parallel()

	sanitized, err := storefrontOrigins(zaptest.NewLogger(t), []string{"https://shop.example.com/", " http://localhost:4200", "https://shop.example.com", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sanitized) != 2 || sanitized[0] != "http://localhost:4200" || sanitized[1] != "https://shop.example.com" {
		t.Fatalf("unexpected origins %v", sanitized)
	}

	if !isLoopbackOrigin("http://127.0.0.1:8080") || isLoopbackOrigin("http://shop.example.com") {
		t.Fatalf("loopback detection is wrong")
	}

	testCases := []struct {
		name     string
		origins  []string
		expected error
	}{
		{name: "empty", origins: []string{" "}, expected: errNoCORSOrigins},
		{name: "path", origins: []string{"https://shop.example.com/app"}, expected: errMalformedOrigin},
		{name: "scheme", origins: []string{"ftp://shop.example.com"}, expected: errMalformedOrigin},
		{name: "bare host", origins: []string{"shop.example.com"}, expected: errMalformedOrigin},
		{name: "query", origins: []string{"https://shop.example.com?next=1"}, expected: errMalformedOrigin},
	}
	for _, testCase := range testCases {
		if _, err := storefrontOrigins(zaptest.NewLogger(t), testCase.origins); !errors.Is(err, testCase.expected) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
		}
	}
}

func TestServerAnswersPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	server, err := NewServer(Config{
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:4200"},
		Logger:         zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	request := httptest.NewRequest(http.MethodOptions, "/api/sweets", nil)
	request.Header.Set("Origin", "http://localhost:4200")
	request.Header.Set("Access-Control-Request-Method", http.MethodGet)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Header().Get("Access-Control-Allow-Origin") != "http://localhost:4200" {
		t.Fatalf("expected allow origin header, got %v", recorder.Header())
	}

	if _, err := NewServer(Config{SigningKey: []byte("k"), AllowedOrigins: []string{"not a url"}}); err == nil {
		t.Fatalf("expected invalid origin to fail server construction")
	}
}
