package sessionvalidator

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type fixedClock struct {
	current time.Time
}

func (clock fixedClock) Now() time.Time {
	return clock.current
}

func mintToken(t *testing.T, signingKey []byte, issuer string, issuedAt time.Time, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, NewClaims(42, "Asha", "asha@example.com", "customer", issuer, issuedAt, ttl))
	result, err := token.SignedString(signingKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return result
}

func newTestValidator(t *testing.T, now time.Time) *Validator {
	t.Helper()
	validator, err := New(Config{
		SigningKey: []byte("secret-key"),
		Issuer:     "issuer",
		Clock:      fixedClock{current: now},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return validator
}

func TestNewValidatorRequiresConfiguration(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Issuer: "issuer"}); !errors.Is(err, ErrMissingSigningKey) {
		t.Fatalf("expected missing signing key error, got %v", err)
	}
	if _, err := New(Config{SigningKey: []byte("secret")}); !errors.Is(err, ErrMissingIssuer) {
		t.Fatalf("expected missing issuer error, got %v", err)
	}
	validator, err := New(Config{SigningKey: []byte("secret"), Issuer: "issuer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if validator.clock == nil {
		t.Fatalf("expected default clock to be set")
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, now)
	tokenValue := mintToken(t, []byte("secret-key"), "issuer", now, time.Minute)

	claims, validateErr := validator.ValidateToken(tokenValue)
	if validateErr != nil {
		t.Fatalf("unexpected validation error: %v", validateErr)
	}
	if claims.GetUserID() != 42 || claims.Email != "asha@example.com" || claims.GetRole() != "customer" {
		t.Fatalf("unexpected claims: %#v", claims)
	}
	if claims.Subject != "42" {
		t.Fatalf("expected subject 42, got %q", claims.Subject)
	}
	if !claims.GetExpiresAt().Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry: %v", claims.GetExpiresAt())
	}
}

func TestValidateTokenRejectsInvalidCases(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	tests := []struct {
		name      string
		tokenFunc func() string
		expectErr error
	}{
		{
			name:      "empty token",
			tokenFunc: func() string { return "" },
			expectErr: ErrMissingToken,
		},
		{
			name:      "garbage",
			tokenFunc: func() string { return "not-a-jwt" },
			expectErr: ErrInvalidToken,
		},
		{
			name: "bad signature",
			tokenFunc: func() string {
				return mintToken(t, []byte("other-key"), "issuer", now, time.Minute)
			},
			expectErr: ErrInvalidToken,
		},
		{
			name: "wrong issuer",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "other-issuer", now, time.Minute)
			},
			expectErr: ErrInvalidIssuer,
		},
		{
			name: "expired",
			tokenFunc: func() string {
				return mintToken(t, []byte("secret-key"), "issuer", now.Add(-2*time.Minute), time.Minute)
			},
			expectErr: ErrTokenExpired,
		},
	}

	validator := newTestValidator(t, now)
	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			_, validateErr := validator.ValidateToken(testCase.tokenFunc())
			if validateErr == nil || !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("expected %v, got %v", testCase.expectErr, validateErr)
			}
		})
	}
}

func TestValidateRequestReadsBearerHeader(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, now)
	tokenValue := mintToken(t, []byte("secret-key"), "issuer", now, time.Minute)

	testCases := []struct {
		name      string
		header    string
		expectErr error
	}{
		{name: "bearer", header: "Bearer " + tokenValue},
		{name: "lowercase scheme", header: "bearer " + tokenValue},
		{name: "missing header", header: "", expectErr: ErrMissingBearer},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", expectErr: ErrMissingBearer},
		{name: "bare scheme", header: "Bearer ", expectErr: ErrMissingBearer},
	}
	for _, testCase := range testCases {
		request := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if testCase.header != "" {
			request.Header.Set("Authorization", testCase.header)
		}
		claims, validateErr := validator.ValidateRequest(request)
		if testCase.expectErr != nil {
			if !errors.Is(validateErr, testCase.expectErr) {
				t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectErr, validateErr)
			}
			continue
		}
		if validateErr != nil || claims.GetUserID() != 42 {
			t.Fatalf("%s: unexpected result %v %v", testCase.name, claims, validateErr)
		}
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	tokenValue := mintToken(t, []byte("secret-key"), "issuer", now, time.Minute)
	validator := newTestValidator(t, now)

	var rejected error
	router := gin.New()
	router.Use(validator.GinMiddleware("claims", func(contextGin *gin.Context, err error) {
		rejected = err
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false})
	}))
	router.GET("/protected", func(contextGin *gin.Context) {
		claims, ok := ClaimsFromContext(contextGin, "claims")
		if !ok || claims.GetUserID() != 42 {
			t.Fatalf("claims missing from context")
		}
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/protected", nil)
	request.Header.Set("Authorization", "Bearer "+tokenValue)
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	if response.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.Code)
	}

	requestMissing := httptest.NewRequest(http.MethodGet, "/protected", nil)
	responseMissing := httptest.NewRecorder()
	router.ServeHTTP(responseMissing, requestMissing)
	if responseMissing.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing bearer, got %d", responseMissing.Code)
	}
	if !errors.Is(rejected, ErrMissingBearer) {
		t.Fatalf("expected rejection reason, got %v", rejected)
	}
}

func TestGinMiddlewareDefaultRejection(t *testing.T) {
	gin.SetMode(gin.TestMode)

	validator := newTestValidator(t, time.Unix(1700000000, 0).UTC())
	router := gin.New()
	router.Use(validator.GinMiddleware("", nil))
	router.GET("/protected", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	response := httptest.NewRecorder()
	router.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/protected", nil))
	if response.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", response.Code)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	now := time.Unix(1700000000, 0).UTC()
	validator := newTestValidator(t, now)
	customerToken := mintToken(t, []byte("secret-key"), "issuer", now, time.Minute)
	adminClaims := NewClaims(7, "Ravi", "ravi@example.com", "Admin", "issuer", now, time.Minute)
	adminToken, signErr := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims).SignedString([]byte("secret-key"))
	if signErr != nil {
		t.Fatalf("failed to sign token: %v", signErr)
	}

	var rejected error
	router := gin.New()
	router.POST("/restock",
		validator.GinMiddleware("claims", nil),
		RequireRole("claims", func(contextGin *gin.Context, err error) {
			rejected = err
			contextGin.AbortWithStatus(http.StatusForbidden)
		}, "admin"),
		func(contextGin *gin.Context) { contextGin.Status(http.StatusNoContent) },
	)
	router.POST("/unguarded", RequireRole("claims", nil, "admin"), func(contextGin *gin.Context) {
		contextGin.Status(http.StatusNoContent)
	})

	testCases := []struct {
		name           string
		path           string
		token          string
		expectedStatus int
		expectedErr    error
	}{
		{name: "admin admitted", path: "/restock", token: adminToken, expectedStatus: http.StatusNoContent},
		{name: "customer forbidden", path: "/restock", token: customerToken, expectedStatus: http.StatusForbidden, expectedErr: ErrForbiddenRole},
		{name: "no claims in context", path: "/unguarded", token: adminToken, expectedStatus: http.StatusForbidden},
	}
	for _, testCase := range testCases {
		rejected = nil
		request := httptest.NewRequest(http.MethodPost, testCase.path, nil)
		request.Header.Set("Authorization", "Bearer "+testCase.token)
		response := httptest.NewRecorder()
		router.ServeHTTP(response, request)
		if response.Code != testCase.expectedStatus {
			t.Fatalf("%s: expected %d, got %d", testCase.name, testCase.expectedStatus, response.Code)
		}
		if testCase.expectedErr != nil && !errors.Is(rejected, testCase.expectedErr) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectedErr, rejected)
		}
	}
}
