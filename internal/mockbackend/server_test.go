package mockbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type controllableClock struct {
	mutex   sync.Mutex
	current time.Time
}

func (clock *controllableClock) Now() time.Time {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	return clock.current
}

func (clock *controllableClock) Advance(duration time.Duration) {
	clock.mutex.Lock()
	defer clock.mutex.Unlock()
	clock.current = clock.current.Add(duration)
}

type testEnvelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	ErrorCode  string          `json:"errorCode"`
	Errors     []fieldError    `json:"errors"`
	Data       json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Server, *controllableClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &controllableClock{current: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	server, err := NewServer(Config{
		SigningKey: []byte("test-signing-key"),
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
		Clock:      clock,
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, clock
}

func call(t *testing.T, server *Server, method string, path string, accessToken string, body any) (int, testEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	var envelope testEnvelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("%s %s: decode envelope %q: %v", method, path, recorder.Body.String(), err)
	}
	return recorder.Code, envelope
}

func registerAndLogin(t *testing.T, server *Server) loginPayload {
	t.Helper()
	status, _ := call(t, server, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Asha Rao", "email": "asha@example.com", "password": "Sup3r$ecret",
	})
	if status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", status)
	}
	status, envelope := call(t, server, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "asha@example.com", "password": "Sup3r$ecret",
	})
	if status != http.StatusOK || !envelope.Success {
		t.Fatalf("login: expected 200, got %d %+v", status, envelope)
	}
	var payload loginPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	return payload
}

func TestNewServerRequiresSigningKey(t *testing.T) {
	t.Parallel()

	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("expected missing signing key error")
	}
}

func TestLoginIssuesTokensAndProfile(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	if payload.AccessToken == "" || payload.RefreshToken == "" {
		t.Fatalf("expected both tokens, got %+v", payload)
	}
	if payload.User.ID != 1 || payload.User.Role != RoleCustomer || payload.User.Email != "asha@example.com" {
		t.Fatalf("unexpected user payload %+v", payload.User)
	}

	status, envelope := call(t, server, http.MethodGet, "/api/auth/me", payload.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", status)
	}
	var profile userPayload
	if err := json.Unmarshal(envelope.Data, &profile); err != nil || profile.Name != "Asha Rao" {
		t.Fatalf("unexpected profile %+v (%v)", profile, err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	server, _ := newTestServer(t)
	registerAndLogin(t, server)

	status, envelope := call(t, server, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "asha@example.com", "password": "wrong-password",
	})
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeInvalidCredentials || envelope.Success {
		t.Fatalf("expected invalid credentials envelope, got %d %+v", status, envelope)
	}
	if envelope.StatusCode != http.StatusUnauthorized || envelope.Errors == nil {
		t.Fatalf("failure envelope must carry statusCode and errors, got %+v", envelope)
	}
}

func TestRegisterReportsFieldErrors(t *testing.T) {
	server, _ := newTestServer(t)

	status, envelope := call(t, server, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Asha", "email": "not-an-email", "password": "short", "role": "owner",
	})
	if status != http.StatusBadRequest || envelope.ErrorCode != codeValidation {
		t.Fatalf("expected validation failure, got %d %+v", status, envelope)
	}
	messages := map[string]string{}
	for _, item := range envelope.Errors {
		messages[item.Field] = item.Message
	}
	expected := map[string]string{
		"email":    "Invalid email format",
		"password": "password must be at least 8 characters",
		"role":     "role must be one of: customer admin",
	}
	for field, message := range expected {
		if messages[field] != message {
			t.Fatalf("field %s: expected %q, got %q (all: %v)", field, message, messages[field], messages)
		}
	}

	registerAndLogin(t, server)
	status, envelope = call(t, server, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Asha", "email": "ASHA@example.com", "password": "Sup3r$ecret",
	})
	if status != http.StatusConflict || envelope.ErrorCode != codeUserExists {
		t.Fatalf("expected duplicate email conflict, got %d %+v", status, envelope)
	}
}

func TestExpiredAccessTokenRefreshes(t *testing.T) {
	server, clock := newTestServer(t)
	payload := registerAndLogin(t, server)

	clock.Advance(2 * time.Minute)
	status, envelope := call(t, server, http.MethodGet, "/api/sweets", payload.AccessToken, nil)
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeTokenExpired {
		t.Fatalf("expected expired token, got %d %+v", status, envelope)
	}

	status, envelope = call(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": payload.RefreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d %+v", status, envelope)
	}
	var refreshed struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(envelope.Data, &refreshed); err != nil || refreshed.AccessToken == "" {
		t.Fatalf("expected new access token, got %s (%v)", envelope.Data, err)
	}

	status, _ = call(t, server, http.MethodGet, "/api/sweets", refreshed.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("expected refreshed token to work, got %d", status)
	}
}

func TestRefreshRejectsUnknownAndExpiredTokens(t *testing.T) {
	server, clock := newTestServer(t)
	payload := registerAndLogin(t, server)

	status, envelope := call(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": "unknown"})
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeTokenInvalid {
		t.Fatalf("expected invalid refresh token, got %d %+v", status, envelope)
	}
	status, envelope = call(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]string{})
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeTokenMissing {
		t.Fatalf("expected missing refresh token, got %d %+v", status, envelope)
	}

	clock.Advance(2 * time.Hour)
	status, envelope = call(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": payload.RefreshToken})
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeTokenExpired {
		t.Fatalf("expected expired refresh token, got %d %+v", status, envelope)
	}
}

func TestLogoutRevokesRefreshTokens(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	status, envelope := call(t, server, http.MethodPost, "/api/auth/logout", payload.AccessToken, map[string]string{})
	if status != http.StatusOK || string(envelope.Data) != "null" {
		t.Fatalf("logout: expected 200 with null data, got %d %s", status, envelope.Data)
	}
	status, envelope = call(t, server, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": payload.RefreshToken})
	if status != http.StatusUnauthorized || envelope.ErrorCode != codeTokenInvalid {
		t.Fatalf("expected revoked refresh token, got %d %+v", status, envelope)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	server, _ := newTestServer(t)

	testCases := []struct {
		name     string
		token    string
		expected string
	}{
		{name: "missing", token: "", expected: codeTokenMissing},
		{name: "garbage", token: "garbage", expected: codeTokenInvalid},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodGet, "/api/sweets", testCase.token, nil)
		if status != http.StatusUnauthorized || envelope.ErrorCode != testCase.expected {
			t.Fatalf("%s: expected %s, got %d %+v", testCase.name, testCase.expected, status, envelope)
		}
	}
}

func TestListSweetsPagesAndFilters(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	testCases := []struct {
		name          string
		path          string
		expectedNames []string
		expectedTotal int
		hasNext       bool
	}{
		{name: "default", path: "/api/sweets", expectedNames: []string{"Dark Truffle", "Milk Bar", "Sour Worms", "Peppermint Swirl", "Gingerbread"}, expectedTotal: 5},
		{name: "paged", path: "/api/sweets?page=1&limit=2", expectedNames: []string{"Dark Truffle", "Milk Bar"}, expectedTotal: 5, hasNext: true},
		{name: "category", path: "/api/sweets?category=candy", expectedNames: []string{"Sour Worms", "Peppermint Swirl"}, expectedTotal: 2},
		{name: "in stock sorted by price", path: "/api/sweets?inStock=true&sortBy=price&sortOrder=desc&category=Candy", expectedNames: []string{"Peppermint Swirl"}, expectedTotal: 1},
		{name: "price range", path: "/api/sweets?minPrice=2&maxPrice=4", expectedNames: []string{"Milk Bar", "Gingerbread"}, expectedTotal: 2},
		{name: "past last page", path: "/api/sweets?page=9", expectedNames: []string{}, expectedTotal: 5},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodGet, testCase.path, payload.AccessToken, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", testCase.name, status)
		}
		var listing sweetListPayload
		if err := json.Unmarshal(envelope.Data, &listing); err != nil {
			t.Fatalf("%s: decode listing: %v", testCase.name, err)
		}
		names := make([]string, 0, len(listing.Items))
		for _, sweet := range listing.Items {
			names = append(names, sweet.Name)
		}
		if len(names) != len(testCase.expectedNames) {
			t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectedNames, names)
		}
		for index := range names {
			if names[index] != testCase.expectedNames[index] {
				t.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expectedNames, names)
			}
		}
		if listing.Total != testCase.expectedTotal || listing.Pagination.HasNextPage != testCase.hasNext {
			t.Fatalf("%s: unexpected pagination %+v total=%d", testCase.name, listing.Pagination, listing.Total)
		}
	}
}

func TestPurchaseSweet(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	status, envelope := call(t, server, http.MethodPost, "/api/sweets/1/purchase", payload.AccessToken, map[string]int{"quantity": 3})
	if status != http.StatusCreated {
		t.Fatalf("purchase: expected 201, got %d %+v", status, envelope)
	}
	var purchase Purchase
	if err := json.Unmarshal(envelope.Data, &purchase); err != nil || purchase.TotalPrice != 13.5 || purchase.UserID != payload.User.ID {
		t.Fatalf("unexpected purchase %+v (%v)", purchase, err)
	}

	testCases := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedCode   string
	}{
		{name: "sold out", path: "/api/sweets/3/purchase", body: map[string]int{"quantity": 1}, expectedStatus: http.StatusUnprocessableEntity, expectedCode: codeInsufficientStock},
		{name: "unknown sweet", path: "/api/sweets/99/purchase", body: map[string]int{"quantity": 1}, expectedStatus: http.StatusNotFound, expectedCode: codeNotFound},
		{name: "zero quantity", path: "/api/sweets/1/purchase", body: map[string]int{"quantity": 0}, expectedStatus: http.StatusBadRequest, expectedCode: codeValidation},
		{name: "bad id", path: "/api/sweets/abc/purchase", body: map[string]int{"quantity": 1}, expectedStatus: http.StatusBadRequest, expectedCode: codeValidation},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodPost, testCase.path, payload.AccessToken, testCase.body)
		if status != testCase.expectedStatus || envelope.ErrorCode != testCase.expectedCode {
			t.Fatalf("%s: expected %d %s, got %d %+v", testCase.name, testCase.expectedStatus, testCase.expectedCode, status, envelope)
		}
	}
}

func TestCategoryListings(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	testCases := []struct {
		path          string
		expectedCount int
	}{
		{path: "/api/sweet/category", expectedCount: 3},
		{path: "/api/sweet/category/active/list", expectedCount: 2},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodGet, testCase.path, payload.AccessToken, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", testCase.path, status)
		}
		var categories []Category
		if err := json.Unmarshal(envelope.Data, &categories); err != nil || len(categories) != testCase.expectedCount {
			t.Fatalf("%s: expected %d categories, got %+v (%v)", testCase.path, testCase.expectedCount, categories, err)
		}
	}
}

func TestSearchSweets(t *testing.T) {
	server, _ := newTestServer(t)
	payload := registerAndLogin(t, server)

	testCases := []struct {
		name          string
		path          string
		expectedNames []string
	}{
		{name: "name fragment", path: "/api/sweets/search?q=bar", expectedNames: []string{"Milk Bar"}},
		{name: "category in stock", path: "/api/sweets/search?category=Candy&inStock=true", expectedNames: []string{"Peppermint Swirl"}},
		{name: "price window", path: "/api/sweets/search?minPrice=2&maxPrice=5", expectedNames: []string{"Dark Truffle", "Milk Bar", "Gingerbread"}},
		{name: "no match", path: "/api/sweets/search?q=licorice", expectedNames: []string{}},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodGet, testCase.path, payload.AccessToken, nil)
		if status != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", testCase.name, status)
		}
		var sweets []Sweet
		if err := json.Unmarshal(envelope.Data, &sweets); err != nil {
			t.Fatalf("%s: decode sweets: %v", testCase.name, err)
		}
		if len(sweets) != len(testCase.expectedNames) {
			t.Fatalf("%s: expected %v, got %+v", testCase.name, testCase.expectedNames, sweets)
		}
		for index, sweet := range sweets {
			if sweet.Name != testCase.expectedNames[index] {
				t.Fatalf("%s: expected %v, got %+v", testCase.name, testCase.expectedNames, sweets)
			}
		}
	}
}

func TestPurchaseHistoryAndUserListing(t *testing.T) {
	server, _ := newTestServer(t)
	customer := registerAndLogin(t, server)
	admin := loginAdmin(t, server)

	if status, _ := call(t, server, http.MethodPost, "/api/sweets/1/purchase", customer.AccessToken, map[string]int{"quantity": 2}); status != http.StatusCreated {
		t.Fatalf("purchase: expected 201, got %d", status)
	}

	testCases := []struct {
		name           string
		method         string
		path           string
		accessToken    string
		expectedStatus int
		expectedCode   string
		expectedCount  int
	}{
		{name: "own history", method: http.MethodGet, path: "/api/purchases/user/1", accessToken: customer.AccessToken, expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "other history as customer", method: http.MethodGet, path: "/api/purchases/user/2", accessToken: customer.AccessToken, expectedStatus: http.StatusForbidden, expectedCode: codeForbidden},
		{name: "any history as admin", method: http.MethodGet, path: "/api/purchases/user/1", accessToken: admin.AccessToken, expectedStatus: http.StatusOK, expectedCount: 1},
		{name: "empty history", method: http.MethodGet, path: "/api/purchases/user/2", accessToken: admin.AccessToken, expectedStatus: http.StatusOK, expectedCount: 0},
		{name: "bad user id", method: http.MethodGet, path: "/api/purchases/user/abc", accessToken: admin.AccessToken, expectedStatus: http.StatusBadRequest, expectedCode: codeValidation},
		{name: "users as customer", method: http.MethodGet, path: "/api/users", accessToken: customer.AccessToken, expectedStatus: http.StatusForbidden, expectedCode: codeForbidden},
		{name: "users as admin", method: http.MethodGet, path: "/api/users", accessToken: admin.AccessToken, expectedStatus: http.StatusOK, expectedCount: 2},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, testCase.method, testCase.path, testCase.accessToken, nil)
		if status != testCase.expectedStatus || envelope.ErrorCode != testCase.expectedCode {
			t.Fatalf("%s: expected %d %q, got %d %+v", testCase.name, testCase.expectedStatus, testCase.expectedCode, status, envelope)
		}
		if status != http.StatusOK {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(envelope.Data, &items); err != nil || len(items) != testCase.expectedCount {
			t.Fatalf("%s: expected %d items, got %s (%v)", testCase.name, testCase.expectedCount, envelope.Data, err)
		}
	}
}

func loginAdmin(t *testing.T, server *Server) loginPayload {
	t.Helper()
	if _, err := server.Users().Register(context.Background(), "Ravi Iyer", "ravi@example.com", "Adm1n$ecret", RoleAdmin); err != nil {
		t.Fatalf("register admin: %v", err)
	}
	status, envelope := call(t, server, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "ravi@example.com", "password": "Adm1n$ecret"})
	if status != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", status)
	}
	var admin loginPayload
	if err := json.Unmarshal(envelope.Data, &admin); err != nil {
		t.Fatalf("decode admin login: %v", err)
	}
	return admin
}

func TestRestockRequiresAdmin(t *testing.T) {
	server, _ := newTestServer(t)
	customer := registerAndLogin(t, server)

	status, envelope := call(t, server, http.MethodPost, "/api/sweets/3/restock", customer.AccessToken, map[string]int{"quantity": 5})
	if status != http.StatusForbidden || envelope.ErrorCode != "FORBIDDEN" {
		t.Fatalf("expected 403 FORBIDDEN for a customer, got %d %+v", status, envelope)
	}

	admin := loginAdmin(t, server)

	testCases := []struct {
		name           string
		path           string
		body           any
		expectedStatus int
		expectedCode   string
	}{
		{name: "restocks sold-out sweet", path: "/api/sweets/3/restock", body: map[string]int{"quantity": 5}, expectedStatus: http.StatusOK},
		{name: "unknown sweet", path: "/api/sweets/99/restock", body: map[string]int{"quantity": 5}, expectedStatus: http.StatusNotFound, expectedCode: "NOT_FOUND"},
		{name: "zero quantity", path: "/api/sweets/3/restock", body: map[string]int{"quantity": 0}, expectedStatus: http.StatusBadRequest, expectedCode: "VALIDATION_ERROR"},
	}
	for _, testCase := range testCases {
		status, envelope := call(t, server, http.MethodPost, testCase.path, admin.AccessToken, testCase.body)
		if status != testCase.expectedStatus || envelope.ErrorCode != testCase.expectedCode {
			t.Fatalf("%s: expected %d %q, got %d %+v", testCase.name, testCase.expectedStatus, testCase.expectedCode, status, envelope)
		}
	}

	var restocked Sweet
	for _, sweet := range server.Catalog().ListSweets(SweetQuery{Name: "Sour"}).Items {
		restocked = sweet
	}
	if restocked.Quantity != 5 {
		t.Fatalf("expected restocked quantity 5, got %+v", restocked)
	}
}
