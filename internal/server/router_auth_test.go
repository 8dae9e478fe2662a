package server

import (
	"bytes"
	contextpkg "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/signin/internal/auth"
	"github.com/MarcoPoloResearchLab/signin/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubVerifier struct {
	claims auth.Claims
	err    error
	calls  int
	tokens []string
}

func (s *stubVerifier) Verify(_ contextpkg.Context, token string) (auth.Claims, error) {
	s.calls++
	s.tokens = append(s.tokens, token)
	return s.claims, s.err
}

// stubUserService keeps users in memory keyed by external id.
type stubUserService struct {
	byExternal map[string]*users.User
	byID       map[string]*users.User
	loginErr   error
	phoneErr   error
	calls      int
}

func newStubUserService() *stubUserService {
	return &stubUserService{
		byExternal: make(map[string]*users.User),
		byID:       make(map[string]*users.User),
	}
}

func (s *stubUserService) Login(_ contextpkg.Context, claims auth.Claims) (users.User, error) {
	s.calls++
	if s.loginErr != nil {
		return users.User{}, s.loginErr
	}
	user, ok := s.byExternal[claims.Subject]
	if !ok {
		user = &users.User{
			ID:         fmt.Sprintf("id-%d", len(s.byID)+1),
			ExternalID: claims.Subject,
			Provider:   "google",
		}
		s.byExternal[claims.Subject] = user
		s.byID[user.ID] = user
	}
	user.Email = claims.Email
	user.DisplayName = claims.DisplayName
	user.PictureURL = claims.PictureURL
	return *user, nil
}

func (s *stubUserService) AddPhone(_ contextpkg.Context, id string, phone *string) (*users.User, error) {
	s.calls++
	if s.phoneErr != nil {
		return nil, s.phoneErr
	}
	user, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	if phone != nil {
		value := *phone
		user.Phone = &value
	}
	copied := *user
	return &copied, nil
}

func newTestHandler(t *testing.T, verifier TokenVerifier, service UserService, logger *zap.Logger) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewHTTPHandler(Dependencies{
		Verifier:    verifier,
		UserService: service,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler
}

func postJSON(t *testing.T, handler http.Handler, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestLoginCreatesUserAndProjectsResponse(t *testing.T) {
	verifier := &stubVerifier{claims: auth.Claims{
		Subject:     "g-123",
		Email:       "a@x.com",
		DisplayName: "A",
		PictureURL:  "http://x/a.png",
	}}
	service := newStubUserService()
	handler := newTestHandler(t, verifier, service, zap.NewNop())

	recorder := postJSON(t, handler, "/auth/google/idtoken", `{"idToken":"token-1"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusOK)
	}

	body := decodeBody(t, recorder)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("expected user object, got %v", body)
	}
	if user["id"] != "id-1" || user["name"] != "A" || user["email"] != "a@x.com" || user["picture"] != "http://x/a.png" {
		t.Fatalf("unexpected user projection %v", user)
	}
	phone, present := user["phone"]
	if !present || phone != nil {
		t.Fatalf("expected explicit null phone, got %v (present %v)", phone, present)
	}
	if len(verifier.tokens) != 1 || verifier.tokens[0] != "token-1" {
		t.Fatalf("unexpected verified tokens %v", verifier.tokens)
	}

	verifier.claims.DisplayName = "A2"
	recorder = postJSON(t, handler, "/auth/google/idtoken", `{"idToken":"token-2"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status code on second login: %d", recorder.Code)
	}
	user = decodeBody(t, recorder)["user"].(map[string]any)
	if user["id"] != "id-1" || user["name"] != "A2" {
		t.Fatalf("expected same id with refreshed name, got %v", user)
	}
}

func TestLoginRejectsMissingToken(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "empty token", body: `{"idToken":""}`},
		{name: "null token", body: `{"idToken":null}`},
		{name: "false token", body: `{"idToken":false}`},
		{name: "zero token", body: `{"idToken":0}`},
		{name: "malformed json", body: `{"idToken":`},
		{name: "empty body", body: ``},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			verifier := &stubVerifier{}
			service := newStubUserService()
			handler := newTestHandler(t, verifier, service, zap.NewNop())

			recorder := postJSON(t, handler, "/auth/google/idtoken", testCase.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusBadRequest)
			}
			if decodeBody(t, recorder)["error"] != "Missing ID token" {
				t.Fatalf("unexpected error body %q", recorder.Body.String())
			}
			if verifier.calls != 0 || service.calls != 0 {
				t.Fatalf("expected no verification or store calls, got %d and %d", verifier.calls, service.calls)
			}
		})
	}
}

func TestLoginRejectsInvalidTokenAndLogsWarning(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	verifier := &stubVerifier{err: fmt.Errorf("%w: signature mismatch", auth.ErrInvalidToken)}
	service := newStubUserService()
	handler := newTestHandler(t, verifier, service, zap.New(core))

	recorder := postJSON(t, handler, "/auth/google/idtoken", `{"idToken":"forged"}`)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	if decodeBody(t, recorder)["error"] != "Invalid ID token" {
		t.Fatalf("unexpected error body %q", recorder.Body.String())
	}
	if service.calls != 0 {
		t.Fatalf("expected no store calls, got %d", service.calls)
	}

	entries := logs.FilterMessage("id token verification failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one verification log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %s", entry.Level)
	}
	hasCause := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrInvalidToken) {
			hasCause = true
			break
		}
	}
	if !hasCause {
		t.Fatalf("expected invalid token error context, got %v", entry.Context)
	}
}

func TestLoginSendsPresentNonEmptyTokensToVerifier(t *testing.T) {
	testCases := []struct {
		name  string
		body  string
		token string
	}{
		{name: "whitespace token", body: `{"idToken":"  "}`, token: "  "},
		{name: "numeric token", body: `{"idToken":123}`, token: "123"},
		{name: "object token", body: `{"idToken":{"raw":"x"}}`, token: `{"raw":"x"}`},
		{name: "true token", body: `{"idToken":true}`, token: "true"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			verifier := &stubVerifier{err: fmt.Errorf("%w: malformed", auth.ErrInvalidToken)}
			service := newStubUserService()
			handler := newTestHandler(t, verifier, service, zap.NewNop())

			recorder := postJSON(t, handler, "/auth/google/idtoken", testCase.body)
			if recorder.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
			}
			if decodeBody(t, recorder)["error"] != "Invalid ID token" {
				t.Fatalf("unexpected error body %q", recorder.Body.String())
			}
			if len(verifier.tokens) != 1 || verifier.tokens[0] != testCase.token {
				t.Fatalf("expected verifier to receive %q, got %v", testCase.token, verifier.tokens)
			}
			if service.calls != 0 {
				t.Fatalf("expected no store calls, got %d", service.calls)
			}
		})
	}
}

func TestLoginStoreFailureReturnsBareServerError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	verifier := &stubVerifier{claims: auth.Claims{Subject: "g-123"}}
	service := newStubUserService()
	service.loginErr = users.ErrDuplicateKey
	handler := newTestHandler(t, verifier, service, zap.New(core))

	recorder := postJSON(t, handler, "/auth/google/idtoken", `{"idToken":"token"}`)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusInternalServerError)
	}
	if recorder.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", recorder.Body.String())
	}
	if logs.FilterMessage("failed to persist user").Len() != 1 {
		t.Fatalf("expected store failure to be logged")
	}
}

func TestLoginRouteFollowsProviderName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := &stubVerifier{claims: auth.Claims{Subject: "kc-1"}}
	handler, err := NewHTTPHandler(Dependencies{
		Verifier:    verifier,
		UserService: newStubUserService(),
		Provider:    "keycloak",
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	if recorder := postJSON(t, handler, "/auth/keycloak/idtoken", `{"idToken":"t"}`); recorder.Code != http.StatusOK {
		t.Fatalf("expected provider route to succeed, got %d", recorder.Code)
	}
	if recorder := postJSON(t, handler, "/auth/google/idtoken", `{"idToken":"t"}`); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected default provider route to be absent, got %d", recorder.Code)
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{UserService: newStubUserService()}); !errors.Is(err, errMissingVerifier) {
		t.Fatalf("expected missing verifier error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Verifier: &stubVerifier{}}); !errors.Is(err, errMissingUserService) {
		t.Fatalf("expected missing user service error, got %v", err)
	}
}
