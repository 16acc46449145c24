package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hylla/shotboard/internal/adapters/server/auth"
	"github.com/hylla/shotboard/internal/adapters/server/common"
	"github.com/hylla/shotboard/internal/adapters/storage/memory"
	"github.com/hylla/shotboard/internal/app"
)

// newTestHandler composes the root handler over an in-memory store with header auth.
func newTestHandler(t *testing.T, ready func(context.Context) error) http.Handler {
	t.Helper()
	svc := app.NewService(memory.New(), func() time.Time {
		return time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	}, app.ServiceConfig{})
	handler, _, err := NewHandler(Config{}, Dependencies{
		Service:       common.NewAppServiceAdapter(svc),
		Authenticator: auth.NewHeaderAuthenticator(auth.HeaderConfig{}),
		Ready:         ready,
	})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	return handler
}

// TestNewHandlerValidatesDependencies verifies required dependencies and endpoint rules.
func TestNewHandlerValidatesDependencies(t *testing.T) {
	if _, _, err := NewHandler(Config{}, Dependencies{}); err == nil {
		t.Fatal("expected missing service error")
	}
	svc := common.NewAppServiceAdapter(app.NewService(memory.New(), nil, app.ServiceConfig{}))
	if _, _, err := NewHandler(Config{}, Dependencies{Service: svc}); err == nil {
		t.Fatal("expected missing authenticator error")
	}
	if _, _, err := NewHandler(Config{APIEndpoint: "/x", MCPEndpoint: "x/"}, Dependencies{
		Service:       svc,
		Authenticator: auth.NewHeaderAuthenticator(auth.HeaderConfig{}),
	}); err == nil {
		t.Fatal("expected endpoint collision error")
	}
}

// TestNormalizeConfigDefaults verifies serve defaults.
func TestNormalizeConfigDefaults(t *testing.T) {
	cfg, err := normalizeConfig(Config{APIEndpoint: "api/v2/"})
	if err != nil {
		t.Fatalf("normalizeConfig() error = %v", err)
	}
	if cfg.HTTPBind != defaultBindAddress || cfg.APIEndpoint != "/api/v2" || cfg.MCPEndpoint != "/mcp" || cfg.ServerName != "shotboard" {
		t.Fatalf("unexpected config %#v", cfg)
	}
	if _, err := normalizeConfig(Config{APIEndpoint: "/healthz"}); err == nil {
		t.Fatal("expected reserved endpoint error")
	}
}

// TestHandlerHealthIsPublic verifies health endpoints skip authentication.
func TestHandlerHealthIsPublic(t *testing.T) {
	handler := newTestHandler(t, nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

// TestHandlerReadinessFailure verifies /readyz reports store outages.
func TestHandlerReadinessFailure(t *testing.T) {
	handler := newTestHandler(t, func(context.Context) error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

// TestHandlerRequiresAuthentication verifies API and MCP endpoints reject anonymous callers.
func TestHandlerRequiresAuthentication(t *testing.T) {
	handler := newTestHandler(t, nil)
	for _, path := range []string{"/api/v1/acts", "/mcp"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s status = %d, want 401", path, rec.Code)
		}
	}
}

// TestHandlerRequestID verifies request ids are echoed or minted.
func TestHandlerRequestID(t *testing.T) {
	handler := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "rid-7")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "rid-7" {
		t.Fatalf("X-Request-Id = %q, want rid-7", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/acts", nil))
	minted := rec.Header().Get("X-Request-Id")
	if len(minted) != 36 {
		t.Fatalf("minted X-Request-Id = %q, want uuid", minted)
	}
	var envelope struct {
		Error struct {
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if envelope.Error.RequestID != minted {
		t.Fatalf("body request_id = %q, want %q", envelope.Error.RequestID, minted)
	}
}

// TestHandlerAuthenticatedFlow verifies an authenticated manager can create and list acts.
func TestHandlerAuthenticatedFlow(t *testing.T) {
	handler := newTestHandler(t, nil)
	do := func(method, path, body, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(auth.DefaultUserHeader, "alice")
		req.Header.Set(auth.DefaultRoleHeader, role)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do(http.MethodPost, "/api/v1/acts", `{"code":"act01","name":"Opening"}`, "manager"); rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	if rec := do(http.MethodPost, "/api/v1/acts", `{"code":"act02","name":"Middle"}`, "student"); rec.Code != http.StatusForbidden {
		t.Fatalf("student create status = %d, want 403", rec.Code)
	}
	rec := do(http.MethodGet, "/api/v1/acts", "", "student")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		Acts []common.Act `json:"acts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&listed); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(listed.Acts) != 1 || listed.Acts[0].Code != "act01" {
		t.Fatalf("unexpected acts %#v", listed.Acts)
	}
	rec = do(http.MethodGet, "/api/v1/session", "", "student")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"role":"student"`) {
		t.Fatalf("session status = %d body=%s", rec.Code, rec.Body.String())
	}
}
