package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// setupTestAuth creates an AuthAPI over a fresh SQLite database in a
// temp dir, with its routes registered behind the Authenticate
// middleware, the way main wires them.
func setupTestAuth(t *testing.T) (*AuthAPI, http.Handler) {
	t.Helper()
	db, err := initDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("initDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := setupAuthSchema(db); err != nil {
		t.Fatalf("setupAuthSchema() failed: %v", err)
	}

	a, err := NewAuthAPI(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewAuthAPI() error = %v", err)
	}
	t.Cleanup(a.Close)

	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return a, a.Authenticate(mux)
}

func createTestKey(t *testing.T, handler http.Handler, apiKey string, scopes []string) CreateKeyResponse {
	t.Helper()
	body, _ := json.Marshal(CreateKeyRequest{Scopes: scopes})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/keys", strings.NewReader(string(body)))
	if apiKey != "" {
		req.Header.Set("gen-auth", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("key creation returned status %d: %s", rec.Code, rec.Body.String())
	}
	var resp CreateKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode key creation response: %v", err)
	}
	return resp
}

func TestValidateScopes(t *testing.T) {
	if _, err := validateScopes(nil); err == nil {
		t.Errorf("validateScopes(nil) succeeded, want error")
	}
	if _, err := validateScopes([]string{scopeModelsRead, "models:banana"}); err == nil {
		t.Errorf("validateScopes() accepted an unknown scope")
	}
	got, err := validateScopes([]string{scopeModelsRead, scopeAnalyzeRun})
	if err != nil {
		t.Fatalf("validateScopes() error = %v", err)
	}
	if got != "models:read analyze:run" {
		t.Errorf("validateScopes() = %q", got)
	}
}

func TestScopeSetMasterGrantsAll(t *testing.T) {
	master := parseScopes(scopeMaster)
	for scope := range knownScopes {
		if !master.has(scope) {
			t.Errorf("master grant does not cover %q", scope)
		}
	}

	narrow := parseScopes(scopeAnalyzeRun)
	if !narrow.has(scopeAnalyzeRun) {
		t.Errorf("grant does not cover its own scope")
	}
	if narrow.has(scopeAuthManage) {
		t.Errorf("grant %q unexpectedly covers %q", scopeAnalyzeRun, scopeAuthManage)
	}
}

func TestCreateKeyRejectsUnknownScope(t *testing.T) {
	_, handler := setupTestAuth(t)

	body := `{"scopes": ["models:banana"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/keys", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("creating a key with an unknown scope returned %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestFirstKeyGetsMasterScope(t *testing.T) {
	_, handler := setupTestAuth(t)

	first := createTestKey(t, handler, "", []string{scopeModelsRead})
	if len(first.Scopes) != 1 || first.Scopes[0] != scopeMaster {
		t.Errorf("first key scopes = %v, want [%s]", first.Scopes, scopeMaster)
	}
	if !strings.HasPrefix(first.RawKey, "gen_") {
		t.Errorf("raw key %q does not carry the gen_ prefix", first.RawKey)
	}

	second := createTestKey(t, handler, first.RawKey, []string{scopeModelsRead})
	if len(second.Scopes) != 1 || second.Scopes[0] != scopeModelsRead {
		t.Errorf("second key scopes = %v, want [%s]", second.Scopes, scopeModelsRead)
	}
}

func TestAuthenticateClosesAfterFirstKey(t *testing.T) {
	_, handler := setupTestAuth(t)

	// Fresh install: no keys, the API is open.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open-install request returned %d, want %d", rec.Code, http.StatusOK)
	}

	master := createTestKey(t, handler, "", []string{scopeAuthManage})

	// Once a key exists, requests without one are rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("keyless request returned %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// And an invalid key is just as rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("gen-auth", "gen_not_a_real_key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad-key request returned %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("gen-auth", master.RawKey)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid-key request returned %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestKeyManagementRequiresScope(t *testing.T) {
	_, handler := setupTestAuth(t)

	master := createTestKey(t, handler, "", []string{scopeAuthManage})
	narrow := createTestKey(t, handler, master.RawKey, []string{scopeAnalyzeRun})

	// A key without auth:manage can neither list, create, nor delete.
	for _, tc := range []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/api/auth/keys", ""},
		{http.MethodPost, "/api/auth/keys", `{"scopes": ["analyze:run"]}`},
		{http.MethodDelete, "/api/auth/keys/2", ""},
	} {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("gen-auth", narrow.RawKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s with narrow key returned %d, want %d", tc.method, tc.path, rec.Code, http.StatusForbidden)
		}
	}

	// The master key can delete the narrow one, but never key 1.
	req := httptest.NewRequest(http.MethodDelete, "/api/auth/keys/2", nil)
	req.Header.Set("gen-auth", master.RawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("deleting key 2 returned %d, want %d", rec.Code, http.StatusNoContent)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/auth/keys/1", nil)
	req.Header.Set("gen-auth", master.RawKey)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("deleting key 1 returned %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestScopeVocabularyEndpoint(t *testing.T) {
	_, handler := setupTestAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/scopes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scope listing returned %d, want %d", rec.Code, http.StatusOK)
	}

	var resp struct {
		Scopes []string `json:"scopes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode scope listing: %v", err)
	}
	if len(resp.Scopes) != len(knownScopes) {
		t.Errorf("scope listing has %d entries, want %d", len(resp.Scopes), len(knownScopes))
	}
}
