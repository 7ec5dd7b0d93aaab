package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// Scope vocabulary. Every handler in the API gates on one of these, and
// key creation rejects anything outside the set, so a typo in a
// requested scope surfaces at creation time instead of as a silent
// never-matching permission.
const (
	scopeMaster        = "*"
	scopeModelsRead    = "models:read"
	scopeModelsWrite   = "models:write"
	scopeAnalyzeRun    = "analyze:run"
	scopeAuthManage    = "auth:manage"
	scopeStatsRead     = "stats:read"
	scopeServerConfig  = "server:config"
	scopeServerControl = "server:control"
)

var knownScopes = map[string]struct{}{
	scopeMaster:        {},
	scopeModelsRead:    {},
	scopeModelsWrite:   {},
	scopeAnalyzeRun:    {},
	scopeAuthManage:    {},
	scopeStatsRead:     {},
	scopeServerConfig:  {},
	scopeServerControl: {},
}

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    key_id      INTEGER PRIMARY KEY,
    key_hash    TEXT    NOT NULL UNIQUE,
    scopes      TEXT    NOT NULL,
    description TEXT    NOT NULL DEFAULT ''
);
`

// setupAuthSchema initializes the API key table. Idempotent, like
// hmm.SetupSchema.
func setupAuthSchema(db *sql.DB) error {
	if _, err := db.Exec(authSchema); err != nil {
		return fmt.Errorf("could not create auth schema: %w", err)
	}
	return nil
}

type contextKey string

const contextKeyScopes = contextKey("scopes")

// scopeSet is the parsed scope grant attached to an authenticated
// request. The master scope "*" grants everything.
type scopeSet map[string]struct{}

func (s scopeSet) has(scope string) bool {
	if _, master := s[scopeMaster]; master {
		return true
	}
	_, ok := s[scope]
	return ok
}

func (s scopeSet) sorted() []string {
	out := make([]string, 0, len(s))
	for scope := range s {
		out = append(out, scope)
	}
	slices.Sort(out)
	return out
}

func parseScopes(joined string) scopeSet {
	set := make(scopeSet)
	for _, scope := range strings.Fields(joined) {
		set[scope] = struct{}{}
	}
	return set
}

// validateScopes checks a requested grant against the known vocabulary
// and returns the joined storage form.
func validateScopes(scopes []string) (string, error) {
	if len(scopes) == 0 {
		return "", errors.New("at least one scope is required")
	}
	for _, scope := range scopes {
		if _, ok := knownScopes[scope]; !ok {
			return "", fmt.Errorf("unknown scope %q", scope)
		}
	}
	return strings.Join(scopes, " "), nil
}

// AuthAPI manages API keys in the service database and authenticates
// incoming requests. Statements are prepared up front, the same
// lifecycle the model registry uses.
type AuthAPI struct {
	db            *sql.DB
	stmtCountKeys *sql.Stmt
	stmtGetScopes *sql.Stmt
	stmtListKeys  *sql.Stmt
	stmtInsertKey *sql.Stmt
	stmtDeleteKey *sql.Stmt
	logger        *slog.Logger
}

// NewAuthAPI creates the auth layer over the given database connection.
// The schema must already exist; see setupAuthSchema.
func NewAuthAPI(db *sql.DB, logger *slog.Logger) (*AuthAPI, error) {
	stmtCountKeys, err := db.Prepare(`SELECT COUNT(*) FROM api_keys;`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare stmtCountKeys: %w", err)
	}
	stmtGetScopes, err := db.Prepare(`SELECT scopes FROM api_keys WHERE key_hash = ?;`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare stmtGetScopes: %w", err)
	}
	stmtListKeys, err := db.Prepare(`SELECT key_id, description, scopes FROM api_keys ORDER BY key_id;`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare stmtListKeys: %w", err)
	}
	stmtInsertKey, err := db.Prepare(`INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING key_id;`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare stmtInsertKey: %w", err)
	}
	stmtDeleteKey, err := db.Prepare(`DELETE FROM api_keys WHERE key_id = ?;`)
	if err != nil {
		return nil, fmt.Errorf("could not prepare stmtDeleteKey: %w", err)
	}
	return &AuthAPI{
		db:            db,
		stmtCountKeys: stmtCountKeys,
		stmtGetScopes: stmtGetScopes,
		stmtListKeys:  stmtListKeys,
		stmtInsertKey: stmtInsertKey,
		stmtDeleteKey: stmtDeleteKey,
		logger:        logger,
	}, nil
}

// Close releases the prepared statements.
func (a *AuthAPI) Close() {
	_ = a.stmtCountKeys.Close()
	_ = a.stmtGetScopes.Close()
	_ = a.stmtListKeys.Close()
	_ = a.stmtInsertKey.Close()
	_ = a.stmtDeleteKey.Close()
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleCheckMe)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleKeyByID)
	mux.HandleFunc("/api/auth/scopes", a.handleScopes)
}

// KeyInfo is the structure returned when listing keys. The key itself
// is never stored or returned, only its hash.
type KeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse carries the raw key back to the caller; this is the
// only time it is ever visible.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// Authenticate is the auth middleware for the /api/ subtree. It resolves
// the key presented in the "gen-auth" header to its scope grant. While
// no keys exist the API is open with a master grant, so a fresh install
// can bootstrap its first key.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		var keyCount int
		if err := a.stmtCountKeys.QueryRowContext(r.Context()).Scan(&keyCount); err != nil {
			a.logger.Error("Authenticate failed to count keys", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		if keyCount == 0 {
			ctx := context.WithValue(r.Context(), contextKeyScopes, scopeSet{scopeMaster: {}})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		apiKey := r.Header.Get("gen-auth")
		if apiKey == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		var scopesStr string
		err := a.stmtGetScopes.QueryRowContext(r.Context(), hashAPIKey(apiKey)).Scan(&scopesStr)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			a.logger.Error("Authenticate failed to query API key", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyScopes, parseScopes(scopesStr))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope gates a handler on one scope, writing the 403 itself so
// callers can bail with a bare return.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	grant, ok := r.Context().Value(contextKeyScopes).(scopeSet)
	if !ok || !grant.has(scope) {
		respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
		return false
	}
	return true
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listKeys(w, r)
	case http.MethodPost:
		a.createKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *AuthAPI) handleKeyByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}

	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed for this key resource")
		return
	}
	a.deleteKey(w, r, id)
}

// handleCheckMe reports the scope grant of the presented key.
func (a *AuthAPI) handleCheckMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	grant, ok := r.Context().Value(contextKeyScopes).(scopeSet)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"scopes": grant.sorted(),
	})
}

// handleScopes lists the scope vocabulary, so clients can build key
// creation requests without guessing.
func (a *AuthAPI) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	scopes := make([]string, 0, len(knownScopes))
	for scope := range knownScopes {
		scopes = append(scopes, scope)
	}
	slices.Sort(scopes)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"scopes": scopes,
	})
}

func (a *AuthAPI) listKeys(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeAuthManage) {
		return
	}

	rows, err := a.stmtListKeys.QueryContext(r.Context())
	if err != nil {
		a.logger.Error("Failed to query API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := make([]KeyInfo, 0)
	for rows.Next() {
		var key KeyInfo
		var scopesStr string
		if err = rows.Scan(&key.ID, &key.Description, &scopesStr); err != nil {
			a.logger.Error("Failed to scan API key row", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Failed to process database results")
			return
		}
		key.Scopes = parseScopes(scopesStr).sorted()
		keys = append(keys, key)
	}
	respondWithJSON(w, http.StatusOK, keys)
}

func (a *AuthAPI) createKey(w http.ResponseWriter, r *http.Request) {
	// The bootstrap grant is master, so this passes on a fresh install.
	if !requireScope(w, r, scopeAuthManage) {
		return
	}

	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}

	scopesStr, err := validateScopes(req.Scopes)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid scopes: %v", err))
		return
	}

	var keyCount int
	if err = a.stmtCountKeys.QueryRowContext(r.Context()).Scan(&keyCount); err != nil {
		a.logger.Error("Failed to count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Database query failed")
		return
	}
	// The first key always gets the master scope, whatever was asked
	// for, so the bootstrap caller cannot lock itself out.
	if keyCount == 0 {
		scopesStr = scopeMaster
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		a.logger.Error("Failed to generate new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}

	var newID int
	err = a.stmtInsertKey.QueryRowContext(r.Context(), hashAPIKey(rawKey), req.Description, scopesStr).Scan(&newID)
	if err != nil {
		a.logger.Error("Failed to insert new API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}
	a.logger.Info("API key created", "id", newID, "scopes", scopesStr)

	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{
		ID:     newID,
		RawKey: rawKey,
		Scopes: parseScopes(scopesStr).sorted(),
	})
}

func (a *AuthAPI) deleteKey(w http.ResponseWriter, r *http.Request, id int) {
	if !requireScope(w, r, scopeAuthManage) {
		return
	}

	if id == 1 {
		respondWithError(w, http.StatusBadRequest, "Cannot delete the primary master key (ID 1)")
		return
	}

	res, err := a.stmtDeleteKey.ExecContext(r.Context(), id)
	if err != nil {
		a.logger.Error("Failed to delete API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}

	if rowsAffected, _ := res.RowsAffected(); rowsAffected == 0 {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	a.logger.Info("API key deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return "gen_" + hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			fmt.Printf("ERROR: Failed to encode JSON response: %v\n", err)
		}
	}
}
