package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/Genlisea/pkg/hmm"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	config     *Config
	configPath string
	actionChan chan string
	store      *hmm.Store
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(config *Config, configPath string, actionChan chan string, store *hmm.Store, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		config:     config,
		configPath: configPath,
		actionChan: actionChan,
		store:      store,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/stats", a.handleStats)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		respondWithJSON(w, http.StatusOK, a.config)
	case http.MethodPut:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		var newConfig Config
		if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		// Update the live config object and persist it to disk.
		*a.config = newConfig
		if err := SaveConfig(a.configPath, a.config); err != nil {
			a.logger.Error("Failed to save config", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save configuration to disk: %v", err))
			return
		}

		a.logger.Info("Application configuration updated and saved via API. Some changes may require a restart.")
		respondWithJSON(w, http.StatusOK, a.config)
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleStats returns registry-wide statistics.
func (a *ServerAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	stats, err := a.store.Stats(r.Context())
	if err != nil {
		a.logger.Error("Failed to get registry stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"model_count": stats.ModelCount,
	})
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.Info("Shutdown requested via API.")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	// Send in a goroutine so the handler returns even if a prior action
	// is already draining the server.
	go func() {
		a.actionChan <- actionShutdown
	}()
}

// handleRestart initiates a server restart cycle.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.Info("Restart requested via API.")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
	go func() {
		a.actionChan <- actionRestart
	}()
}
