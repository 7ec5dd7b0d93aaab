package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Genlisea/pkg/hmm"
)

// ModelsAPI holds the dependencies for the model registry API handlers.
type ModelsAPI struct {
	store  *hmm.Store
	logger *slog.Logger
}

// NewModelsAPI creates a new instance of the ModelsAPI.
func NewModelsAPI(store *hmm.Store, logger *slog.Logger) *ModelsAPI {
	return &ModelsAPI{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleListAndCreateModels)
	mux.HandleFunc("/api/models/", m.handleModelByName)
	mux.HandleFunc("/api/models-import", m.handleImport)
}

// CreateModelRequest is the expected JSON body for saving a new model.
type CreateModelRequest struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Transitions [hmm.NumStates][hmm.NumStates]float64  `json:"transitions"`
	Initial     [hmm.NumStates]float64                 `json:"initial"`
	Emissions   [hmm.NumStates][hmm.NumSymbols]float64 `json:"emissions"`
}

// ModelResponse is the JSON representation of a stored model.
type ModelResponse struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Transitions [hmm.NumStates][hmm.NumStates]float64  `json:"transitions"`
	Initial     [hmm.NumStates]float64                 `json:"initial"`
	Emissions   [hmm.NumStates][hmm.NumSymbols]float64 `json:"emissions"`
}

// handleListAndCreateModels handles GET for listing and POST for saving models.
func (m *ModelsAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		infos, err := m.store.GetModelInfos(r.Context())
		if err != nil {
			m.logger.Error("Failed to get model infos", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
			return
		}
		// Convert map to slice for consistent JSON output
		infoList := make([]hmm.ModelInfo, 0, len(infos))
		for _, info := range infos {
			infoList = append(infoList, info)
		}
		respondWithJSON(w, http.StatusOK, infoList)

	case http.MethodPost:
		if !requireScope(w, r, scopeModelsWrite) {
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.Name == "" {
			respondWithError(w, http.StatusBadRequest, "Model name is required")
			return
		}

		model, err := hmm.NewModel(req.Transitions, req.Initial, req.Emissions)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid model parameters: %v", err))
			return
		}
		if err = m.store.SaveModel(r.Context(), req.Name, req.Description, model); err != nil {
			m.logger.Error("Failed to save model", "name", req.Name, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save model: %v", err))
			return
		}
		respondWithJSON(w, http.StatusCreated, ModelResponse{
			Name:        req.Name,
			Description: req.Description,
			Transitions: model.A,
			Initial:     model.Pi,
			Emissions:   model.B,
		})
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model: fetch, export, delete.
func (m *ModelsAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {

	path := strings.TrimPrefix(r.URL.Path, "/api/models/")
	parts := strings.Split(path, "/")
	modelName := parts[0]

	if modelName == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}

	if len(parts) == 1 { // Path is just /api/models/{name}
		switch r.Method {
		case http.MethodGet:
			if !requireScope(w, r, scopeModelsRead) {
				return
			}
			info, err := m.store.GetModelInfo(r.Context(), modelName)
			if err != nil {
				m.respondStoreError(w, modelName, err)
				return
			}
			model, err := m.store.GetModel(r.Context(), modelName)
			if err != nil {
				m.respondStoreError(w, modelName, err)
				return
			}
			respondWithJSON(w, http.StatusOK, ModelResponse{
				Name:        info.Name,
				Description: info.Description,
				Transitions: model.A,
				Initial:     model.Pi,
				Emissions:   model.B,
			})
		case http.MethodDelete:
			if !requireScope(w, r, scopeModelsWrite) {
				return
			}
			if err := m.store.DeleteModel(r.Context(), modelName); err != nil {
				m.respondStoreError(w, modelName, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	if parts[1] == "export" {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelsRead) {
			return
		}
		// Look the model up first so a missing one yields a 404 instead
		// of a half-written response body.
		if _, err := m.store.GetModelInfo(r.Context(), modelName); err != nil {
			m.respondStoreError(w, modelName, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", modelName))
		if err := m.store.ExportModel(r.Context(), modelName, w); err != nil {
			m.logger.Error("Failed to export model", "name", modelName, "error", err)
		}
		return
	}

	respondWithError(w, http.StatusNotFound, "Action not found")
}

// handleImport imports a model from an uploaded JSON file, replacing any
// existing model of the same name.
func (m *ModelsAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeModelsWrite) {
		return
	}

	if err := m.store.ImportModel(r.Context(), r.Body); err != nil {
		if errors.Is(err, hmm.ErrInvalidModel) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import rejected: %v", err))
			return
		}
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (m *ModelsAPI) respondStoreError(w http.ResponseWriter, modelName string, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}
	m.logger.Error("Model registry operation failed", "name", modelName, "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
}
