package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/CTAG07/Genlisea/pkg/fasta"
	"github.com/CTAG07/Genlisea/pkg/hmm"
)

// AnalyzeAPI holds the dependencies for the sequence analysis handlers.
type AnalyzeAPI struct {
	store            *hmm.Store
	defaultThreshold float64
	logger           *slog.Logger
}

// NewAnalyzeAPI creates a new instance of the AnalyzeAPI.
func NewAnalyzeAPI(store *hmm.Store, defaultThreshold float64, logger *slog.Logger) *AnalyzeAPI {
	return &AnalyzeAPI{
		store:            store,
		defaultThreshold: defaultThreshold,
		logger:           logger,
	}
}

// RegisterRoutes sets up the routing for all /api/analyze endpoints.
func (a *AnalyzeAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/analyze/evaluate", a.handleEvaluate)
	mux.HandleFunc("/api/analyze/decode", a.handleDecode)
	mux.HandleFunc("/api/analyze/classify", a.handleClassify)
	mux.HandleFunc("/api/analyze/viterbi", a.handleViterbi)
	mux.HandleFunc("/api/analyze/fasta", a.handleFasta)
}

// AnalyzeRequest is the expected JSON body for the analysis endpoints.
// An empty model name selects the built-in default preset, and a nil
// threshold falls back to the server's configured default.
type AnalyzeRequest struct {
	Model     string   `json:"model,omitempty"`
	Sequence  string   `json:"sequence"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// EvaluateResponse carries the log-likelihood of a sequence. A sequence
// the model cannot generate reports the string "-Inf", since JSON has
// no encoding for infinities.
type EvaluateResponse struct {
	LogLikelihood any `json:"log_likelihood"`
}

// DecodeResponse carries the thresholded state path together with the
// underlying posterior probabilities.
type DecodeResponse struct {
	States        []int     `json:"states"`
	Probabilities []float64 `json:"probabilities"`
	Labels        string    `json:"labels"`
	Threshold     float64   `json:"threshold"`
}

// ClassifyResponse carries the label string and its high-GC segments.
type ClassifyResponse struct {
	Labels   string        `json:"labels"`
	Segments []hmm.Segment `json:"segments"`
}

// ViterbiResponse carries the most likely joint state path.
type ViterbiResponse struct {
	States []int  `json:"states"`
	Labels string `json:"labels"`
}

// FastaResult is the per-record output of the batch endpoint. Records
// that fail (e.g. a non-ACGT character) carry an error message instead
// of failing the whole batch.
type FastaResult struct {
	ID            string        `json:"id"`
	Labels        string        `json:"labels,omitempty"`
	Segments      []hmm.Segment `json:"segments,omitempty"`
	LogLikelihood any           `json:"log_likelihood,omitempty"`
	Error         string        `json:"error,omitempty"`
}

func (a *AnalyzeAPI) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	req, model, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	logL, err := model.Evaluate(req.Sequence)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, EvaluateResponse{LogLikelihood: jsonLogL(logL)})
}

func (a *AnalyzeAPI) handleDecode(w http.ResponseWriter, r *http.Request) {
	req, model, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	threshold := a.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	probs, err := model.StateProbabilities(req.Sequence)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}
	states := make([]int, len(probs))
	for t, p := range probs {
		if p >= threshold {
			states[t] = 1
		}
	}

	respondWithJSON(w, http.StatusOK, DecodeResponse{
		States:        states,
		Probabilities: probs,
		Labels:        hmm.LabelString(states),
		Threshold:     threshold,
	})
}

func (a *AnalyzeAPI) handleClassify(w http.ResponseWriter, r *http.Request) {
	req, model, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	threshold := a.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	states, err := model.PosteriorDecode(req.Sequence, threshold)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ClassifyResponse{
		Labels:   hmm.LabelString(states),
		Segments: hmm.Segments(states),
	})
}

func (a *AnalyzeAPI) handleViterbi(w http.ResponseWriter, r *http.Request) {
	req, model, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	states, err := model.Viterbi(req.Sequence)
	if err != nil {
		a.respondEngineError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ViterbiResponse{
		States: states,
		Labels: hmm.LabelString(states),
	})
}

// handleFasta classifies every record of a FASTA stream posted as the
// request body. The model is selected with the ?model= query parameter.
func (a *AnalyzeAPI) handleFasta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeAnalyzeRun) {
		return
	}

	model, err := a.resolveModel(r, r.URL.Query().Get("model"))
	if err != nil {
		a.respondModelError(w, err)
		return
	}

	reader := fasta.NewReader(r.Body)
	results := make([]FastaResult, 0)
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid FASTA input: %v", err))
			return
		}

		result := FastaResult{ID: rec.ID}
		states, err := model.PosteriorDecode(rec.Seq, a.defaultThreshold)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		logL, err := model.Evaluate(rec.Seq)
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		result.Labels = hmm.LabelString(states)
		result.Segments = hmm.Segments(states)
		result.LogLikelihood = jsonLogL(logL)
		results = append(results, result)
	}

	a.logger.Info("FASTA batch analyzed", "records", len(results))
	respondWithJSON(w, http.StatusOK, results)
}

// decodeRequest handles the method/scope/body boilerplate shared by the
// JSON analysis endpoints and resolves the requested model.
func (a *AnalyzeAPI) decodeRequest(w http.ResponseWriter, r *http.Request) (AnalyzeRequest, hmm.Model, bool) {
	var req AnalyzeRequest

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return req, hmm.Model{}, false
	}
	if !requireScope(w, r, scopeAnalyzeRun) {
		return req, hmm.Model{}, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return req, hmm.Model{}, false
	}

	model, err := a.resolveModel(r, req.Model)
	if err != nil {
		a.respondModelError(w, err)
		return req, hmm.Model{}, false
	}
	return req, model, true
}

// resolveModel returns the built-in preset for an empty name and
// otherwise loads the named model from the registry.
func (a *AnalyzeAPI) resolveModel(r *http.Request, name string) (hmm.Model, error) {
	if name == "" {
		return hmm.DefaultModel(), nil
	}
	return a.store.GetModel(r.Context(), name)
}

func (a *AnalyzeAPI) respondModelError(w http.ResponseWriter, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		respondWithError(w, http.StatusNotFound, "Model not found")
		return
	}
	a.logger.Error("Failed to load model", "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
}

func (a *AnalyzeAPI) respondEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, hmm.ErrInvalidSymbol) {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid sequence: %v", err))
		return
	}
	a.logger.Error("Analysis failed", "error", err)
	respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Analysis failed: %v", err))
}

// jsonLogL renders a log-likelihood for JSON output, substituting the
// string "-Inf" for negative infinity.
func jsonLogL(logL float64) any {
	if math.IsInf(logL, -1) {
		return "-Inf"
	}
	return logL
}
