// Package api provides HTTP API handlers for opticam's sweep history and control.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/opticam/internal/store"
)

// DefaultRunLimit caps GET /api/runs when no limit is given.
const DefaultRunLimit = 50

// RunsHandler handles HTTP requests for sweep run resources.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type runResponse struct {
	ID             string  `json:"id"`
	Metric         string  `json:"metric"`
	Configurations int     `json:"configurations"`
	Evaluated      int     `json:"evaluated"`
	Failures       int     `json:"failures"`
	Improvements   int     `json:"improvements"`
	Cancelled      bool    `json:"cancelled"`
	BestQuality    float64 `json:"best_quality"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     string  `json:"finished_at,omitempty"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

type runDetailResponse struct {
	Run     runResponse    `json:"run"`
	Best    *store.Result  `json:"best,omitempty"`
	Results []store.Result `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:             run.ID,
		Metric:         run.Metric,
		Configurations: run.Configurations,
		Evaluated:      run.Evaluated,
		Failures:       run.Failures,
		Improvements:   run.Improvements,
		Cancelled:      run.Cancelled,
		BestQuality:    run.BestQuality,
		StartedAt:      run.StartedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		resp.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/runs?limit=N, newest first.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}
	for i := range runs {
		response.Runs = append(response.Runs, toRunResponse(&runs[i]))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} and returns the run with its results.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	results, err := h.store.Results().ListByRun(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list results")
		return
	}
	if results == nil {
		results = []store.Result{}
	}

	response := runDetailResponse{
		Run:     toRunResponse(run),
		Results: results,
	}

	best, err := h.store.Results().Best(id)
	switch {
	case err == nil:
		response.Best = best
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusInternalServerError, "Failed to get best result")
		return
	}

	writeJSON(w, http.StatusOK, response)
}

// delete handles DELETE /api/runs/{id}.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Runs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
