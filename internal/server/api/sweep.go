package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/opticam/internal/sweep"
)

// SweepController starts and stops the repeating sweep.
type SweepController interface {
	Start() error
	Stop()
	Running() bool
	State() sweep.State
	LastSummary() sweep.Summary
}

// SweepHandler exposes the sweep loop at /api/sweep.
type SweepHandler struct {
	control SweepController
}

// NewSweepHandler creates a new SweepHandler driving control.
func NewSweepHandler(control SweepController) *SweepHandler {
	return &SweepHandler{control: control}
}

type sweepStatusResponse struct {
	Running bool           `json:"running"`
	State   string         `json:"state"`
	Last    *sweep.Summary `json:"last,omitempty"`
}

// ServeHTTP routes GET /api/sweep, POST /api/sweep/start and POST /api/sweep/stop.
func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/sweep")
	action = strings.Trim(action, "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.status())

	case "start":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := h.control.Start(); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to start sweep: "+err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, h.status())

	case "stop":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.control.Stop()
		writeJSON(w, http.StatusOK, h.status())

	default:
		writeError(w, http.StatusNotFound, "Unknown sweep action")
	}
}

func (h *SweepHandler) status() sweepStatusResponse {
	resp := sweepStatusResponse{
		Running: h.control.Running(),
		State:   h.control.State().String(),
	}
	if last := h.control.LastSummary(); last.RunID != "" {
		resp.Last = &last
	}
	return resp
}
