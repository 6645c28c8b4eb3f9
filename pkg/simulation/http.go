package simulation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/common/models"
	"github.com/trialforge-ai/platform/pkg/protocol"
	"gorm.io/gorm"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/simulations", h.handleStartRun).Methods(http.MethodPost)
	r.HandleFunc("/simulations", h.handleListRuns).Methods(http.MethodGet)
	r.HandleFunc("/simulations/{id}", h.handleGetRun).Methods(http.MethodGet)
	r.HandleFunc("/simulations/{id}/export", h.handleExportRun).Methods(http.MethodGet)
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req models.SimulationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ProtocolText == "" {
		http.Error(w, "protocol_text is required", http.StatusBadRequest)
		return
	}
	if req.EnrollmentTarget <= 0 {
		http.Error(w, "enrollment_target must be positive", http.StatusBadRequest)
		return
	}

	run, parsed, err := h.service.StartRun(r.Context(), req)
	if err != nil {
		h.writeRunError(w, run, parsed, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"run":      run,
		"protocol": parsed,
	})
}

// writeRunError maps the simulation error taxonomy onto HTTP statuses. Runs
// that reached a terminal failed state are returned alongside the error so
// callers can inspect the screening record.
func (h *Handler) writeRunError(w http.ResponseWriter, run *Run, parsed *protocol.ParsedProtocol, err error) {
	var infeasible *EnrollmentInfeasibleError
	var diverged *SimulationDivergedError

	switch {
	case errors.Is(err, protocol.ErrExtractionTimeout):
		http.Error(w, "protocol extraction timed out", http.StatusGatewayTimeout)
	case errors.As(err, &infeasible), errors.As(err, &diverged):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    err.Error(),
			"run":      run,
			"protocol": parsed,
		})
	default:
		logger.Log.WithError(err).Error("failed to start simulation run")
		http.Error(w, "failed to start simulation run", http.StatusInternalServerError)
	}
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var protocolID *uuid.UUID
	if raw := r.URL.Query().Get("protocol_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid protocol_id", http.StatusBadRequest)
			return
		}
		protocolID = &id
	}
	runs, err := h.service.ListRuns(r.Context(), protocolID, parseLimit(r, 50))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "failed to list runs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": runs})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	run, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to get run")
		http.Error(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"run": run})
}

func (h *Handler) handleExportRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return
	}
	var buf bytes.Buffer
	if err := h.service.ExportRun(r.Context(), &buf, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to export run")
		http.Error(w, "failed to export run", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.csv"`, id))
	_, _ = w.Write(buf.Bytes())
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
