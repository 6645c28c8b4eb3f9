package design

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/common/models"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/designs/optimize", h.handleOptimize).Methods(http.MethodPost)
}

func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req models.DesignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.SampleSize <= 0 {
		http.Error(w, "sample_size must be positive", http.StatusBadRequest)
		return
	}

	candidates, err := Optimize(req.SampleSize, Options{
		PickK:      req.PickK,
		EffectSize: req.EffectSize,
		Alpha:      req.Alpha,
		Seed:       req.Seed,
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to optimize design")
		http.Error(w, "failed to optimize design", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
