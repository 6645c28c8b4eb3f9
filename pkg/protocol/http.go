package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/trialforge-ai/platform/pkg/common/logger"
	"github.com/trialforge-ai/platform/pkg/common/models"
)

// ProtocolStore archives parsed protocols together with their source text.
// A nil store disables archiving.
type ProtocolStore interface {
	SaveProtocol(ctx context.Context, parsed *ParsedProtocol, text string) error
}

type Handler struct {
	parser *Parser
	store  ProtocolStore
}

func NewHandler(parser *Parser, store ProtocolStore) *Handler {
	return &Handler{parser: parser, store: store}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/protocols/parse", h.handleParse).Methods(http.MethodPost)
}

func (h *Handler) handleParse(w http.ResponseWriter, r *http.Request) {
	var req models.ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.ProtocolText == "" {
		http.Error(w, "protocol_text is required", http.StatusBadRequest)
		return
	}

	parsed, err := h.parser.Parse(r.Context(), req.ProtocolText)
	if err != nil {
		if errors.Is(err, ErrExtractionTimeout) {
			http.Error(w, "protocol extraction timed out", http.StatusGatewayTimeout)
			return
		}
		logger.Log.WithError(err).Error("failed to parse protocol")
		http.Error(w, "failed to parse protocol", http.StatusInternalServerError)
		return
	}

	if h.store != nil {
		if err := h.store.SaveProtocol(r.Context(), parsed, req.ProtocolText); err != nil {
			logger.Log.WithError(err).WithField("protocol_id", parsed.ID.String()).Warn("failed to archive protocol")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"protocol": parsed})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
