package api

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/yourusername/medinterp/internal/logger"
	appMiddleware "github.com/yourusername/medinterp/internal/middleware"
	"github.com/yourusername/medinterp/internal/realtime/coordinator"
)

// ConversationHandler exposes read-only HTTP views over conversation history;
// session lifecycle itself is driven through the Control Channel.
type ConversationHandler struct {
	coord *coordinator.Coordinator
}

func NewConversationHandler(coord *coordinator.Coordinator) *ConversationHandler {
	return &ConversationHandler{coord: coord}
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("conversation-handler")
	requestID := middleware.GetReqID(r.Context())

	userID, ok := appMiddleware.GetUserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	conversations, err := h.coord.ListConversations(userID, 50, 0)
	if err != nil {
		log.Error().Str("request_id", requestID).Str("user_id", userID.String()).Err(err).Msg("Failed to fetch conversations")
		respondError(w, http.StatusInternalServerError, "Failed to fetch conversations")
		return
	}

	respondJSON(w, http.StatusOK, conversations)
}

func (h *ConversationHandler) GetActions(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("conversation-handler")
	requestID := middleware.GetReqID(r.Context())

	id, err := getUUIDParam(r, "id")
	if err != nil {
		log.Warn().Str("request_id", requestID).Err(err).Msg("Invalid conversation ID")
		respondError(w, http.StatusBadRequest, "Invalid conversation ID")
		return
	}

	actions, err := h.coord.GetActions(id)
	if err != nil {
		log.Error().Str("request_id", requestID).Str("conversation_id", id.String()).Err(err).Msg("Failed to fetch actions")
		respondError(w, http.StatusInternalServerError, "Failed to fetch actions")
		return
	}

	respondJSON(w, http.StatusOK, actions)
}
