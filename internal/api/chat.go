package api

import (
	"context"
	"net/http"

	"github.com/yuvabe/care-companion/internal/chat"
	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/log"
)

// Responder answers one user turn.
type Responder interface {
	Respond(ctx context.Context, conversationID string, messages []history.Message) (chat.Reply, error)
}

// ChatHandler serves the health-advice endpoint.
type ChatHandler struct {
	pipeline Responder
	logger   log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(pipeline Responder, logger log.Logger) *ChatHandler {
	return &ChatHandler{pipeline: pipeline, logger: logger}
}

// RegisterRoutes registers chat routes on the mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat/get-health-advice", h.getHealthAdvice)
}

type adviceRequest struct {
	ConversationID      string            `json:"conversation_id"`
	ConversationHistory []history.Message `json:"conversation_history"`
}

type adviceResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

func (h *ChatHandler) getHealthAdvice(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if len(req.ConversationHistory) == 0 {
		writeError(w, http.StatusBadRequest, "empty_history",
			"conversation_history must contain at least one message")
		return
	}
	last := req.ConversationHistory[len(req.ConversationHistory)-1]
	if last.Role != history.RoleUser {
		writeError(w, http.StatusBadRequest, "invalid_history",
			"the last message must come from the user")
		return
	}
	if last.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_history",
			"the last user message must not be empty")
		return
	}
	for _, m := range req.ConversationHistory {
		if err := m.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_history", err.Error())
			return
		}
	}

	reply, err := h.pipeline.Respond(r.Context(), req.ConversationID, req.ConversationHistory)
	if err != nil {
		h.logger.Error("chat pipeline failed", "error", err)
		writeError(w, http.StatusInternalServerError, "pipeline_failed",
			"unable to answer right now")
		return
	}

	writeJSON(w, http.StatusOK, adviceResponse{
		ConversationID: reply.ConversationID,
		Reply:          reply.Content,
	})
}
