package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/log"
)

// HistoryStore persists and lists conversation transcripts.
type HistoryStore interface {
	Append(ctx context.Context, conversationID string, messages []history.Message) error
	Retrieve(ctx context.Context, conversationID string) ([]history.Message, error)
	ListConversationIDs(ctx context.Context) ([]string, error)
}

// HistoryHandler serves transcript endpoints.
type HistoryHandler struct {
	store  HistoryStore
	logger log.Logger
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(store HistoryStore, logger log.Logger) *HistoryHandler {
	return &HistoryHandler{store: store, logger: logger}
}

// RegisterRoutes registers history routes on the mux.
func (h *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat-history/store", h.storeTranscript)
	mux.HandleFunc("POST /api/chat-history/retrieve", h.retrieve)
	mux.HandleFunc("GET /api/chat-history/conversations", h.conversations)
}

type storeRequest struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []history.Message `json:"messages"`
}

func (h *HistoryHandler) storeTranscript(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "empty_conversation_id", "conversation_id is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "empty_messages", "messages must contain at least one entry")
		return
	}

	if err := h.store.Append(r.Context(), req.ConversationID, req.Messages); err != nil {
		switch {
		case errors.Is(err, history.ErrInvalidRole), errors.Is(err, history.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "invalid_messages", err.Error())
		default:
			h.logger.Error("storing transcript failed", "error", err)
			writeError(w, http.StatusInternalServerError, "store_failed", "unable to store the transcript")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stored"})
}

type retrieveRequest struct {
	ConversationID string `json:"conversation_id"`
}

type retrieveResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []history.Message `json:"messages"`
}

func (h *HistoryHandler) retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "empty_conversation_id", "conversation_id is required")
		return
	}

	messages, err := h.store.Retrieve(r.Context(), req.ConversationID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no transcript for this conversation")
			return
		}
		h.logger.Error("retrieving transcript failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieve_failed", "unable to load the transcript")
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		ConversationID: req.ConversationID,
		Messages:       messages,
	})
}

func (h *HistoryHandler) conversations(w http.ResponseWriter, r *http.Request) {
	ids, err := h.store.ListConversationIDs(r.Context())
	if err != nil {
		h.logger.Error("listing conversations failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "unable to list conversations")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"conversation_ids": ids})
}
