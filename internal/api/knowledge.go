package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/yuvabe/care-companion/internal/knowledge"
	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/rerank"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// KnowledgeService manages knowledge base records.
type KnowledgeService interface {
	Upsert(ctx context.Context, records []knowledge.Record) (int, error)
	Search(ctx context.Context, query string, topK int) ([]vecindex.Match, error)
	Delete(ctx context.Context, ids []string) (int64, error)
}

// KnowledgeHandler serves knowledge base management endpoints.
type KnowledgeHandler struct {
	service          KnowledgeService
	logger           log.Logger
	defaultTopK      int
	defaultThreshold float64
}

// NewKnowledgeHandler creates a knowledge handler. The defaults apply when
// fetch-metadata requests omit n_result or score_threshold.
func NewKnowledgeHandler(service KnowledgeService, logger log.Logger, defaultTopK int, defaultThreshold float64) *KnowledgeHandler {
	return &KnowledgeHandler{
		service:          service,
		logger:           logger,
		defaultTopK:      defaultTopK,
		defaultThreshold: defaultThreshold,
	}
}

// RegisterRoutes registers knowledge base routes on the mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/knowledge-base/upsert-data", h.upsertData)
	mux.HandleFunc("POST /api/knowledge-base/fetch-metadata", h.fetchMetadata)
	mux.HandleFunc("POST /api/knowledge-base/delete-records", h.deleteRecords)
}

type upsertRequest struct {
	Data []knowledge.Record `json:"data"`
}

func (h *KnowledgeHandler) upsertData(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	n, err := h.service.Upsert(r.Context(), req.Data)
	if err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNoRecords), errors.Is(err, knowledge.ErrEmptyInput):
			writeError(w, http.StatusBadRequest, "invalid_records", err.Error())
		default:
			var batchErr *vecindex.BatchError
			if errors.As(err, &batchErr) {
				// Earlier batches are persisted; tell the caller where
				// to resume.
				h.logger.Error("partial upsert", "error", err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"error":        "partial_upsert",
					"message":      batchErr.Error(),
					"failed_batch": batchErr.Batch,
					"resume_from":  batchErr.FirstIndex,
				})
				return
			}
			h.logger.Error("upsert failed", "error", err)
			writeError(w, http.StatusInternalServerError, "upsert_failed", "unable to store records")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"upserted": n})
}

type fetchMetadataRequest struct {
	Prompt         string   `json:"prompt"`
	NResult        int      `json:"n_result"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

type matchResponse struct {
	ID          string  `json:"id"`
	Question    string  `json:"question"`
	Answer      string  `json:"answer"`
	Instruction string  `json:"instruction,omitempty"`
	Score       float64 `json:"score"`
}

func (h *KnowledgeHandler) fetchMetadata(w http.ResponseWriter, r *http.Request) {
	var req fetchMetadataRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "empty_prompt", "prompt is required")
		return
	}

	topK := req.NResult
	if topK <= 0 {
		topK = h.defaultTopK
	}
	threshold := h.defaultThreshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}
	if threshold < 0 || threshold > 1 {
		writeError(w, http.StatusBadRequest, "invalid_threshold", "score_threshold must be in [0,1]")
		return
	}

	matches, err := h.service.Search(r.Context(), req.Prompt, topK)
	if err != nil {
		h.logger.Error("metadata search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "unable to search the knowledge base")
		return
	}

	relevant := rerank.Filter(matches, threshold)
	if len(relevant) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"response": rerank.NoRelevantData,
			"metadata": []matchResponse{},
		})
		return
	}

	out := make([]matchResponse, len(relevant))
	for i, m := range relevant {
		out[i] = matchResponse{
			ID:          m.ID,
			Question:    m.Question,
			Answer:      m.Answer,
			Instruction: m.Instruction,
			Score:       m.Score,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": out})
}

type deleteRequest struct {
	IDs []string `json:"ids_to_delete"`
}

func (h *KnowledgeHandler) deleteRecords(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "empty_ids", "ids must contain at least one record ID")
		return
	}

	n, err := h.service.Delete(r.Context(), req.IDs)
	if err != nil {
		h.logger.Error("delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "unable to delete records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}
