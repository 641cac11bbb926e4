package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuvabe/care-companion/internal/chat"
	"github.com/yuvabe/care-companion/internal/history"
	"github.com/yuvabe/care-companion/internal/knowledge"
	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/rerank"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// stubResponder implements Responder.
type stubResponder struct {
	reply chat.Reply
	err   error
	got   []history.Message
}

func (s *stubResponder) Respond(_ context.Context, conversationID string, messages []history.Message) (chat.Reply, error) {
	s.got = messages
	if s.err != nil {
		return chat.Reply{}, s.err
	}
	reply := s.reply
	if reply.ConversationID == "" {
		reply.ConversationID = conversationID
	}
	return reply, nil
}

// stubKnowledge implements KnowledgeService.
type stubKnowledge struct {
	upsertN   int
	upsertErr error
	matches   []vecindex.Match
	searchErr error
	deleted   int64
	gotTopK   int
}

func (s *stubKnowledge) Upsert(_ context.Context, records []knowledge.Record) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	return s.upsertN, nil
}

func (s *stubKnowledge) Search(_ context.Context, _ string, topK int) ([]vecindex.Match, error) {
	s.gotTopK = topK
	return s.matches, s.searchErr
}

func (s *stubKnowledge) Delete(_ context.Context, ids []string) (int64, error) {
	return s.deleted, nil
}

// stubHistory implements HistoryStore.
type stubHistory struct {
	messages    []history.Message
	retrieveErr error
	appendErr   error
	ids         []string
}

func (s *stubHistory) Append(_ context.Context, _ string, _ []history.Message) error {
	return s.appendErr
}

func (s *stubHistory) Retrieve(_ context.Context, _ string) ([]history.Message, error) {
	if s.retrieveErr != nil {
		return nil, s.retrieveErr
	}
	return s.messages, nil
}

func (s *stubHistory) ListConversationIDs(_ context.Context) ([]string, error) {
	return s.ids, nil
}

// stubPinger implements Pinger.
type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

// stubStater implements IndexStater.
type stubStater struct{ state vecindex.State }

func (s *stubStater) State(_ context.Context) (vecindex.State, error) { return s.state, nil }

type serverStubs struct {
	responder *stubResponder
	knowledge *stubKnowledge
	history   *stubHistory
	pinger    *stubPinger
	store     *stubPinger
}

func newTestServer(t *testing.T) (*httptest.Server, *serverStubs) {
	t.Helper()
	stubs := &serverStubs{
		responder: &stubResponder{reply: chat.Reply{Content: "advice"}},
		knowledge: &stubKnowledge{},
		history:   &stubHistory{},
		pinger:    &stubPinger{},
		store:     &stubPinger{},
	}
	logger := log.NewNop()
	srv := NewServer(
		NewChatHandler(stubs.responder, logger),
		NewKnowledgeHandler(stubs.knowledge, logger, 3, 0.47),
		NewHistoryHandler(stubs.history, logger),
		NewHealthHandler(stubs.pinger, stubs.store, &stubStater{state: vecindex.StateReady}, logger),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, stubs
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestGetHealthAdvice(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.responder.reply = chat.Reply{ConversationID: "conv-1", Content: "Drink water and rest."}

	resp := postJSON(t, ts.URL+"/api/chat/get-health-advice", map[string]any{
		"conversation_id": "conv-1",
		"conversation_history": []map[string]string{
			{"role": "user", "content": "I have a mild headache"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "conv-1", body["conversation_id"])
	assert.Equal(t, "Drink water and rest.", body["reply"])
	assert.Len(t, stubs.responder.got, 1)
}

func TestGetHealthAdviceValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/chat/get-health-advice"

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty history", map[string]any{"conversation_history": []any{}}},
		{
			"last message not from user",
			map[string]any{"conversation_history": []map[string]string{
				{"role": "user", "content": "hi"},
				{"role": "assistant", "content": "hello"},
			}},
		},
		{
			"empty last user message",
			map[string]any{"conversation_history": []map[string]string{
				{"role": "user", "content": ""},
			}},
		},
		{
			"unknown role",
			map[string]any{"conversation_history": []map[string]string{
				{"role": "robot", "content": "beep"},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, url, tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetHealthAdvicePipelineError(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.responder.err = errors.New("orchestration broke")

	resp := postJSON(t, ts.URL+"/api/chat/get-health-advice", map[string]any{
		"conversation_history": []map[string]string{{"role": "user", "content": "help me"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestUpsertData(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.knowledge.upsertN = 2

	resp := postJSON(t, ts.URL+"/api/knowledge-base/upsert-data", map[string]any{
		"data": []map[string]string{
			{"input": "q1", "output": "a1"},
			{"input": "q2", "output": "a2"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 2, body["upserted"])
}

func TestUpsertDataPartialFailure(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.knowledge.upsertErr = &vecindex.BatchError{
		Batch: 1, FirstIndex: 500, Size: 500, Err: errors.New("connection reset"),
	}

	resp := postJSON(t, ts.URL+"/api/knowledge-base/upsert-data", map[string]any{
		"data": []map[string]string{{"input": "q", "output": "a"}},
	})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "partial_upsert", body["error"])
	assert.EqualValues(t, 500, body["resume_from"])
}

func TestFetchMetadata(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.knowledge.matches = []vecindex.Match{
		{ID: "a", Question: "q", Answer: "ans", Score: 0.9},
		{ID: "b", Question: "q2", Answer: "ans2", Score: 0.3}, // below default threshold
	}

	resp := postJSON(t, ts.URL+"/api/knowledge-base/fetch-metadata", map[string]any{
		"prompt": "back pain",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)

	matches := body["metadata"].([]any)
	require.Len(t, matches, 1)
	first := matches[0].(map[string]any)
	assert.Equal(t, "a", first["id"])
	assert.InDelta(t, 0.9, first["score"].(float64), 1e-9)

	// Omitted n_result falls back to the configured default.
	assert.Equal(t, 3, stubs.knowledge.gotTopK)
}

func TestFetchMetadataNoRelevantData(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.knowledge.matches = []vecindex.Match{{ID: "a", Score: 0.1}}

	resp := postJSON(t, ts.URL+"/api/knowledge-base/fetch-metadata", map[string]any{
		"prompt": "unrelated question",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, rerank.NoRelevantData, body["response"])
	assert.Empty(t, body["metadata"])
}

func TestFetchMetadataValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	url := ts.URL + "/api/knowledge-base/fetch-metadata"

	resp := postJSON(t, url, map[string]any{"prompt": ""})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, url, map[string]any{"prompt": "q", "score_threshold": 1.5})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRecords(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.knowledge.deleted = 1

	resp := postJSON(t, ts.URL+"/api/knowledge-base/delete-records", map[string]any{
		"ids_to_delete": []string{"q1:0", "missing"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.EqualValues(t, 1, body["deleted"])

	resp = postJSON(t, ts.URL+"/api/knowledge-base/delete-records", map[string]any{"ids_to_delete": []string{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.history.messages = []history.Message{
		{Role: history.RoleUser, Content: "hi"},
		{Role: history.RoleAssistant, Content: "hello"},
	}
	stubs.history.ids = []string{"alpha", "beta"}

	// store
	resp := postJSON(t, ts.URL+"/api/chat-history/store", map[string]any{
		"conversation_id": "alpha",
		"messages":        []map[string]string{{"role": "user", "content": "hi"}},
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// retrieve
	resp = postJSON(t, ts.URL+"/api/chat-history/retrieve", map[string]any{"conversation_id": "alpha"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "alpha", body["conversation_id"])
	assert.Len(t, body["messages"], 2)

	// conversations
	listResp, err := http.Get(ts.URL + "/api/chat-history/conversations")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, listResp.StatusCode)
	listBody := decodeBody(t, listResp)
	assert.Len(t, listBody["conversation_ids"], 2)
}

func TestHistoryRetrieveNotFound(t *testing.T) {
	ts, stubs := newTestServer(t)
	stubs.history.retrieveErr = history.ErrNotFound

	resp := postJSON(t, ts.URL+"/api/chat-history/retrieve", map[string]any{"conversation_id": "ghost"})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProbes(t *testing.T) {
	ts, stubs := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "ready", body["index_state"])

	stubs.store.err = errors.New("bucket gone")
	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	stubs.store.err = nil

	stubs.pinger.err = errors.New("connection refused")
	resp, err = http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/chat/get-health-advice")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
