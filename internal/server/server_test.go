package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/llm/llmtest"
	"chat-relay/internal/store"
)

type fixture struct {
	store    store.Store
	upstream *llmtest.Client
	handler  http.Handler
}

func newFixture(t *testing.T, upstream *llmtest.Client, basePath string) *fixture {
	t.Helper()
	s := store.NewMemoryStore(config.DefaultTitleLength)
	t.Cleanup(func() { _ = s.Close() })
	svc := chat.NewService(s, upstream, chat.Options{Logger: zerolog.Nop()})
	srv := New(config.ServerConfig{BasePath: basePath}, svc, nil, zerolog.Nop())
	return &fixture{store: s, upstream: upstream, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) messages(t *testing.T, id uuid.UUID) []store.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func TestCompletionsStreamsFramesAndPersists(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"Hel", "lo"}}, "")
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/chat/completions", `{"conversationId":"`+id.String()+`","content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, id.String(), rec.Header().Get(ConversationHeader))
	require.Equal(t, "data: Hel\n\ndata: lo\n\ndata: [DONE]\n\n", rec.Body.String())

	msgs := f.messages(t, id)
	require.Len(t, msgs, 2)
	require.Equal(t, store.RoleUser, msgs[0].Role)
	require.Equal(t, "Hi", msgs[0].Content)
	require.Equal(t, store.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Hello", msgs[1].Content)
}

func TestCompletionsPartialFailureStillSendsDone(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"Par"}, Err: errors.New("stream reset")}, "")
	id := uuid.New()

	rec := f.do(t, http.MethodPost, "/chat/completions", `{"conversationId":"`+id.String()+`","content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data: Par\n\ndata: [DONE]\n\n", rec.Body.String())

	msgs := f.messages(t, id)
	require.Len(t, msgs, 2)
	require.Equal(t, "Par", msgs[1].Content)
}

func TestCompletionsQueryParameters(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"ok"}}, "")
	id := uuid.New()

	q := url.Values{"message": {"Hi there"}, "conversation_id": {id.String()}}
	rec := f.do(t, http.MethodGet, "/chat/completions?"+q.Encode(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data: ok\n\ndata: [DONE]\n\n", rec.Body.String())
	require.Equal(t, "Hi there", f.messages(t, id)[0].Content)
}

func TestCompletionsServerGeneratedConversation(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"ok"}}, "")

	rec := f.do(t, http.MethodPost, "/chat/completions", `{"conversation_id":null,"content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id, err := uuid.Parse(rec.Header().Get(ConversationHeader))
	require.NoError(t, err)
	require.Len(t, f.messages(t, id), 2)
}

func TestCompletionsMultilineFragment(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"a\nb"}}, "")
	rec := f.do(t, http.MethodPost, "/chat/completions", `{"content":"Hi"}`)
	require.Equal(t, "data: a\ndata: b\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestCompletionsRejectsMalformedRequests(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"x"}}, "")

	cases := map[string]string{
		"bad conversation id": `{"conversationId":"nope","content":"Hi"}`,
		"missing content":     `{"conversationId":"` + uuid.NewString() + `"}`,
		"bad message id":      `{"content":"Hi","messageId":"nope"}`,
		"bad json":            `{"content":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/chat/completions", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			require.NotEmpty(t, resp.Error)
		})
	}

	convs, err := f.store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, convs)
	require.Empty(t, f.upstream.Requests())
}

func TestCompletionsUnknownMessage(t *testing.T) {
	f := newFixture(t, &llmtest.Client{}, "")
	body := `{"conversationId":"` + uuid.NewString() + `","messageId":"` + uuid.NewString() + `"}`
	rec := f.do(t, http.MethodPost, "/chat/completions", body)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendThenListMessages(t *testing.T) {
	f := newFixture(t, &llmtest.Client{}, "")
	id, msgID := uuid.New(), uuid.New()

	body := `{"conversation_id":"` + id.String() + `","message":{"id":"` + msgID.String() + `","role":"user","content":"Hi","timestamp":"2024-01-01T00:00:00Z"}}`
	rec := f.do(t, http.MethodPost, "/chat/send", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, SendResponse{Status: "ok", ConversationID: id, MessageID: msgID, Created: true}, resp)

	rec = f.do(t, http.MethodGet, "/messages/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []store.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Equal(t, []store.Message{{ID: msgID, ConversationID: id, Role: store.RoleUser, Content: "Hi"}}, msgs)

	rec = f.do(t, http.MethodPost, "/chat/send", body)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/conversations", "")
	var convs []store.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &convs))
	require.Equal(t, []store.Conversation{{ID: id, Title: "Hi"}}, convs)
}

func TestSendRejectsAssistantRole(t *testing.T) {
	f := newFixture(t, &llmtest.Client{}, "")
	rec := f.do(t, http.MethodPost, "/chat/send", `{"message":{"role":"assistant","content":"Hi"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	convs, err := f.store.ListConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, convs)
}

func TestListMessagesUnknownAndInvalid(t *testing.T) {
	f := newFixture(t, &llmtest.Client{}, "")

	rec := f.do(t, http.MethodGet, "/messages/"+uuid.NewString(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/messages/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptyConversationList(t *testing.T) {
	f := newFixture(t, &llmtest.Client{}, "")
	rec := f.do(t, http.MethodGet, "/conversations/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestBasePathMount(t *testing.T) {
	f := newFixture(t, &llmtest.Client{Fragments: []string{"ok"}}, "/api/v1/")

	rec := f.do(t, http.MethodGet, "/api/v1/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/chat/completions", `{"content":"Hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "data: ok\n\ndata: [DONE]\n\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEWriterNormalizesLineBreaks(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := newSSEWriter(rec)
	require.NoError(t, err)
	require.NoError(t, sse.Data("one\r\ntwo\rthree"))
	require.NoError(t, sse.Data(""))
	require.NoError(t, sse.Done())
	require.Equal(t, "data: one\ndata: two\ndata: three\n\ndata: \n\ndata: [DONE]\n\n", rec.Body.String())
	require.True(t, rec.Flushed)
}
