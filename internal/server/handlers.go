package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"chat-relay/internal/chat"
	"chat-relay/internal/store"
)

const maxBodyBytes = 1 << 20

// ConversationHeader carries the resolved conversation id on completion
// responses, which matters when the server generated it.
const ConversationHeader = "X-Conversation-Id"

type errorResponse struct {
	Error string `json:"error"`
}

type sendMessage struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sendRequest struct {
	ConversationID      string      `json:"conversationId"`
	ConversationIDSnake string      `json:"conversation_id"`
	Message             sendMessage `json:"message"`
}

type SendResponse struct {
	Status         string    `json:"status"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	Created        bool      `json:"created"`
}

type completionRequest struct {
	ConversationID      string `json:"conversationId"`
	ConversationIDSnake string `json:"conversation_id"`
	Content             string `json:"content"`
	MessageID           string `json:"messageId"`
	MessageIDSnake      string `json:"message_id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.svc.ListConversations(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("conversationId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid conversationId: must be a uuid"})
		return
	}
	msgs, err := s.svc.ListMessages(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ref, err := chat.ParseConversationRef(firstNonEmpty(req.ConversationID, req.ConversationIDSnake))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Send(r.Context(), chat.SendInput{
		Conversation: ref,
		MessageID:    req.Message.ID,
		Role:         req.Message.Role,
		Content:      req.Message.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SendResponse{
		Status:         "ok",
		ConversationID: res.Conversation.ID,
		MessageID:      res.Message.ID,
		Created:        res.Created,
	})
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req, err := readCompletionRequest(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	ref, err := chat.ParseConversationRef(firstNonEmpty(req.ConversationID, req.ConversationIDSnake))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	completion, err := s.svc.Prepare(r.Context(), chat.CompleteInput{
		Conversation: ref,
		Content:      req.Content,
		MessageID:    firstNonEmpty(req.MessageID, req.MessageIDSnake),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	setSSEHeaders(w.Header())
	w.Header().Set(ConversationHeader, completion.Conversation().ID.String())
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	logger := hlog.FromRequest(r).With().Str("conversation", completion.Conversation().ID.String()).Logger()
	res, err := completion.Run(r.Context(), sse.Data)
	if err != nil {
		logger.Error().Err(err).Msg("completion failed")
	} else if res.Stream.Partial() {
		logger.Warn().Err(res.Stream.Cause).Int("chars", len(res.Stream.Text)).Msg("upstream failed, partial reply saved")
	}
	if r.Context().Err() == nil {
		if err := sse.Done(); err != nil {
			logger.Debug().Err(err).Msg("write done frame")
		}
	}
}

func readCompletionRequest(w http.ResponseWriter, r *http.Request) (completionRequest, error) {
	var req completionRequest
	if r.Method == http.MethodPost {
		if err := decodeBody(w, r, &req); err != nil {
			return req, err
		}
	}
	q := r.URL.Query()
	req.ConversationID = firstNonEmpty(req.ConversationID, req.ConversationIDSnake, q.Get("conversationId"), q.Get("conversation_id"))
	req.Content = firstNonEmpty(req.Content, q.Get("content"), q.Get("message"))
	req.MessageID = firstNonEmpty(req.MessageID, req.MessageIDSnake, q.Get("messageId"), q.Get("message_id"))
	return req, nil
}

// decodeBody reads a JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *chat.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
	case errors.Is(err, chat.ErrMessageNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, store.ErrInvalidRole):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
