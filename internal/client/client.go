// Package client talks to a running chat relay over HTTP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"chat-relay/internal/store"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	doneSentinel       = "[DONE]"
	conversationHeader = "X-Conversation-Id"
)

// ErrStreamTruncated means the event stream ended without the [DONE] frame.
var ErrStreamTruncated = errors.New("event stream ended before [DONE]")

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

type SendInput struct {
	ConversationID string
	MessageID      string
	Content        string
}

type SendResult struct {
	Status         string    `json:"status"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	Created        bool      `json:"created"`
}

type CompleteInput struct {
	ConversationID string `json:"conversationId,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

type CompleteResult struct {
	ConversationID uuid.UUID
	Text           string
}

// FragmentHandler receives each streamed fragment in order.
type FragmentHandler func(fragment string) error

func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var out []store.Conversation
	if err := c.getJSON(ctx, "/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]store.Message, error) {
	var out []store.Message
	if err := c.getJSON(ctx, "/messages/"+conversationID.String(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, in SendInput) (SendResult, error) {
	payload := map[string]any{
		"conversationId": in.ConversationID,
		"message": map[string]string{
			"id":      in.MessageID,
			"role":    string(store.RoleUser),
			"content": in.Content,
		},
	}
	resp, err := c.post(ctx, "/chat/send", payload, "application/json")
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()

	var out SendResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SendResult{}, errors.Wrap(err, "decode response")
	}
	return out, nil
}

// Complete requests a completion and calls handle for every fragment. The
// returned text is the concatenation of all fragments. When the stream ends
// without [DONE], the text read so far is returned with ErrStreamTruncated.
func (c *Client) Complete(ctx context.Context, in CompleteInput, handle FragmentHandler) (CompleteResult, error) {
	resp, err := c.post(ctx, "/chat/completions", in, "text/event-stream")
	if err != nil {
		return CompleteResult{}, err
	}
	defer resp.Body.Close()

	out := CompleteResult{}
	if id, err := uuid.Parse(resp.Header.Get(conversationHeader)); err == nil {
		out.ConversationID = id
	}

	var text strings.Builder
	err = readEvents(resp.Body, func(data string) (bool, error) {
		if data == doneSentinel {
			return true, nil
		}
		text.WriteString(data)
		if handle != nil {
			return false, handle(data)
		}
		return false, nil
	})
	out.Text = text.String()
	return out, err
}

// readEvents parses a server-sent event stream and calls fn with the data of
// each event. Multiple data lines of one event are joined with "\n".
func readEvents(body io.Reader, fn func(data string) (done bool, err error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		lines   []string
		hasData bool
	)
	dispatch := func() (bool, error) {
		if !hasData {
			return false, nil
		}
		data := strings.Join(lines, "\n")
		lines, hasData = lines[:0], false
		return fn(data)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			done, err := dispatch()
			if err != nil || done {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field == "data" {
			lines = append(lines, value)
			hasData = true
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stream")
	}
	return ErrStreamTruncated
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any, accept string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}

// StatusError is a non-2xx reply from the relay.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return "chat relay: " + http.StatusText(e.StatusCode) + ": " + e.Message
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
