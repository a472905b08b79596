// Package rest consumes the chat persistence API. It is the fallback
// delivery path when the channel is down, and the hydration source for
// conversation lists and message history.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nuvashop/supportchat/internal/chat"
	"go.uber.org/zap"
)

// APIError is a non-2xx response from the chat API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %s (status %d)", e.Message, e.StatusCode)
}

// Client is the REST client for the chat API.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	token   string
}

// Options configure the REST client.
type Options struct {
	BaseURL    string
	Token      string
	RetryMax   int
	RetryWait  time.Duration
	HTTPClient *http.Client // optional, mainly for tests
}

// NewClient creates a chat API client. Transient failures are retried with
// backoff by go-retryablehttp; the retry budget is what bounds delivery
// latency on this path.
func NewClient(opts Options, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWait > 0 {
		rc.RetryWaitMin = opts.RetryWait
	}
	if opts.HTTPClient != nil {
		rc.HTTPClient = opts.HTTPClient
	}
	rc.Logger = &leveledZap{logger.Sugar()}

	return &Client{
		http:    rc,
		baseURL: opts.BaseURL,
		token:   opts.Token,
	}
}

// leveledZap adapts zap to retryablehttp's LeveledLogger.
type leveledZap struct {
	s *zap.SugaredLogger
}

func (l *leveledZap) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *leveledZap) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *leveledZap) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l *leveledZap) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
			if e.Error != "" {
				msg = e.Error
			} else if e.Message != "" {
				msg = e.Message
			}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// Identity describes the authenticated user as the server sees it.
type Identity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Agent bool   `json:"is_agent"`
}

// Me resolves the identity behind the auth token.
func (c *Client) Me(ctx context.Context) (Identity, error) {
	var out Identity
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return Identity{}, err
	}
	return out, nil
}

// MyConversations lists the caller's conversations.
func (c *Client) MyConversations(ctx context.Context) ([]chat.Conversation, error) {
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AllConversations lists every conversation (agent-only), optionally
// filtered by status.
func (c *Client) AllConversations(ctx context.Context, status *chat.Status) ([]chat.Conversation, error) {
	path := "/api/conversations/all"
	if status != nil {
		path += "?status=" + url.QueryEscape(string(*status))
	}
	var out []chat.Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches a single conversation.
func (c *Client) GetConversation(ctx context.Context, id int64) (chat.Conversation, error) {
	var out chat.Conversation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d", id), nil, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out, nil
}

// ListMessages fetches a conversation's full message history.
func (c *Client) ListMessages(ctx context.Context, id int64) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/conversations/%d/messages", id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateConversation opens a new conversation with an initial message.
func (c *Client) CreateConversation(ctx context.Context, subject, initialMessage string) (chat.Conversation, error) {
	body := map[string]string{
		"subject":         subject,
		"initial_message": initialMessage,
	}
	var out chat.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations", body, &out); err != nil {
		return chat.Conversation{}, err
	}
	return out, nil
}

// SendMessage delivers a message over REST (channel fallback). The returned
// message carries the server identity.
func (c *Client) SendMessage(ctx context.Context, id int64, body, tempID string) (chat.Message, error) {
	req := map[string]string{"body": body}
	if tempID != "" {
		req["temp_id"] = tempID
	}
	var out chat.Message
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/messages", id), req, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

// UpdateStatus sets a conversation's status.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status chat.Status) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/conversations/%d/status", id),
		map[string]string{"status": string(status)}, nil)
}

// Assign assigns an agent to a conversation (agent-only).
func (c *Client) Assign(ctx context.Context, id, agentID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/conversations/%d/assign", id),
		map[string]int64{"agent_id": agentID}, nil)
}

// UnreadCount fetches the server-side aggregate unread count.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}
