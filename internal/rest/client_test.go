package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuvashop/supportchat/internal/chat"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:   srv.URL,
		Token:     "tok-123",
		RetryMax:  2,
		RetryWait: time.Millisecond,
	}, zap.NewNop())
}

func TestAuthHeaderSent(t *testing.T) {
	var gotAuth string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([]chat.Conversation{})
	}))

	if _, err := c.MyConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q, want bearer token", gotAuth)
	}
}

func TestSendMessage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/conversations/5/messages" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["body"] != "hello" || req["temp_id"] != "tmp-1" {
			t.Errorf("request body = %v", req)
		}
		id := int64(99)
		_ = json.NewEncoder(w).Encode(chat.Message{
			ID: &id, ConversationID: 5, SenderID: 42, Body: "hello", CreatedAt: time.Now(),
		})
	}))

	msg, err := c.SendMessage(context.Background(), 5, "hello", "tmp-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == nil || *msg.ID != 99 {
		t.Errorf("server id = %v, want 99", msg.ID)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "agents only"})
	}))

	_, err := c.AllConversations(context.Background(), nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "agents only" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestTransientFailureRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"count": 3})
	}))

	n, err := c.UnreadCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestStatusFilterQuery(t *testing.T) {
	var gotQuery string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]chat.Conversation{})
	}))

	status := chat.StatusPending
	if _, err := c.AllConversations(context.Background(), &status); err != nil {
		t.Fatal(err)
	}
	if gotQuery != "status=pending" {
		t.Errorf("query = %q, want status=pending", gotQuery)
	}
}
