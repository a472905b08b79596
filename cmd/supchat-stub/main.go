// supchat-stub is an in-memory support backend for local development: the
// REST surface and the websocket channel the client expects, with no
// persistence. Tokens are "id:name:role", e.g. "42:sam:customer" or
// "7:dana:agent".
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/nuvashop/supportchat/internal/conn"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("addr", ":3000", "listen address")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	s := newServer(logger)
	logger.Info("stub backend listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, s.routes()); err != nil {
		logger.Fatal("serve", zap.Error(err))
	}
}

type identity struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Agent bool   `json:"is_agent"`
}

type server struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	convs    map[int64]*chat.Conversation
	msgs     map[int64][]chat.Message
	tempSeen map[string]int64 // temp_id -> assigned server id
	nextConv int64
	nextMsg  int64
	clients  map[*wsClient]struct{}
}

func newServer(logger *zap.Logger) *server {
	return &server{
		logger:   logger,
		convs:    make(map[int64]*chat.Conversation),
		msgs:     make(map[int64][]chat.Message),
		tempSeen: make(map[string]int64),
		clients:  make(map[*wsClient]struct{}),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", s.auth(s.handleMe))
	mux.HandleFunc("GET /api/conversations", s.auth(s.handleMyConversations))
	mux.HandleFunc("GET /api/conversations/all", s.auth(s.handleAllConversations))
	mux.HandleFunc("GET /api/conversations/unread-count", s.auth(s.handleUnreadCount))
	mux.HandleFunc("POST /api/conversations", s.auth(s.handleCreateConversation))
	mux.HandleFunc("GET /api/conversations/{id}", s.auth(s.handleGetConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.auth(s.handleListMessages))
	mux.HandleFunc("POST /api/conversations/{id}/messages", s.auth(s.handleSendMessage))
	mux.HandleFunc("PATCH /api/conversations/{id}/status", s.auth(s.handleUpdateStatus))
	mux.HandleFunc("POST /api/conversations/{id}/assign", s.auth(s.handleAssign))
	mux.HandleFunc("GET /chat", s.handleChannel)
	return mux
}

// parseToken decodes the "id:name:role" dev token format.
func parseToken(token string) (identity, error) {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) != 3 {
		return identity{}, fmt.Errorf("malformed token %q", token)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return identity{}, fmt.Errorf("malformed token %q", token)
	}
	return identity{ID: id, Name: parts[1], Agent: parts[2] == "agent"}, nil
}

func bearerIdentity(r *http.Request) (identity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return identity{}, fmt.Errorf("missing bearer token")
	}
	return parseToken(token)
}

func (s *server) auth(next func(http.ResponseWriter, *http.Request, identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := bearerIdentity(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, ident)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id
}

func (s *server) handleMe(w http.ResponseWriter, _ *http.Request, ident identity) {
	writeJSON(w, ident)
}

func (s *server) handleMyConversations(w http.ResponseWriter, _ *http.Request, ident identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []chat.Conversation{}
	for _, c := range s.convs {
		mine := c.CustomerID == ident.ID
		if ident.Agent {
			mine = c.AgentID != nil && *c.AgentID == ident.ID
		}
		if mine {
			out = append(out, *c)
		}
	}
	writeJSON(w, out)
}

func (s *server) handleAllConversations(w http.ResponseWriter, r *http.Request, ident identity) {
	if !ident.Agent {
		writeError(w, http.StatusForbidden, "agents only")
		return
	}
	filter := r.URL.Query().Get("status")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []chat.Conversation{}
	for _, c := range s.convs {
		if filter != "" && string(c.Status) != filter {
			continue
		}
		out = append(out, *c)
	}
	writeJSON(w, out)
}

func (s *server) handleUnreadCount(w http.ResponseWriter, _ *http.Request, _ identity) {
	// Server-side read tracking is out of scope for the stub.
	writeJSON(w, map[string]int{"count": 0})
}

func (s *server) handleCreateConversation(w http.ResponseWriter, r *http.Request, ident identity) {
	var req struct {
		Subject        string `json:"subject"`
		InitialMessage string `json:"initial_message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Subject == "" || req.InitialMessage == "" {
		writeError(w, http.StatusBadRequest, "subject and initial_message required")
		return
	}

	s.mu.Lock()
	s.nextConv++
	now := time.Now().UTC()
	c := &chat.Conversation{
		ID:         s.nextConv,
		Subject:    req.Subject,
		Status:     chat.StatusPending,
		CustomerID: ident.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.convs[c.ID] = c
	s.nextMsg++
	msgID := s.nextMsg
	m := chat.Message{
		ID:             &msgID,
		ConversationID: c.ID,
		SenderID:       ident.ID,
		Body:           req.InitialMessage,
		CreatedAt:      now,
	}
	s.msgs[c.ID] = append(s.msgs[c.ID], m)
	out := *c
	s.mu.Unlock()

	s.broadcast(conn.EventNewMessage, map[string]any{"message": m})
	writeJSON(w, out)
}

func (s *server) handleGetConversation(w http.ResponseWriter, r *http.Request, _ identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[pathID(r)]
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, *c)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request, _ identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.msgs[pathID(r)]
	if !ok {
		if _, exists := s.convs[pathID(r)]; !exists {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
	}
	writeJSON(w, msgs)
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request, ident identity) {
	var req struct {
		Body   string `json:"body"`
		TempID string `json:"temp_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Body == "" {
		writeError(w, http.StatusBadRequest, "body required")
		return
	}

	m, err := s.appendMessage(pathID(r), ident.ID, req.Body, req.TempID, false)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.broadcast(conn.EventNewMessage, map[string]any{"message": m})
	writeJSON(w, m)
}

func (s *server) handleUpdateStatus(w http.ResponseWriter, r *http.Request, _ identity) {
	var req struct {
		Status chat.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	s.mu.Lock()
	c, ok := s.convs[pathID(r)]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !chat.CanTransition(c.Status, req.Status) {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Sprintf("cannot go from %s to %s", c.Status, req.Status))
		return
	}
	c.Status = req.Status
	c.UpdatedAt = time.Now().UTC()
	id := c.ID
	s.mu.Unlock()

	if req.Status == chat.StatusClosed {
		s.broadcast(conn.EventConversationClosed, conn.ConversationClosed{ConversationID: id})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAssign(w http.ResponseWriter, r *http.Request, ident identity) {
	if !ident.Agent {
		writeError(w, http.StatusForbidden, "agents only")
		return
	}
	if err := s.assign(pathID(r), ident); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// appendMessage records a message, deduplicating resends by temp_id. The
// REST fallback and a later queue flush may both deliver the same logical
// message; the first one wins and the second returns the same record.
func (s *server) appendMessage(convID, senderID int64, body, tempID string, system bool) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[convID]
	if !ok {
		return chat.Message{}, fmt.Errorf("conversation %d not found", convID)
	}
	if c.Status == chat.StatusClosed {
		return chat.Message{}, fmt.Errorf("conversation %d is closed", convID)
	}
	if tempID != "" {
		if id, seen := s.tempSeen[tempID]; seen {
			for _, m := range s.msgs[convID] {
				if m.ID != nil && *m.ID == id {
					return m, nil
				}
			}
		}
	}

	s.nextMsg++
	msgID := s.nextMsg
	m := chat.Message{
		ID:             &msgID,
		TempID:         tempID,
		ConversationID: convID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      time.Now().UTC(),
		IsSystem:       system,
	}
	s.msgs[convID] = append(s.msgs[convID], m)
	c.UpdatedAt = m.CreatedAt
	if tempID != "" {
		s.tempSeen[tempID] = msgID
	}
	return m, nil
}

func (s *server) assign(convID int64, ident identity) error {
	s.mu.Lock()
	c, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("conversation %d not found", convID)
	}
	if err := chat.Assign(c, ident.ID, ident.Name, time.Now().UTC()); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.broadcast(conn.EventAgentJoined, conn.AgentJoined{
		ConversationID: convID,
		AgentID:        ident.ID,
		AgentName:      ident.Name,
	})
	return nil
}

// wsClient is one connected websocket session.
type wsClient struct {
	ident identity
	c     *websocket.Conn
	wm    sync.Mutex
}

func (wc *wsClient) send(event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	wc.wm.Lock()
	defer wc.wm.Unlock()
	return wc.c.WriteJSON(conn.Frame{Event: event, Data: b})
}

// broadcast fans an event out to every connected client. The stub does not
// scope delivery to conversation participants.
func (s *server) broadcast(event string, data any) {
	s.mu.Lock()
	targets := make([]*wsClient, 0, len(s.clients))
	for wc := range s.clients {
		targets = append(targets, wc)
	}
	s.mu.Unlock()

	for _, wc := range targets {
		if err := wc.send(event, data); err != nil {
			s.logger.Warn("broadcast failed", zap.Int64("user", wc.ident.ID), zap.Error(err))
		}
	}
}

func (s *server) handleChannel(w http.ResponseWriter, r *http.Request) {
	ident, err := bearerIdentity(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	wc := &wsClient{ident: ident, c: c}
	s.mu.Lock()
	s.clients[wc] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("channel connected", zap.Int64("user", ident.ID), zap.String("name", ident.Name))

	defer func() {
		s.mu.Lock()
		delete(s.clients, wc)
		s.mu.Unlock()
		_ = c.Close()
		s.logger.Info("channel disconnected", zap.Int64("user", ident.ID))
	}()

	for {
		var f conn.Frame
		if err := c.ReadJSON(&f); err != nil {
			return
		}
		s.handleFrame(wc, f)
	}
}

func (s *server) handleFrame(wc *wsClient, f conn.Frame) {
	switch f.Event {
	case conn.EventJoinConversation:
		var p conn.JoinPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		s.mu.Lock()
		msgs := append([]chat.Message(nil), s.msgs[p.ConversationID]...)
		s.mu.Unlock()
		_ = wc.send(conn.EventConversationHistory, map[string]any{
			"conversation_id": p.ConversationID,
			"messages":        msgs,
		})

	case conn.EventSendMessage:
		var p conn.SendMessagePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		m, err := s.appendMessage(p.ConversationID, wc.ident.ID, p.Body, p.TempID, false)
		if err != nil {
			s.logger.Warn("send rejected", zap.Int64("conversation", p.ConversationID), zap.Error(err))
			return
		}
		s.broadcast(conn.EventNewMessage, map[string]any{"message": m})

	case conn.EventAgentJoin:
		var p conn.JoinPayload
		if err := json.Unmarshal(f.Data, &p); err != nil || !wc.ident.Agent {
			return
		}
		if err := s.assign(p.ConversationID, wc.ident); err != nil {
			s.logger.Warn("assign rejected", zap.Int64("conversation", p.ConversationID), zap.Error(err))
		}

	case conn.EventCloseConversation:
		var p conn.JoinPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		s.mu.Lock()
		c, ok := s.convs[p.ConversationID]
		if ok && c.Status != chat.StatusClosed {
			c.Status = chat.StatusClosed
			c.UpdatedAt = time.Now().UTC()
		}
		s.mu.Unlock()
		if ok {
			s.broadcast(conn.EventConversationClosed, conn.ConversationClosed{ConversationID: p.ConversationID})
		}

	case conn.EventTyping:
		var p conn.TypingPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return
		}
		s.broadcast(conn.EventTyping, conn.Typing{
			ConversationID: p.ConversationID,
			SenderID:       wc.ident.ID,
			IsTyping:       p.IsTyping,
		})
	}
}
