// Package store holds the authoritative in-memory client-side model: the
// conversation list, per-conversation message sequences, selection and
// widget state, and the unread counters. It is the only shared mutable
// resource in the core; mutations go through its entry points (single
// writer), readers get copies.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/nuvashop/supportchat/internal/reconcile"
	"go.uber.org/zap"
)

// Store is the conversation store.
type Store struct {
	bus       *bus.Bus
	logger    *zap.Logger
	tolerance time.Duration

	mu       sync.RWMutex
	convs    map[int64]*chat.Conversation
	seqs     map[int64]*reconcile.Sequence
	unread   *unreadTracker
	selected int64 // 0 = no conversation selected
	widget   Widget
}

// New creates an empty store. tolerance is the reconciler's content-match
// window; zero means the default.
func New(b *bus.Bus, logger *zap.Logger, tolerance time.Duration) *Store {
	return &Store{
		bus:       b,
		logger:    logger,
		tolerance: tolerance,
		convs:     make(map[int64]*chat.Conversation),
		seqs:      make(map[int64]*reconcile.Sequence),
		unread:    newUnreadTracker(),
	}
}

func (s *Store) seq(convID int64) *reconcile.Sequence {
	if sq, ok := s.seqs[convID]; ok {
		return sq
	}
	sq := reconcile.NewSequence(s.tolerance)
	s.seqs[convID] = sq
	return sq
}

// ReplaceConversations is the bulk-refresh entry point (REST hydration).
// Message sequences are kept; server-provided unread counts replace local
// ones, except that the selected conversation stays read.
func (s *Store) ReplaceConversations(convs []chat.Conversation) {
	s.mu.Lock()
	known := make(map[int64]bool, len(convs))
	next := make(map[int64]*chat.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		known[c.ID] = true
		next[c.ID] = &c
		if c.ID == s.selected {
			s.unread.set(c.ID, 0)
		} else {
			s.unread.set(c.ID, c.Unread)
		}
	}
	for id := range s.convs {
		if !known[id] {
			s.unread.drop(id)
			delete(s.seqs, id)
		}
	}
	s.convs = next
	s.mu.Unlock()

	s.publishUnread()
	s.publishUpdated()
}

// UpsertConversation inserts or updates a single conversation without
// touching its unread counter or message sequence.
func (s *Store) UpsertConversation(c chat.Conversation) {
	s.mu.Lock()
	if prev, ok := s.convs[c.ID]; ok && c.UpdatedAt.Before(prev.UpdatedAt) {
		c.UpdatedAt = prev.UpdatedAt
	}
	s.convs[c.ID] = &c
	s.mu.Unlock()
	s.publishUpdated()
}

// ApplyMessage routes one message (channel push or REST response) through
// the reconciler. A message for an unknown or closed conversation is
// rejected. Accepted messages for a non-selected conversation bump the
// unread counters.
func (s *Store) ApplyMessage(m chat.Message) (reconcile.Outcome, error) {
	s.mu.Lock()
	c, ok := s.convs[m.ConversationID]
	if !ok {
		s.mu.Unlock()
		return reconcile.Skipped, fmt.Errorf("message for conversation %d: %w", m.ConversationID, chat.ErrUnknownConversation)
	}
	if c.Status == chat.StatusClosed {
		s.mu.Unlock()
		return reconcile.Skipped, fmt.Errorf("message for conversation %d: %w", m.ConversationID, chat.ErrConversationClosed)
	}

	out := s.seq(m.ConversationID).Insert(m)
	if out == reconcile.Inserted {
		if m.CreatedAt.After(c.UpdatedAt) {
			c.UpdatedAt = m.CreatedAt
		}
		// System entries (agent joined, closed) inform; they are not
		// unread mail.
		if m.ConversationID != s.selected && !m.IsSystem {
			s.unread.bump(m.ConversationID)
		}
	}
	s.mu.Unlock()

	if out == reconcile.Inserted || out == reconcile.Acknowledged {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageAppended, Payload: m})
		s.publishUnread()
		s.publishUpdated()
	}
	return out, nil
}

// ApplyHistory applies a bulk message fetch for one conversation (channel
// history replay or REST list-messages). A full fetch marks the
// conversation read. Malformed entries are skipped by the reconciler; one
// bad record cannot block the batch.
func (s *Store) ApplyHistory(convID int64, msgs []chat.Message) int {
	s.mu.Lock()
	if _, ok := s.convs[convID]; !ok {
		s.mu.Unlock()
		s.logger.Warn("history for unknown conversation", zap.Int64("conversation_id", convID))
		return 0
	}
	inserted := s.seq(convID).InsertBatch(msgs)
	s.unread.clear(convID)
	s.mu.Unlock()

	s.publishUnread()
	s.publishUpdated()
	return inserted
}

// Preload seeds a conversation's sequence from the local snapshot cache.
// Unlike ApplyHistory it does not touch the unread count: the cached count
// loaded by ReplaceConversations must survive until the user actually opens
// the conversation.
func (s *Store) Preload(convID int64, msgs []chat.Message) int {
	s.mu.Lock()
	if _, ok := s.convs[convID]; !ok {
		s.mu.Unlock()
		s.logger.Warn("preload for unknown conversation", zap.Int64("conversation_id", convID))
		return 0
	}
	inserted := s.seq(convID).InsertBatch(msgs)
	s.mu.Unlock()

	if inserted != 0 {
		s.publishUpdated()
	}
	return inserted
}

// AppendLocal inserts an optimistic local send. The caller has already
// passed the lifecycle check; local sends never count as unread.
func (s *Store) AppendLocal(m chat.Message) error {
	s.mu.Lock()
	c, ok := s.convs[m.ConversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("local send to conversation %d: %w", m.ConversationID, chat.ErrUnknownConversation)
	}
	if !chat.CanSend(c) {
		s.mu.Unlock()
		return fmt.Errorf("local send to conversation %d: %w", m.ConversationID, chat.ErrConversationClosed)
	}
	s.seq(m.ConversationID).Insert(m)
	if m.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = m.CreatedAt
	}
	s.mu.Unlock()

	s.bus.Publish(bus.Event{Kind: bus.KindMessageAppended, Payload: m})
	s.publishUpdated()
	return nil
}

// MarkSendFailed flags an optimistic message as failed so the UI can offer
// a per-message retry.
func (s *Store) MarkSendFailed(convID int64, tempID string) {
	s.mu.Lock()
	found := s.seq(convID).MarkFailed(tempID)
	s.mu.Unlock()
	if found {
		s.bus.Publish(bus.Event{Kind: bus.KindMessageSendFailed, Payload: tempID})
		s.publishUpdated()
	}
}

// ClearSendFailed puts a failed optimistic message back in the sending state
// ahead of a retry.
func (s *Store) ClearSendFailed(convID int64, tempID string) {
	s.mu.Lock()
	found := s.seq(convID).ClearFailed(tempID)
	s.mu.Unlock()
	if found {
		s.publishUpdated()
	}
}

// Assign applies an agent assignment, local or remote.
func (s *Store) Assign(convID, agentID int64, agentName string, at time.Time) error {
	s.mu.Lock()
	c, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("assign on conversation %d: %w", convID, chat.ErrUnknownConversation)
	}
	err := chat.Assign(c, agentID, agentName, at)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publishStatus(convID, chat.StatusInProgress)
	s.publishUpdated()
	return nil
}

// Close applies a close transition, local or remote. Idempotent.
func (s *Store) Close(convID int64, at time.Time) error {
	s.mu.Lock()
	c, ok := s.convs[convID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("close on conversation %d: %w", convID, chat.ErrUnknownConversation)
	}
	already := c.Status == chat.StatusClosed
	err := chat.Close(c, at)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !already {
		s.publishStatus(convID, chat.StatusClosed)
		s.publishUpdated()
	}
	return nil
}

// CanSendTo is the synchronous lifecycle check performed before any I/O.
func (s *Store) CanSendTo(convID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return fmt.Errorf("conversation %d: %w", convID, chat.ErrUnknownConversation)
	}
	if !chat.CanSend(c) {
		return fmt.Errorf("conversation %d: %w", convID, chat.ErrConversationClosed)
	}
	return nil
}

// Select makes a conversation the active one and marks it read. Selecting 0
// deselects.
func (s *Store) Select(convID int64) {
	s.mu.Lock()
	s.selected = convID
	cleared := 0
	if convID != 0 {
		cleared = s.unread.clear(convID)
	}
	s.mu.Unlock()

	if cleared != 0 {
		s.publishUnread()
	}
	s.publishUpdated()
}

// Selected returns the active conversation id, 0 if none.
func (s *Store) Selected() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// SetWidget replaces the widget state.
func (s *Store) SetWidget(w Widget) {
	s.mu.Lock()
	s.widget = w
	s.mu.Unlock()
	s.publishUpdated()
}

// Widget returns the current widget state.
func (s *Store) Widget() Widget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.widget
}

// Conversation returns a copy of one conversation with its unread count.
func (s *Store) Conversation(convID int64) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return chat.Conversation{}, false
	}
	out := *c
	out.Unread = s.unread.count(convID)
	return out, true
}

// Conversations returns a snapshot of all conversations, most recently
// updated first.
func (s *Store) Conversations() []chat.Conversation {
	s.mu.RLock()
	out := make([]chat.Conversation, 0, len(s.convs))
	for id, c := range s.convs {
		cp := *c
		cp.Unread = s.unread.count(id)
		out = append(out, cp)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Messages returns a copy of one conversation's reconciled sequence.
func (s *Store) Messages(convID int64) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sq, ok := s.seqs[convID]
	if !ok {
		return nil
	}
	return sq.Messages()
}

// AggregateUnread returns the total unread count across conversations.
func (s *Store) AggregateUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread.sum()
}

// UnreadFor returns one conversation's unread count.
func (s *Store) UnreadFor(convID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread.count(convID)
}

func (s *Store) publishUpdated() {
	s.bus.Publish(bus.Event{Kind: bus.KindStoreUpdated})
}

func (s *Store) publishUnread() {
	s.mu.RLock()
	total := s.unread.sum()
	s.mu.RUnlock()
	s.bus.Publish(bus.Event{Kind: bus.KindUnreadChanged, Payload: total})
}

func (s *Store) publishStatus(convID int64, status chat.Status) {
	s.bus.Publish(bus.Event{Kind: bus.KindConversationStatus, Payload: StatusChange{
		ConversationID: convID,
		Status:         status,
	}})
}

// StatusChange is the payload for conversation.status_changed events.
type StatusChange struct {
	ConversationID int64
	Status         chat.Status
}
