// Package engine applies external events to the conversation store and
// exposes the operation facade the UI layer calls. Channel events arrive on
// the bus (published by the connection manager's read loop); the engine is
// the only component that turns them into store mutations, which keeps the
// store's single-writer discipline intact.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/cache"
	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/nuvashop/supportchat/internal/conn"
	"github.com/nuvashop/supportchat/internal/rest"
	"github.com/nuvashop/supportchat/internal/store"
	"go.uber.org/zap"
)

// Engine routes inbound channel events into the store and the snapshot
// cache. It subscribes to "channel." events on the bus.
type Engine struct {
	store  *store.Store
	cache  *cache.DB // may be nil: cache is an optional read accelerator
	rest   *rest.Client
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates an engine.
func NewEngine(st *store.Store, db *cache.DB, rc *rest.Client, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		store:  st,
		cache:  db,
		rest:   rc,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound channel events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(256, "channel.")

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindChannelMessage:
		msg, ok := evt.Payload.(chat.Message)
		if !ok {
			return
		}
		e.applyMessage(ctx, msg)
	case bus.KindChannelHistory:
		batch, ok := evt.Payload.(conn.HistoryBatch)
		if !ok {
			return
		}
		inserted := e.store.ApplyHistory(batch.ConversationID, batch.Messages)
		e.logger.Info("history applied",
			zap.Int64("conversation_id", batch.ConversationID),
			zap.Int("received", len(batch.Messages)),
			zap.Int("inserted", inserted))
		e.cacheMessages(e.store.Messages(batch.ConversationID))
	case bus.KindChannelAgentJoin:
		d, ok := evt.Payload.(conn.AgentJoined)
		if !ok {
			return
		}
		e.applyAgentJoined(ctx, d, evt.Timestamp)
	case bus.KindChannelClosed:
		d, ok := evt.Payload.(conn.ConversationClosed)
		if !ok {
			return
		}
		// The notice has to land before the close; a closed conversation
		// accepts no further messages.
		sys := chat.Message{
			ConversationID: d.ConversationID,
			Body:           "Conversation closed",
			CreatedAt:      evt.Timestamp,
			IsSystem:       true,
		}
		if _, err := e.store.ApplyMessage(sys); err == nil {
			e.cacheMessage(sys)
		}
		if err := e.store.Close(d.ConversationID, evt.Timestamp); err != nil {
			e.logger.Warn("remote close rejected", zap.Int64("conversation_id", d.ConversationID), zap.Error(err))
			return
		}
		e.cacheConversation(d.ConversationID)
	}
}

// applyMessage applies one pushed message. A message for a conversation the
// store has never seen triggers a REST lookup so a freshly created
// conversation can receive pushes before the next full hydration.
func (e *Engine) applyMessage(ctx context.Context, msg chat.Message) {
	_, err := e.store.ApplyMessage(msg)
	if errors.Is(err, chat.ErrUnknownConversation) && e.rest != nil {
		c, rerr := e.rest.GetConversation(ctx, msg.ConversationID)
		if rerr != nil {
			e.logger.Warn("failed to resolve unknown conversation",
				zap.Int64("conversation_id", msg.ConversationID), zap.Error(rerr))
			return
		}
		e.store.UpsertConversation(c)
		e.cacheConversation(c.ID)
		_, err = e.store.ApplyMessage(msg)
	}
	if err != nil {
		e.logger.Warn("message rejected", zap.Int64("conversation_id", msg.ConversationID), zap.Error(err))
		return
	}
	e.cacheMessage(msg)
	e.cacheConversation(msg.ConversationID)
}

func (e *Engine) applyAgentJoined(_ context.Context, d conn.AgentJoined, at time.Time) {
	if err := e.store.Assign(d.ConversationID, d.AgentID, d.AgentName, at); err != nil {
		// A duplicate agent_joined after hydration is expected noise.
		e.logger.Debug("remote assign rejected", zap.Int64("conversation_id", d.ConversationID), zap.Error(err))
		return
	}
	sys := chat.Message{
		ConversationID: d.ConversationID,
		Body:           d.AgentName + " joined the conversation",
		CreatedAt:      at,
		IsSystem:       true,
	}
	if _, err := e.store.ApplyMessage(sys); err == nil {
		e.cacheMessage(sys)
	}
	e.cacheConversation(d.ConversationID)
}

func (e *Engine) cacheMessage(m chat.Message) {
	if e.cache == nil {
		return
	}
	if err := e.cache.UpsertMessage(&m); err != nil {
		e.logger.Warn("cache write failed", zap.Error(err))
	}
}

func (e *Engine) cacheMessages(msgs []chat.Message) {
	if e.cache == nil || len(msgs) == 0 {
		return
	}
	if err := e.cache.SaveMessages(msgs); err != nil {
		e.logger.Warn("cache batch write failed", zap.Error(err))
	}
}

func (e *Engine) cacheConversation(id int64) {
	if e.cache == nil {
		return
	}
	c, ok := e.store.Conversation(id)
	if !ok {
		return
	}
	if err := e.cache.UpsertConversation(&c); err != nil {
		e.logger.Warn("cache write failed", zap.Error(err))
	}
}
