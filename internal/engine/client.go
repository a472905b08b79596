package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nuvashop/supportchat/internal/cache"
	"github.com/nuvashop/supportchat/internal/chat"
	"github.com/nuvashop/supportchat/internal/conn"
	"github.com/nuvashop/supportchat/internal/rest"
	"github.com/nuvashop/supportchat/internal/store"
	"go.uber.org/zap"
)

// Identity is the authenticated principal acting through this client,
// resolved by the external auth collaborator alongside the identity token.
type Identity struct {
	UserID int64
	Name   string
	Agent  bool
}

// Client is the operation facade the UI layer calls. Every operation
// follows the same path: synchronous domain checks against the store, then
// a channel emission with REST fallback, with results flowing back through
// the reconciler into the store.
type Client struct {
	conn     *conn.Manager
	rest     *rest.Client
	store    *store.Store
	cache    *cache.DB // may be nil
	logger   *zap.Logger
	identity Identity
}

// NewClient creates the operation facade.
func NewClient(cm *conn.Manager, rc *rest.Client, st *store.Store, db *cache.DB, ident Identity, logger *zap.Logger) *Client {
	return &Client{
		conn:     cm,
		rest:     rc,
		store:    st,
		cache:    db,
		logger:   logger,
		identity: ident,
	}
}

// Identity returns the acting principal.
func (c *Client) Identity() Identity {
	return c.identity
}

// Store exposes the read-only snapshot surface for observers.
func (c *Client) Store() *store.Store {
	return c.store
}

// Connection exposes connection state for the UI banner.
func (c *Client) Connection() conn.State {
	return c.conn.Snapshot()
}

// Connect brings the channel up with the identity token.
func (c *Client) Connect(ctx context.Context, token string) {
	c.conn.Connect(ctx, token)
}

// RetryConnection re-arms a persistently down channel (the banner action).
func (c *Client) RetryConnection(ctx context.Context) {
	c.conn.Retry(ctx)
}

// WarmFromCache paints the store from the local snapshot cache before the
// first hydration. Best effort; a cold cache is not an error.
func (c *Client) WarmFromCache() {
	if c.cache == nil {
		return
	}
	convs, err := c.cache.ListConversations(0)
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err))
		return
	}
	if len(convs) == 0 {
		return
	}
	c.store.ReplaceConversations(convs)
	for _, cv := range convs {
		msgs, err := c.cache.ListMessages(cv.ID, 0)
		if err != nil {
			continue
		}
		c.store.Preload(cv.ID, msgs)
	}
	c.logger.Info("store warmed from cache", zap.Int("conversations", len(convs)))
}

// Hydrate refreshes the conversation list over REST. Agents see every
// conversation; customers only their own.
func (c *Client) Hydrate(ctx context.Context) error {
	var (
		convs []chat.Conversation
		err   error
	)
	if c.identity.Agent {
		convs, err = c.rest.AllConversations(ctx, nil)
	} else {
		convs, err = c.rest.MyConversations(ctx)
	}
	if err != nil {
		return fmt.Errorf("hydrate conversations: %w", err)
	}
	c.store.ReplaceConversations(convs)
	if c.cache != nil {
		if cerr := c.cache.ReplaceConversations(convs); cerr != nil {
			c.logger.Warn("cache refresh failed", zap.Error(cerr))
		}
	}

	// Cross-check the per-conversation counts against the server's
	// aggregate. Drift means a missed push or a stale cache.
	if total, terr := c.rest.UnreadCount(ctx); terr != nil {
		c.logger.Debug("unread count fetch failed", zap.Error(terr))
	} else if local := c.store.AggregateUnread(); total != local {
		c.logger.Warn("unread count drift",
			zap.Int("server", total),
			zap.Int("local", local))
	}
	return nil
}

// OpenConversation selects a conversation, joins its channel room, and
// hydrates its history. Selection alone marks it read.
func (c *Client) OpenConversation(ctx context.Context, convID int64) error {
	if _, ok := c.store.Conversation(convID); !ok {
		return fmt.Errorf("open conversation %d: %w", convID, chat.ErrUnknownConversation)
	}
	c.store.Select(convID)

	// Queued while disconnected; the join goes out on reconnect.
	if err := c.conn.Emit(conn.EventJoinConversation, conn.JoinPayload{ConversationID: convID}); err != nil && !errors.Is(err, conn.ErrNotConnected) {
		c.logger.Warn("join not delivered", zap.Int64("conversation_id", convID), zap.Error(err))
	}

	msgs, err := c.rest.ListMessages(ctx, convID)
	if err != nil {
		return fmt.Errorf("hydrate messages for conversation %d: %w", convID, err)
	}
	c.store.ApplyHistory(convID, msgs)
	if c.cache != nil {
		if cerr := c.cache.SaveMessages(c.store.Messages(convID)); cerr != nil {
			c.logger.Warn("cache write failed", zap.Error(cerr))
		}
	}
	return nil
}

// CloseActive deselects the active conversation.
func (c *Client) CloseActive() {
	c.store.Select(0)
}

// SendMessage sends a message with optimistic local echo. While the channel
// is down the emission is queued and the message is also delivered over
// REST, so latency stays bounded; if both paths fail the message is flagged
// for per-message retry and the error returned.
func (c *Client) SendMessage(ctx context.Context, convID int64, body string) (chat.Message, error) {
	if err := c.store.CanSendTo(convID); err != nil {
		return chat.Message{}, err
	}

	msg := chat.Message{
		TempID:         uuid.New().String(),
		ConversationID: convID,
		SenderID:       c.identity.UserID,
		Body:           body,
		CreatedAt:      time.Now(),
	}
	if err := c.store.AppendLocal(msg); err != nil {
		return chat.Message{}, err
	}
	if c.cache != nil {
		if err := c.cache.UpsertMessage(&msg); err != nil {
			c.logger.Warn("cache write failed", zap.Error(err))
		}
	}

	return c.deliver(ctx, msg)
}

// RetryMessage re-sends a message previously flagged as failed. The retry
// keeps the original temp id, so the server dedups a copy that already
// landed and the reconciler folds the eventual echo into the same entry.
func (c *Client) RetryMessage(ctx context.Context, convID int64, tempID string) (chat.Message, error) {
	if err := c.store.CanSendTo(convID); err != nil {
		return chat.Message{}, err
	}
	for _, m := range c.store.Messages(convID) {
		if m.TempID == tempID && m.Failed {
			c.store.ClearSendFailed(convID, tempID)
			return c.deliver(ctx, m)
		}
	}
	return chat.Message{}, fmt.Errorf("retry message %s: no failed message found", tempID)
}

// deliver pushes an optimistic message out: over the channel when up,
// queued plus REST while it is down. If both paths fail the entry is
// flagged for per-message retry.
func (c *Client) deliver(ctx context.Context, msg chat.Message) (chat.Message, error) {
	err := c.conn.Emit(conn.EventSendMessage, conn.SendMessagePayload{
		ConversationID: msg.ConversationID,
		Body:           msg.Body,
		TempID:         msg.TempID,
	})
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, conn.ErrNotConnected) {
		c.store.MarkSendFailed(msg.ConversationID, msg.TempID)
		return msg, fmt.Errorf("send message: %w", err)
	}

	// Channel down: the event sits in the pending queue, and REST bounds
	// the delivery latency. The reconciler collapses whichever copy lands
	// first with the others.
	acked, rerr := c.rest.SendMessage(ctx, msg.ConversationID, msg.Body, msg.TempID)
	if rerr != nil {
		c.store.MarkSendFailed(msg.ConversationID, msg.TempID)
		return msg, fmt.Errorf("send message via rest: %w", rerr)
	}
	acked.TempID = msg.TempID
	if _, aerr := c.store.ApplyMessage(acked); aerr != nil {
		c.logger.Warn("rest ack not applied", zap.Error(aerr))
	}
	if c.cache != nil {
		if cerr := c.cache.UpsertMessage(&acked); cerr != nil {
			c.logger.Warn("cache write failed", zap.Error(cerr))
		}
	}
	return acked, nil
}

// CreateConversation opens a new conversation with its initial message and
// selects it.
func (c *Client) CreateConversation(ctx context.Context, subject, initialMessage string) (chat.Conversation, error) {
	created, err := c.rest.CreateConversation(ctx, subject, initialMessage)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	c.store.UpsertConversation(created)
	if c.cache != nil {
		if cerr := c.cache.UpsertConversation(&created); cerr != nil {
			c.logger.Warn("cache write failed", zap.Error(cerr))
		}
	}
	c.store.SetWidget(store.Widget{Open: true})
	if err := c.OpenConversation(ctx, created.ID); err != nil {
		c.logger.Warn("open after create failed", zap.Int64("conversation_id", created.ID), zap.Error(err))
	}
	return created, nil
}

// AssignToMe claims a pending conversation for the acting agent. The local
// transition runs first so an illegal assign fails before any I/O.
func (c *Client) AssignToMe(ctx context.Context, convID int64) error {
	if !c.identity.Agent {
		return fmt.Errorf("assign conversation %d: %w", convID, chat.ErrPrivilege)
	}
	if err := c.store.Assign(convID, c.identity.UserID, c.identity.Name, time.Now()); err != nil {
		return err
	}
	c.cacheConversation(convID)

	if err := c.conn.Emit(conn.EventAgentJoin, conn.JoinPayload{ConversationID: convID}); err != nil {
		// Not queueable; REST is the durable path.
		if rerr := c.rest.Assign(ctx, convID, c.identity.UserID); rerr != nil {
			return fmt.Errorf("propagate assign: %w", rerr)
		}
	}
	return nil
}

// CloseConversation closes a conversation. Idempotent; the local transition
// runs first and an illegal close fails before any I/O.
func (c *Client) CloseConversation(ctx context.Context, convID int64) error {
	if err := c.store.Close(convID, time.Now()); err != nil {
		return err
	}
	c.cacheConversation(convID)

	if err := c.conn.Emit(conn.EventCloseConversation, conn.ConversationClosed{ConversationID: convID}); err != nil {
		if rerr := c.rest.UpdateStatus(ctx, convID, chat.StatusClosed); rerr != nil {
			return fmt.Errorf("propagate close: %w", rerr)
		}
	}
	return nil
}

// Typing reports composing state. Best effort: dropped while disconnected.
func (c *Client) Typing(convID int64, isTyping bool) {
	err := c.conn.Emit(conn.EventTyping, conn.TypingPayload{ConversationID: convID, IsTyping: isTyping})
	if err != nil && !errors.Is(err, conn.ErrEventDropped) {
		c.logger.Debug("typing not delivered", zap.Error(err))
	}
}

// Logout tears the session down for good: the channel, its queue, and the
// connection state are discarded.
func (c *Client) Logout() {
	c.conn.Close()
}

func (c *Client) cacheConversation(convID int64) {
	if c.cache == nil {
		return
	}
	cv, ok := c.store.Conversation(convID)
	if !ok {
		return
	}
	if err := c.cache.UpsertConversation(&cv); err != nil {
		c.logger.Warn("cache write failed", zap.Error(err))
	}
}
