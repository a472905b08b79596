package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the chat core. Subscribers filter by namespace
// prefix, e.g. "conn." receives every connection lifecycle event.
const (
	// Connection lifecycle (internal/conn).
	KindConnConnected    = "conn.connected"
	KindConnDisconnected = "conn.disconnected"
	KindConnDown         = "conn.down" // retries exhausted, manual retry required
	KindConnQueueFlushed = "conn.queue_flushed"

	// Raw channel events parsed off the wire (internal/conn -> internal/engine).
	KindChannelMessage   = "channel.new_message"
	KindChannelHistory   = "channel.conversation_history"
	KindChannelAgentJoin = "channel.agent_joined"
	KindChannelClosed    = "channel.conversation_closed"
	KindChannelTyping    = "channel.typing"

	// Store mutations observable by the UI layer (internal/store).
	KindStoreUpdated       = "store.updated"
	KindMessageAppended    = "message.appended"
	KindMessageSendFailed  = "message.send_failed"
	KindConversationStatus = "conversation.status_changed"
	KindUnreadChanged      = "unread.changed"
)
