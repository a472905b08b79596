package conn

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nuvashop/supportchat/internal/bus"
	"github.com/nuvashop/supportchat/internal/chat"
)

// Client -> server event kinds.
const (
	EventJoinConversation  = "join_conversation"
	EventSendMessage       = "send_message"
	EventAgentJoin         = "agent_join_conversation"
	EventCloseConversation = "close_conversation"
	EventTyping            = "typing"
)

// Server -> client event kinds.
const (
	EventConversationHistory = "conversation_history"
	EventNewMessage          = "new_message"
	EventAgentJoined         = "agent_joined"
	EventConversationClosed  = "conversation_closed"
)

// queueable reports whether an event kind may wait in the pending-outbound
// queue while the channel is down. Everything else is dropped.
func queueable(kind string) bool {
	return kind == EventJoinConversation || kind == EventSendMessage
}

// Outbound payloads.

type JoinPayload struct {
	ConversationID int64 `json:"conversation_id"`
}

type SendMessagePayload struct {
	ConversationID int64  `json:"conversation_id"`
	Body           string `json:"body"`
	TempID         string `json:"temp_id,omitempty"`
}

type TypingPayload struct {
	ConversationID int64 `json:"conversation_id"`
	IsTyping       bool  `json:"is_typing"`
}

// Inbound payloads.

type AgentJoined struct {
	ConversationID int64  `json:"conversation_id"`
	AgentID        int64  `json:"agent_id"`
	AgentName      string `json:"agent_name"`
}

type ConversationClosed struct {
	ConversationID int64 `json:"conversation_id"`
}

type Typing struct {
	ConversationID int64 `json:"conversation_id"`
	SenderID       int64 `json:"sender_id"`
	IsTyping       bool  `json:"is_typing"`
}

type newMessageData struct {
	Message chat.Message `json:"message"`
}

type historyData struct {
	ConversationID int64          `json:"conversation_id"`
	Messages       []chat.Message `json:"messages"`
}

// HistoryBatch is the parsed payload of a conversation_history frame.
type HistoryBatch struct {
	ConversationID int64
	Messages       []chat.Message
}

// parseInbound maps a wire frame to a bus event. Unknown frames return
// ok=false and are skipped by the read loop.
func parseInbound(f Frame) (bus.Event, bool, error) {
	now := time.Now()
	switch f.Event {
	case EventNewMessage:
		var d newMessageData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode new_message: %w", err)
		}
		return bus.Event{Kind: bus.KindChannelMessage, Timestamp: now, Payload: d.Message}, true, nil
	case EventConversationHistory:
		var d historyData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode conversation_history: %w", err)
		}
		return bus.Event{Kind: bus.KindChannelHistory, Timestamp: now, Payload: HistoryBatch{
			ConversationID: d.ConversationID,
			Messages:       d.Messages,
		}}, true, nil
	case EventAgentJoined:
		var d AgentJoined
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode agent_joined: %w", err)
		}
		return bus.Event{Kind: bus.KindChannelAgentJoin, Timestamp: now, Payload: d}, true, nil
	case EventConversationClosed:
		var d ConversationClosed
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode conversation_closed: %w", err)
		}
		return bus.Event{Kind: bus.KindChannelClosed, Timestamp: now, Payload: d}, true, nil
	case EventTyping:
		var d Typing
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return bus.Event{}, false, fmt.Errorf("decode typing: %w", err)
		}
		return bus.Event{Kind: bus.KindChannelTyping, Timestamp: now, Payload: d}, true, nil
	}
	return bus.Event{}, false, nil
}
