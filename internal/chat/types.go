package chat

import "time"

// Status is the lifecycle status of a support conversation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Conversation is a single customer-support thread.
// AgentID is nil exactly while the conversation is pending.
type Conversation struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	Status     Status    `json:"status"`
	CustomerID int64     `json:"customer_id"`
	AgentID    *int64    `json:"agent_id"`
	AgentName  string    `json:"agent_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Unread     int       `json:"unread_count"`
}

// Message is a single chat message. ID is nil until the server has
// acknowledged the message; TempID is the locally generated identity
// carried by optimistic sends until then.
type Message struct {
	ID             *int64    `json:"id"`
	TempID         string    `json:"temp_id,omitempty"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
	IsSystem       bool      `json:"is_system"`
	Failed         bool      `json:"-"` // delivery failed, user may retry this message
}

// Acknowledged reports whether the message carries a server identity.
func (m *Message) Acknowledged() bool {
	return m.ID != nil
}
