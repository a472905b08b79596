package chat

import "errors"

// Domain errors. These are rejected synchronously, before any I/O.
var (
	// ErrConversationClosed is returned when acting on a closed conversation.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrNotPending is returned when assigning an agent to a conversation
	// that already left the pending state.
	ErrNotPending = errors.New("conversation is not pending")

	// ErrPrivilege is returned when a customer identity attempts an
	// agent-only operation.
	ErrPrivilege = errors.New("operation requires agent privilege")

	// ErrUnknownConversation is returned for operations on a conversation
	// the store does not know about.
	ErrUnknownConversation = errors.New("unknown conversation")
)
