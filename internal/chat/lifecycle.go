package chat

import (
	"fmt"
	"slices"
	"time"
)

// validTransitions defines allowed status transitions. Closed is terminal.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusClosed},
	StatusInProgress: {StatusClosed},
	StatusClosed:     {},
}

// CanTransition reports whether from -> to is a legal status transition.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Assign moves a pending conversation to in_progress with the given agent.
// The same function is applied for a local assign action and for a remote
// agent_joined event, so both sides converge on identical state.
func Assign(c *Conversation, agentID int64, agentName string, at time.Time) error {
	if c.Status != StatusPending {
		return fmt.Errorf("assign agent %d to conversation %d: %w", agentID, c.ID, ErrNotPending)
	}
	c.Status = StatusInProgress
	c.AgentID = &agentID
	c.AgentName = agentName
	c.UpdatedAt = at
	return nil
}

// Close moves a conversation to closed. Idempotent if already closed.
func Close(c *Conversation, at time.Time) error {
	if c.Status == StatusClosed {
		return nil
	}
	if !CanTransition(c.Status, StatusClosed) {
		return fmt.Errorf("close conversation %d from %s: illegal transition", c.ID, c.Status)
	}
	c.Status = StatusClosed
	c.UpdatedAt = at
	return nil
}

// SetStatus applies an arbitrary remote status value, enforcing transition
// legality. Setting the current status is a no-op.
func SetStatus(c *Conversation, to Status, at time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("conversation %d: unknown status %q", c.ID, to)
	}
	if c.Status == to {
		return nil
	}
	if !CanTransition(c.Status, to) {
		return fmt.Errorf("conversation %d: illegal transition %s -> %s", c.ID, c.Status, to)
	}
	c.Status = to
	c.UpdatedAt = at
	return nil
}

// CanSend reports whether messages may still be sent into the conversation.
func CanSend(c *Conversation) bool {
	return c.Status != StatusClosed
}
