package conn

import "errors"

var (
	// ErrNotConnected is returned by Emit when the channel is down and the
	// event was appended to the pending-outbound queue. Callers should fall
	// back to REST so delivery latency stays bounded.
	ErrNotConnected = errors.New("channel not connected")

	// ErrEventDropped is returned by Emit when the channel is down and the
	// event kind is not queueable.
	ErrEventDropped = errors.New("event dropped: channel not connected")

	// ErrClosed is returned after the manager has been shut down.
	ErrClosed = errors.New("connection manager closed")
)
