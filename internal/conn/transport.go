package conn

import (
	"context"
	"encoding/json"
)

// Frame is the wire envelope for channel events in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Transport is a single live bidirectional channel. Implementations must
// support one concurrent reader and serialize writes internally.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer opens transports. The production implementation dials a websocket;
// tests substitute a scripted fake.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Transport, error)
}
