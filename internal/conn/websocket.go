package conn

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer dials the support backend's websocket endpoint,
// authenticating with the identity token as a bearer credential.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

// Dial opens a websocket transport.
func (d *WebsocketDialer) Dial(ctx context.Context, url, token string) (Transport, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	c, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{c: c}, nil
}

// wsTransport adapts a gorilla websocket connection to the Transport
// interface. gorilla supports one concurrent writer, so writes are
// serialized here.
type wsTransport struct {
	c  *websocket.Conn
	wm sync.Mutex
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	var f Frame
	if err := t.c.ReadJSON(&f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (t *wsTransport) WriteFrame(f Frame) error {
	t.wm.Lock()
	defer t.wm.Unlock()
	return t.c.WriteJSON(f)
}

func (t *wsTransport) Close() error {
	t.wm.Lock()
	_ = t.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.wm.Unlock()
	return t.c.Close()
}
