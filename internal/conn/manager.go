package conn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nuvashop/supportchat/internal/bus"
	"go.uber.org/zap"
)

const (
	// DefaultBaseDelay is the unit of the linear reconnect backoff:
	// attempt N waits N * base.
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxAttempts caps automatic reconnection. Past the cap the
	// manager goes persistently down until Retry is called.
	DefaultMaxAttempts = 10
)

// Pending is one queued outbound emission awaiting reconnect.
type Pending struct {
	Kind       string
	Payload    any
	EnqueuedAt time.Time
}

// State is a point-in-time snapshot of the connection for observers.
type State struct {
	Connected bool
	Attempt   int
	Down      bool // retries exhausted, manual retry required
	Queued    int
}

// Options configure a Manager. Zero values fall back to defaults.
type Options struct {
	URL         string
	BaseDelay   time.Duration
	MaxAttempts int
}

// Manager owns the single logical channel of a client session: handshake,
// reconnection with linear backoff, and the pending-outbound queue. All
// transitions are published on the bus so the store and UI can observe them
// without holding a reference to the transport.
type Manager struct {
	dialer      Dialer
	url         string
	bus         *bus.Bus
	logger      *zap.Logger
	baseDelay   time.Duration
	maxAttempts int

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	tr        Transport
	token     string
	attempt   int
	queue     []Pending
	down      bool
	suspended bool // explicit Disconnect; no automatic redial until Connect
	retrying  bool // a reconnect attempt is already scheduled
	closed    bool
}

// NewManager creates a connection manager. It does not dial until Connect.
func NewManager(dialer Dialer, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		dialer:      dialer,
		url:         opts.URL,
		bus:         b,
		logger:      logger,
		baseDelay:   opts.BaseDelay,
		maxAttempts: opts.MaxAttempts,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Connect establishes the channel with the given identity token. Idempotent:
// a live connection is kept and the pending queue flushed. A transport that
// cannot be created leaves the manager in a disconnected state with the
// reconnect loop armed; the caller stays usable offline, so no error is
// returned for transport failures.
func (m *Manager) Connect(ctx context.Context, token string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.token = token
	m.down = false
	m.suspended = false
	m.attempt = 0
	if m.tr != nil {
		m.mu.Unlock()
		m.flush()
		return
	}
	m.mu.Unlock()
	m.dial(ctx)
}

// Connected reports whether a live transport exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr != nil
}

// Snapshot returns the current connection state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Connected: m.tr != nil,
		Attempt:   m.attempt,
		Down:      m.down,
		Queued:    len(m.queue),
	}
}

// Emit sends an event over the channel. While disconnected, queueable kinds
// (join_conversation, send_message) are appended to the pending queue and
// ErrNotConnected is returned so the caller can fall back to REST; other
// kinds return ErrEventDropped. The dual path keeps delivery latency bounded
// when the channel is down.
func (m *Manager) Emit(kind string, payload any) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	tr := m.tr
	if tr == nil {
		defer m.mu.Unlock()
		if queueable(kind) {
			m.queue = append(m.queue, Pending{Kind: kind, Payload: payload, EnqueuedAt: time.Now()})
			return ErrNotConnected
		}
		return ErrEventDropped
	}
	m.mu.Unlock()

	if err := m.write(tr, kind, payload); err != nil {
		m.logger.Warn("channel write failed", zap.String("event", kind), zap.Error(err))
		m.dropTransport(tr)
		m.mu.Lock()
		defer m.mu.Unlock()
		if queueable(kind) {
			m.queue = append(m.queue, Pending{Kind: kind, Payload: payload, EnqueuedAt: time.Now()})
			return ErrNotConnected
		}
		return ErrEventDropped
	}
	return nil
}

// Disconnect tears down the transport and stops automatic redialing. The
// pending-outbound queue is kept; it survives reconnect cycles.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	tr := m.tr
	m.tr = nil
	m.suspended = true
	m.mu.Unlock()
	if tr != nil {
		_ = tr.Close()
		m.logger.Info("channel disconnected")
		m.bus.Publish(bus.Event{Kind: bus.KindConnDisconnected})
	}
}

// Retry re-arms a persistently down manager (manual retry from the UI
// banner) and dials immediately.
func (m *Manager) Retry(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.tr != nil {
		m.mu.Unlock()
		return
	}
	m.down = false
	m.suspended = false
	m.attempt = 0
	m.mu.Unlock()
	m.dial(ctx)
}

// Close shuts the manager down for good (logout). Unlike Disconnect, the
// pending queue is discarded with the rest of the connection state.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	tr := m.tr
	m.tr = nil
	m.queue = nil
	m.token = ""
	m.mu.Unlock()
	m.cancel()
	if tr != nil {
		_ = tr.Close()
	}
	m.logger.Info("connection manager closed")
}

func (m *Manager) dial(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.suspended || m.tr != nil {
		m.mu.Unlock()
		return
	}
	token := m.token
	m.mu.Unlock()

	tr, err := m.dialer.Dial(ctx, m.url, token)
	if err != nil {
		m.logger.Warn("channel dial failed", zap.String("url", m.url), zap.Error(err))
		m.bus.Publish(bus.Event{Kind: bus.KindConnDisconnected})
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.closed || m.suspended {
		m.mu.Unlock()
		_ = tr.Close()
		return
	}
	m.tr = tr
	m.attempt = 0
	m.down = false
	m.mu.Unlock()

	m.logger.Info("channel connected", zap.String("url", m.url))
	m.bus.Publish(bus.Event{Kind: bus.KindConnConnected})

	go m.readLoop(tr)
	m.flush()
}

// readLoop pumps inbound frames onto the bus until the transport errors.
func (m *Manager) readLoop(tr Transport) {
	for {
		frame, err := tr.ReadFrame()
		if err != nil {
			m.mu.Lock()
			stale := m.tr != tr
			closed := m.closed
			m.mu.Unlock()
			if stale || closed {
				return
			}
			m.logger.Warn("channel read failed", zap.Error(err))
			m.dropTransport(tr)
			return
		}
		evt, ok, err := parseInbound(frame)
		if err != nil {
			// One malformed frame must not take the channel down.
			m.logger.Warn("skipping malformed frame", zap.String("event", frame.Event), zap.Error(err))
			continue
		}
		if !ok {
			m.logger.Debug("ignoring unknown frame", zap.String("event", frame.Event))
			continue
		}
		m.bus.Publish(evt)
	}
}

// dropTransport handles a mid-session transport failure: tear down, notify,
// and arm the reconnect loop. No-op if tr is no longer current.
func (m *Manager) dropTransport(tr Transport) {
	m.mu.Lock()
	if m.tr != tr {
		m.mu.Unlock()
		return
	}
	m.tr = nil
	m.mu.Unlock()
	_ = tr.Close()
	m.bus.Publish(bus.Event{Kind: bus.KindConnDisconnected})
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.suspended || m.retrying || m.tr != nil {
		m.mu.Unlock()
		return
	}
	m.attempt++
	if m.attempt > m.maxAttempts {
		m.down = true
		m.mu.Unlock()
		m.logger.Warn("reconnect attempts exhausted", zap.Int("max_attempts", m.maxAttempts))
		m.bus.Publish(bus.Event{Kind: bus.KindConnDown})
		return
	}
	m.retrying = true
	attempt := m.attempt
	delay := time.Duration(attempt) * m.baseDelay
	m.mu.Unlock()

	m.logger.Info("scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay))

	go func() {
		select {
		case <-time.After(delay):
		case <-m.ctx.Done():
			return
		}
		m.mu.Lock()
		m.retrying = false
		m.mu.Unlock()
		m.dial(m.ctx)
	}()
}

// flush drains the pending-outbound queue in enqueue order over the current
// transport. The queue is taken whole; anything unsent after a write failure
// is put back at the front, so nothing is emitted twice or dropped.
func (m *Manager) flush() {
	m.mu.Lock()
	tr := m.tr
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	if tr == nil || len(pending) == 0 {
		if len(pending) > 0 {
			m.mu.Lock()
			m.queue = append(pending, m.queue...)
			m.mu.Unlock()
		}
		return
	}

	for i, p := range pending {
		if err := m.write(tr, p.Kind, p.Payload); err != nil {
			m.logger.Warn("queue flush interrupted", zap.Error(err), zap.Int("sent", i))
			m.mu.Lock()
			m.queue = append(pending[i:], m.queue...)
			m.mu.Unlock()
			m.dropTransport(tr)
			return
		}
	}

	m.logger.Info("pending queue flushed", zap.Int("events", len(pending)))
	m.bus.Publish(bus.Event{Kind: bus.KindConnQueueFlushed, Payload: len(pending)})
}

func (m *Manager) write(tr Transport, kind string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		data = b
	}
	return tr.WriteFrame(Frame{Event: kind, Data: data})
}
