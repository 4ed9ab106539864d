// Package ws maintains the notification socket: it registers the user after
// connecting, fans incoming notifications out to subscribers, and retries
// dropped connections a bounded number of times.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mouhebsa/blog-collaborator/internal/store"
)

const (
	reconnectInterval = 5 * time.Second
	maxRetryAttempts  = 5
)

// Manager owns one socket to the server's /ws endpoint.
type Manager struct {
	url    string
	userID func() string
	token  func() string
	dialer *websocket.Dialer
	log    zerolog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	retries   int
	stopped   bool
	interval  time.Duration
	subs      []chan store.Notification
}

type Option func(*Manager)

// WithRetryInterval overrides the reconnect delay.
func WithRetryInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// New creates a manager. userID and token are resolved at connect time so a
// renewed session is picked up on reconnect; token may return empty.
func New(url string, userID, token func() string, opts ...Option) *Manager {
	m := &Manager{
		url:      url,
		userID:   userID,
		token:    token,
		dialer:   websocket.DefaultDialer,
		log:      zerolog.Nop(),
		interval: reconnectInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the socket and sends the REGISTER handshake. Calling it on
// an open connection is a no-op; a missing user id is logged and skipped.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return
	}
	m.stopped = false
	m.mu.Unlock()

	m.dial()
}

// dial opens the socket and performs the REGISTER handshake. Failures feed
// the retry counter.
func (m *Manager) dial() {
	userID := m.userID()
	if userID == "" {
		m.log.Debug().Msg("no user id, skipping websocket connect")
		return
	}

	header := http.Header{}
	if token := m.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := m.dialer.Dial(m.url, header)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket dial failed")
		m.scheduleRetry()
		return
	}

	if err := conn.WriteJSON(map[string]any{"type": "REGISTER", "userId": userID}); err != nil {
		m.log.Warn().Err(err).Msg("register handshake failed")
		_ = conn.Close()
		m.scheduleRetry()
		return
	}

	m.mu.Lock()
	m.conn = conn
	m.connected = true
	m.retries = 0
	m.mu.Unlock()
	m.log.Info().Msg("websocket connected")

	go m.readLoop(conn)
}

// Disconnect closes the socket and suppresses reconnection. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopped = true
	m.connected = false
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports the current socket state.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Subscribe returns a channel receiving every pushed notification. Slow
// subscribers lose messages rather than blocking the read loop.
func (m *Manager) Subscribe() <-chan store.Notification {
	ch := make(chan store.Notification, 16)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) emit(n store.Notification) {
	m.mu.Lock()
	subs := make([]chan store.Notification, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- n:
		default:
			m.log.Warn().Str("notification_id", n.ID).Msg("subscriber full, notification dropped")
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.connected = false
		}
		stopped := m.stopped
		m.mu.Unlock()
		if !stopped {
			m.scheduleRetry()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stopped := m.stopped
			m.mu.Unlock()
			if !stopped {
				m.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		m.handleMessage(data)
	}
}

// handleMessage classifies one inbound frame. Unrecognized shapes are
// logged and dropped.
func (m *Manager) handleMessage(data []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		m.log.Warn().Err(err).Msg("unparseable websocket frame")
		return
	}

	switch probe.Type {
	case "REGISTER_SUCCESS":
		m.log.Debug().Msg("registration confirmed")

	case "ERROR":
		var frame struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &frame)
		m.log.Warn().Str("message", frame.Message).Msg("server error frame")

	case store.NotificationNewComment, store.NotificationNewReply:
		var n store.Notification
		if err := json.Unmarshal(data, &n); err != nil {
			m.log.Warn().Err(err).Msg("bad notification frame")
			return
		}
		m.emit(n)

	case "notification_batch":
		var frame struct {
			Data []store.Notification `json:"data"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			m.log.Warn().Err(err).Msg("bad notification batch")
			return
		}
		for _, n := range frame.Data {
			m.emit(n)
		}

	default:
		m.log.Debug().Str("type", probe.Type).Msg("dropping unrecognized frame")
	}
}

func (m *Manager) scheduleRetry() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.retries++
	if m.retries > maxRetryAttempts {
		m.stopped = true
		m.mu.Unlock()
		m.log.Error().Int("attempts", maxRetryAttempts).Msg("websocket retries exhausted, giving up")
		return
	}
	attempt := m.retries
	interval := m.interval
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("in", interval).Msg("websocket reconnect scheduled")
	time.AfterFunc(interval, m.reconnect)
}

// reconnect is dial guarded by the stopped flag, so a Disconnect issued
// while a retry was pending stays final.
func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.stopped || m.connected {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.dial()
}
