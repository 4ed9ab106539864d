package app

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn wraps a websocket connection behind a write mutex. gorilla allows
// only one concurrent writer per connection.
type wsConn struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Alive() bool {
	return !c.closed.Load()
}

func (c *wsConn) shutdown() {
	c.closed.Store(true)
	_ = c.conn.Close()
}

type wsInbound struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	// A bearer token on the upgrade request pins the registered identity.
	// Without one the REGISTER frame's claimed id is honored.
	var tokenUserID string
	if token := bearerToken(r); token != "" {
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		tokenUserID = session.UserID
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConn{conn: conn}
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket connected")
	go s.readPump(c, tokenUserID)
}

func (s *HTTPServer) readPump(c *wsConn, tokenUserID string) {
	registeredID := ""
	defer func() {
		c.shutdown()
		if registeredID != "" {
			s.service.registry.Unregister(registeredID, c)
		}
		s.log.Debug().Str("user_id", registeredID).Msg("websocket closed")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsInbound
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.WriteJSON(map[string]any{"type": "ERROR", "message": "invalid message"})
			continue
		}

		switch msg.Type {
		case "REGISTER":
			userID := strings.TrimSpace(msg.UserID)
			if tokenUserID != "" {
				userID = tokenUserID
			}
			if userID == "" {
				_ = c.WriteJSON(map[string]any{"type": "ERROR", "message": "userId is required"})
				continue
			}
			if registeredID != "" && registeredID != userID {
				s.service.registry.Unregister(registeredID, c)
			}
			s.service.registry.Register(userID, c)
			registeredID = userID
			_ = c.WriteJSON(map[string]any{"type": "REGISTER_SUCCESS", "message": "registered"})
		default:
			_ = c.WriteJSON(map[string]any{"type": "ERROR", "message": "unknown message type"})
		}
	}
}
