package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sknet/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Verifier checks a session token.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Manager tracks live connections per member. A member may hold several
// tabs open; each gets every message addressed to that member.
type Manager struct {
	clients map[string]map[*Client]struct{}
	closed  bool
	mu      sync.RWMutex
	log     *zap.Logger
}

type Client struct {
	conn    *websocket.Conn
	userID  string
	send    chan []byte
	manager *Manager
}

// Message is the frame pushed to browsers.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		clients: make(map[string]map[*Client]struct{}),
		log:     log,
	}
}

// Start blocks until ctx is done, then closes every connection.
func (m *Manager) Start(ctx context.Context) {
	<-ctx.Done()
	m.closeAll()
}

func (m *Manager) add(client *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	if m.clients[client.userID] == nil {
		m.clients[client.userID] = make(map[*Client]struct{})
	}
	m.clients[client.userID][client] = struct{}{}
	m.log.Debug("websocket client registered", zap.String("userId", client.userID))
	return true
}

func (m *Manager) remove(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.clients[client.userID]
	if !ok {
		return
	}
	if _, ok := set[client]; ok {
		delete(set, client)
		close(client.send)
		m.log.Debug("websocket client unregistered", zap.String("userId", client.userID))
	}
	if len(set) == 0 {
		delete(m.clients, client.userID)
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for uid, set := range m.clients {
		for client := range set {
			close(client.send)
		}
		delete(m.clients, uid)
	}
}

// SendToUser queues msg on every connection of userID and reports how many
// connections took it. Slow connections drop the message.
func (m *Manager) SendToUser(userID string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		m.log.Error("marshal websocket message", zap.Error(err))
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	delivered := 0
	for client := range m.clients[userID] {
		select {
		case client.send <- data:
			delivered++
		default:
			m.log.Warn("websocket send buffer full", zap.String("userId", userID))
		}
	}
	return delivered
}

// sendTo queues data for one connection if it is still registered.
func (m *Manager) sendTo(c *Client, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.clients[c.userID][c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (m *Manager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID]) > 0
}

func (m *Manager) GetConnectedUsers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler upgrades authenticated requests. The token comes from the
// "token" query parameter or the session cookie.
func Handler(manager *Manager, tokens Verifier, cookieName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if c, err := r.Cookie(cookieName); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			http.Error(w, "Token required", http.StatusUnauthorized)
			return
		}
		id, err := tokens.Verify(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			manager.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			conn:    conn,
			userID:  id.UserID,
			send:    make(chan []byte, sendBuffer),
			manager: manager,
		}
		if !manager.add(client) {
			conn.Close()
			return
		}

		welcome, _ := json.Marshal(Message{
			Type:    "connected",
			Payload: map[string]interface{}{"userId": id.UserID, "time": time.Now().Unix()},
		})
		manager.sendTo(client, welcome)

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.manager.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.manager.log.Debug("websocket read error", zap.String("userId", c.userID), zap.Error(err))
			}
			return
		}
		var in Message
		if err := json.Unmarshal(raw, &in); err != nil {
			continue
		}
		// Clients only ping; everything else flows server to client.
		if in.Type == "ping" {
			pong, _ := json.Marshal(Message{Type: "pong", Payload: map[string]interface{}{"time": time.Now().Unix()}})
			c.manager.sendTo(c, pong)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
