package progress

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/kidogo/core"
	"github.com/trezcool/kidogo/core/upload"
)

// Message types
const (
	MsgConnected    = "connected"
	MsgProgress     = "progress"
	MsgNotification = "notification"
)

const (
	sendBuffer  = 32
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = pongWait * 9 / 10
	maxReadSize = 512
)

type Message struct {
	Type         string             `json:"type"`
	Topic        string             `json:"topic"`
	Session      *upload.Session    `json:"session,omitempty"`
	Notification *core.Notification `json:"notification,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes upload snapshots and notifications to the WebSocket clients listening on a topic.
// Topics are upload session IDs.
type Hub struct {
	logger   core.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
}

var (
	_ upload.Observer = (*Hub)(nil)
	_ core.Notifier   = (*Hub)(nil)
)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// clients authenticate with their bearer token before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

func (h *Hub) Observe(s upload.Session) {
	snapshot := s
	h.broadcast(Message{Type: MsgProgress, Topic: s.ID, Session: &snapshot})
}

func (h *Hub) Notify(n core.Notification) {
	notif := n
	h.broadcast(Message{Type: MsgNotification, Topic: n.Topic, Notification: &notif})
}

// Listeners returns the number of clients listening on topic.
func (h *Hub) Listeners(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

func (h *Hub) broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.clients[msg.Topic]
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error(fmt.Sprintf("encoding %s message: %v", msg.Type, err), err)
		return
	}
	for c := range clients {
		select {
		case c.send <- data:
		default:
			// slow client: drop the message, later snapshots supersede it
		}
	}
}

// ServeWS upgrades the request and streams the messages of topic until the client disconnects.
// current, when set, is sent right after the connected message.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, topic string, current *upload.Session) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "upgrading connection")
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	hello, _ := json.Marshal(Message{Type: MsgConnected, Topic: topic})
	c.send <- hello
	if current != nil {
		data, _ := json.Marshal(Message{Type: MsgProgress, Topic: topic, Session: current})
		c.send <- data
	}
	h.register(topic, c)

	go h.writePump(c)
	h.readPump(topic, c)
	return nil
}

func (h *Hub) register(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*client]struct{})
	}
	h.clients[topic][c] = struct{}{}
}

func (h *Hub) unregister(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[topic][c]; !ok {
		return
	}
	delete(h.clients[topic], c)
	if len(h.clients[topic]) == 0 {
		delete(h.clients, topic)
	}
	close(c.send)
}

// readPump discards client messages and detects disconnections.
func (h *Hub) readPump(topic string, c *client) {
	defer func() {
		h.unregister(topic, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
