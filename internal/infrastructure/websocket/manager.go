package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/internal/domain/entity"
	"chatsync/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// ChatSession is the part of the reconciler the websocket surface drives.
type ChatSession interface {
	SendMessage(ctx context.Context, text, attachment string) (entity.SendResult, error)
	CurrentVisibleMessages() []entity.Message
	ConnectivityStatus() entity.ConnectivityState
}

// Client represents a WebSocket connection client
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
}

func NewClient(id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Conn: conn,
		Send: make(chan []byte, sendBuffer),
	}
}

// Manager fans reconciler events out to every connected UI client and
// turns client commands into reconciler calls.
type Manager struct {
	session            ChatSession
	maxAttachmentBytes int

	clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	broadcast  chan []byte
	mutex      sync.RWMutex
}

func NewManager(session ChatSession, maxAttachmentBytes int) *Manager {
	return &Manager{
		session:            session,
		maxAttachmentBytes: maxAttachmentBytes,
		clients:            make(map[*Client]struct{}),
		Register:           make(chan *Client),
		Unregister:         make(chan *Client),
		broadcast:          make(chan []byte, sendBuffer),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client] = struct{}{}
				m.mutex.Unlock()
				logger.Info("WebSocket: client registered: %s", client.ID)
				m.sendSnapshot(client)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if _, ok := m.clients[client]; ok {
					delete(m.clients, client)
					close(client.Send)
				}
				m.mutex.Unlock()
				logger.Info("WebSocket: client unregistered: %s", client.ID)

			case message := <-m.broadcast:
				m.mutex.Lock()
				for client := range m.clients {
					select {
					case client.Send <- message:
					default:
						close(client.Send)
						delete(m.clients, client)
					}
				}
				m.mutex.Unlock()

			case <-ctx.Done():
				return
			}
		}
	}()
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients)
}

// BroadcastNotice pushes a banner notice to all clients.
func (m *Manager) BroadcastNotice(n entity.Notice) {
	m.publish(MessageTypeNotice, n)
}

// BroadcastMessages pushes the current visible list to all clients.
func (m *Manager) BroadcastMessages(msgs []entity.Message) {
	m.publish(MessageTypeMessages, MessagesData{
		Messages: msgs,
		Status:   m.session.ConnectivityStatus(),
	})
}

func (m *Manager) publish(msgType string, data interface{}) {
	payload, err := encode(msgType, data)
	if err != nil {
		logger.Error("WebSocket: failed to encode %s: %v", msgType, err)
		return
	}
	select {
	case m.broadcast <- payload:
	default:
		logger.Warn("WebSocket: broadcast queue full, dropping %s", msgType)
	}
}

func (m *Manager) sendSnapshot(client *Client) {
	m.sendToClient(client, MessageTypeMessages, MessagesData{
		Messages: m.session.CurrentVisibleMessages(),
		Status:   m.session.ConnectivityStatus(),
	})
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error from %s: %v", c.ID, err)
			}
			break
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump sends messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error to %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
