package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Time allowed to build a snapshot listing
	snapshotTimeout = 10 * time.Second
)

// Lister produces a viewer's full listing for snapshots.
type Lister interface {
	ListVisible(ctx context.Context, viewer string) ([]TaskView, error)
}

// WebSocketMessage is the standard message format for WebSocket communication
type WebSocketMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
	User string `json:"user,omitempty"`
}

// Client bridges one Subscription onto a WebSocket connection.
type Client struct {
	Conn  *websocket.Conn
	Email string

	sub    *Subscription
	lister Lister
	send   chan []byte
	first  []byte
}

func NewClient(conn *websocket.Conn, email string, sub *Subscription, lister Lister) *Client {
	return &Client{
		Conn:   conn,
		Email:  email,
		sub:    sub,
		lister: lister,
		send:   make(chan []byte, 16),
	}
}

// Start builds the initial snapshot and runs both pumps. The snapshot goes
// out before any update already waiting on the subscription.
func (c *Client) Start() {
	c.first = c.snapshotMessage()
	go c.WritePump()
	go c.ReadPump()
}

func (c *Client) queue(msg WebSocketMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] error marshalling %s message: %v", msg.Type, err)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[ws] control buffer full for %s, dropping %s", c.Email, msg.Type)
	}
}

// snapshotMessage encodes the full listing the client reconciles against,
// or an error message when the listing fails.
func (c *Client) snapshotMessage() []byte {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	msg := WebSocketMessage{Type: "snapshot"}
	views, err := c.lister.ListVisible(ctx, c.Email)
	if err != nil {
		log.Printf("[ws] snapshot for %s: %v", c.Email, err)
		msg = WebSocketMessage{Type: "error", Data: map[string]any{
			"error":     err.Error(),
			"retryable": Retryable(err),
		}}
	} else {
		msg.Data = map[string]any{"tasks": views}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ws] error marshalling %s message: %v", msg.Type, err)
		return nil
	}
	return data
}

// queueSnapshot queues a fresh snapshot in answer to a resync.
func (c *Client) queueSnapshot() {
	data := c.snapshotMessage()
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("[ws] control buffer full for %s, dropping snapshot", c.Email)
	}
}

// ReadPump handles control messages from the peer. The subscription ends
// when the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[ws] error: %v", err)
			}
			return
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[ws] error unmarshalling message from %s: %v", c.Email, err)
			continue
		}

		switch msg.Type {
		case "ping":
			c.queue(WebSocketMessage{
				Type: "pong",
				Data: map[string]string{"timestamp": time.Now().Format(time.RFC3339)},
			})
		case "resync":
			c.queueSnapshot()
		default:
			log.Printf("[ws] ignoring %q message from %s", msg.Type, c.Email)
		}
	}
}

// WritePump writes snapshots, control replies and reconciled tasks to the
// peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	if c.first != nil {
		if err := c.write(c.first); err != nil {
			return
		}
		c.first = nil
	}

	for {
		select {
		case message := <-c.send:
			if err := c.write(message); err != nil {
				return
			}
		case update, ok := <-c.sub.Updates():
			if !ok {
				// The hub ended the subscription
				c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(WebSocketMessage{Type: "task", Data: update, User: c.Email})
			if err != nil {
				log.Printf("[ws] error marshalling update: %v", err)
				continue
			}
			if err := c.write(data); err != nil {
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

func (c *Client) write(message []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(websocket.TextMessage, message)
}
