package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/logger"
)

const (
	// Deadline for a single write to the peer.
	writeWait = 10 * time.Second

	// How long the read side waits for the next pong before giving up.
	pongWait = 60 * time.Second

	// Interval between pings. Must stay below pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Largest inbound frame accepted from a browser.
	maxMessageSize = 4096

	// Cap on channels a single connection may follow.
	maxSubscriptionsPerClient = 50
)

// Client represents a single WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *logger.Logger

	// Who is connected. Channel access is checked against Principal.
	ID        string
	Principal tenancy.Principal

	// Followed channels, keyed by channel name.
	subscriptions map[string]bool
	subMu         sync.RWMutex

	// Guards send against use after close.
	closed bool
	mu     sync.Mutex
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub, conn *websocket.Conn, p tenancy.Principal, log *logger.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, 256),
		logger:        log.With("client_id", id),
		ID:            id,
		Principal:     p,
		subscriptions: make(map[string]bool),
	}
}

// Subscribe adds a channel subscription. Returns false if already
// subscribed or the subscription limit is reached.
func (c *Client) Subscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.subscriptions[channel] {
		return false
	}
	if len(c.subscriptions) >= maxSubscriptionsPerClient {
		c.logger.Warn("subscription limit exceeded", "max", maxSubscriptionsPerClient)
		return false
	}
	c.subscriptions[channel] = true
	return true
}

// Unsubscribe removes a channel subscription.
func (c *Client) Unsubscribe(channel string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if !c.subscriptions[channel] {
		return false
	}
	delete(c.subscriptions, channel)
	return true
}

// IsSubscribed checks if client is subscribed to a channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[channel]
}

// SendMessage queues msg for the client. Slow clients drop messages.
func (c *Client) SendMessage(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal websocket message", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message")
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ReadPump reads client messages until the connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("INVALID_MESSAGE", "Invalid message format", "")
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump writes queued messages and keepalive pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscribe(channelRequest(msg))
	case MessageTypeUnsubscribe:
		c.handleUnsubscribe(channelRequest(msg))
	case MessageTypePing:
		c.SendMessage(NewMessage(MessageTypePong).WithRequestID(msg.RequestID))
	default:
		c.sendError("UNKNOWN_MESSAGE_TYPE", "Unknown message type: "+string(msg.Type), msg.RequestID)
	}
}

// channelRequest reads the channel from the data payload, falling back to
// the envelope fields.
func channelRequest(msg *Message) ChannelRequest {
	var req ChannelRequest
	if len(msg.Data) > 0 {
		_ = json.Unmarshal(msg.Data, &req)
	}
	if req.Channel == "" {
		req.Channel = msg.Channel
	}
	if req.RequestID == "" {
		req.RequestID = msg.RequestID
	}
	return req
}

func (c *Client) handleSubscribe(req ChannelRequest) {
	if req.Channel == "" {
		c.sendError("INVALID_CHANNEL", "Channel is required", req.RequestID)
		return
	}
	if !Authorize(c.Principal, req.Channel) {
		c.logger.Warn("websocket subscription denied", "channel", req.Channel)
		c.sendError("FORBIDDEN", "Access denied to channel", req.RequestID)
		return
	}
	if c.Subscribe(req.Channel) {
		c.hub.subscribeToChannel(c, req.Channel)
	}
	c.SendMessage(NewMessage(MessageTypeSubscribed).WithChannel(req.Channel).WithRequestID(req.RequestID))
}

func (c *Client) handleUnsubscribe(req ChannelRequest) {
	if req.Channel == "" {
		c.sendError("INVALID_CHANNEL", "Channel is required", req.RequestID)
		return
	}
	if c.Unsubscribe(req.Channel) {
		c.hub.unsubscribeFromChannel(c, req.Channel)
	}
	c.SendMessage(NewMessage(MessageTypeUnsubscribed).WithChannel(req.Channel).WithRequestID(req.RequestID))
}

func (c *Client) sendError(code, message, requestID string) {
	c.SendMessage(NewMessage(MessageTypeError).
		WithData(ErrorData{Code: code, Message: message}).
		WithRequestID(requestID))
}
