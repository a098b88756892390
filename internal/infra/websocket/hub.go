package websocket

import (
	"context"
	"errors"
	"sync"

	"github.com/agencyhub/api/internal/metrics"
	"github.com/agencyhub/api/internal/tenancy"
	"github.com/agencyhub/api/pkg/domain/analysis"
	"github.com/agencyhub/api/pkg/domain/shared"
	"github.com/agencyhub/api/pkg/logger"
)

const (
	maxConnectionsPerUser = 10
	broadcastBufferSize   = 256
)

// ErrHubStopped is returned when publishing to a hub that is not running.
var ErrHubStopped = errors.New("websocket hub stopped")

// BroadcastMessage is a message addressed to a channel. Only clients that
// may see AgencyID receive it.
type BroadcastMessage struct {
	Channel  string
	Message  *Message
	AgencyID shared.ID
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients        map[*Client]bool
	userConnCounts map[shared.ID]int
	channels       map[string]map[*Client]bool

	broadcast  chan *BroadcastMessage
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	logger *logger.Logger
	mu     sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:        make(map[*Client]bool),
		userConnCounts: make(map[shared.ID]int),
		channels:       make(map[string]map[*Client]bool),
		broadcast:      make(chan *BroadcastMessage, broadcastBufferSize),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		logger:         log.With("component", "ws_hub"),
	}
}

// Authorize reports whether p may subscribe to channel. Analysis channels
// are visible to their own agency and to unrestricted principals.
func Authorize(p tenancy.Principal, channel string) bool {
	kind, id := ParseChannel(channel)
	if kind != ChannelTypeAnalysis {
		return false
	}
	agencyID, err := shared.IDFromString(id)
	if err != nil {
		return false
	}
	if p.IsUnrestricted() {
		return true
	}
	return !p.AgencyID.IsZero() && p.AgencyID.Equals(agencyID)
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.broadcastToChannel(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	userID := client.Principal.UserID
	if count := h.userConnCounts[userID]; count >= maxConnectionsPerUser {
		h.mu.Unlock()
		h.logger.Warn("connection limit exceeded", "user_id", userID.String(), "max", maxConnectionsPerUser)
		client.Close()
		return
	}
	h.userConnCounts[userID]++
	h.clients[client] = true
	h.mu.Unlock()

	metrics.WebSocketClients.Inc()
	h.logger.Debug("client registered", "client_id", client.ID, "user_id", userID.String())
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	delete(h.clients, client)
	h.removeClientFromAllChannels(client)

	userID := client.Principal.UserID
	if h.userConnCounts[userID] <= 1 {
		delete(h.userConnCounts, userID)
	} else {
		h.userConnCounts[userID]--
	}
	metrics.WebSocketClients.Dec()
}

// RegisterClient registers a new client.
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// UnregisterClient unregisters a client.
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues msg for the clients of channel that may see agencyID.
func (h *Hub) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAnalysisStatus broadcasts ev on the agency's analysis channel.
func (h *Hub) PublishAnalysisStatus(ctx context.Context, ev analysis.StatusEvent) error {
	channel := AnalysisChannel(ev.AgencyID)
	return h.Broadcast(ctx, &BroadcastMessage{
		Channel:  channel,
		Message:  NewMessage(MessageTypeEvent).WithChannel(channel).WithData(ev),
		AgencyID: ev.AgencyID,
	})
}

// Relay broadcasts an event received from another process.
func (h *Hub) Relay(ev analysis.StatusEvent) {
	if err := h.PublishAnalysisStatus(context.Background(), ev); err != nil {
		h.logger.Debug("status relay skipped", "job_id", ev.JobID.String(), "error", err)
	}
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) broadcastToChannel(msg *BroadcastMessage) {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.channels[msg.Channel]))
	for client := range h.channels[msg.Channel] {
		if !client.Principal.IsUnrestricted() && !client.Principal.AgencyID.Equals(msg.AgencyID) {
			continue
		}
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		client.SendMessage(msg.Message)
	}
	h.logger.Debug("broadcast message", "channel", msg.Channel, "recipients", len(recipients))
}

func (h *Hub) removeClientFromAllChannels(client *Client) {
	for channel, clients := range h.channels {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
		metrics.WebSocketClients.Dec()
	}
	h.channels = make(map[string]map[*Client]bool)
	h.userConnCounts = make(map[shared.ID]int)
}

// HubStats contains hub statistics.
type HubStats struct {
	TotalClients   int            `json:"total_clients"`
	TotalChannels  int            `json:"total_channels"`
	ChannelClients map[string]int `json:"channel_clients"`
}

// Stats returns hub statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perChannel := make(map[string]int, len(h.channels))
	for channel, clients := range h.channels {
		perChannel[channel] = len(clients)
	}
	return HubStats{
		TotalClients:   len(h.clients),
		TotalChannels:  len(h.channels),
		ChannelClients: perChannel,
	}
}
