package messaging

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/merchant"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// Client represents a single connected end of a widget session channel.
type Client struct {
	Conn        *websocket.Conn
	MerchantKey string
	WidgetID    string
	Role        Role
	Send        chan []byte
}

// WidgetBroadcaster manages all connected widget channels and relays
// validated envelopes between the host and frame ends of each session.
type WidgetBroadcaster struct {
	widgets    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	registry   *merchant.Registry
	logger     *logging.ChanneledLogger
	mu         sync.RWMutex
}

// NewWidgetBroadcaster creates a new broadcaster instance.
func NewWidgetBroadcaster(registry *merchant.Registry, logger *logging.ChanneledLogger) *WidgetBroadcaster {
	return &WidgetBroadcaster{
		widgets:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		registry:   registry,
		logger:     logger,
	}
}

// Run starts the broadcaster's main loop. This should be run as a goroutine.
func (b *WidgetBroadcaster) Run() {
	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			if _, ok := b.widgets[client.WidgetID]; !ok {
				b.widgets[client.WidgetID] = make(map[*Client]bool)
			}
			b.widgets[client.WidgetID][client] = true
			b.mu.Unlock()
			b.logger.Messaging().Debug("Widget client registered",
				"widgetId", client.WidgetID, "role", client.Role, "merchantKey", client.MerchantKey)

		case client := <-b.unregister:
			b.mu.Lock()
			if clients, ok := b.widgets[client.WidgetID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.Send)
					if len(clients) == 0 {
						delete(b.widgets, client.WidgetID)
					}
				}
			}
			b.mu.Unlock()
			b.logger.Messaging().Debug("Widget client unregistered",
				"widgetId", client.WidgetID, "role", client.Role)
		}
	}
}

// Register queues a client for registration.
func (b *WidgetBroadcaster) Register(client *Client) {
	b.register <- client
}

// Unregister queues a client for unregistration.
func (b *WidgetBroadcaster) Unregister(client *Client) {
	b.unregister <- client
}

// CheckOrigin returns an upgrade-time origin check bound to a merchant key.
// Connections from origins the merchant has not registered are refused before
// any message flows; this is the channel's security boundary.
func (b *WidgetBroadcaster) CheckOrigin(merchantKey string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if b.registry.OriginAllowed(merchantKey, origin) {
			return true
		}
		b.logger.Messaging().Warn("Rejected widget connection from foreign origin",
			"merchantKey", merchantKey, "origin", origin)
		return false
	}
}

// Relay validates a raw envelope received from one end and forwards it to the
// opposite end of the same widget session. Unknown message types and
// malformed payloads are logged and dropped; one bad message never takes the
// channel down.
func (b *WidgetBroadcaster) Relay(widgetID string, from Role, raw []byte) {
	var env widget.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Messaging().Warn("Dropped unparseable widget message", "widgetId", widgetID, "error", err.Error())
		return
	}

	if err := widget.ValidateEnvelope(env); err != nil {
		if errors.Is(err, widget.ErrUnknownMessageType) {
			b.logger.Messaging().Debug("Ignored unknown widget message type",
				"widgetId", widgetID, "type", string(env.Type))
		} else {
			b.logger.Messaging().Warn("Dropped malformed widget message",
				"widgetId", widgetID, "type", string(env.Type), "error", err.Error())
		}
		return
	}

	to := RoleHost
	if from == RoleHost {
		to = RoleFrame
	}
	b.Publish(widgetID, to, env)
}

// Publish delivers an envelope to every connected client of the given role in
// one widget session. A full send buffer drops the message with a warning.
func (b *WidgetBroadcaster) Publish(widgetID string, to Role, env widget.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Messaging().Error("Failed to encode widget envelope", "type", string(env.Type), "error", err.Error())
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.widgets[widgetID] {
		if client.Role != to {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			b.logger.Messaging().Warn("Widget send buffer full, message dropped",
				"widgetId", widgetID, "role", to, "type", string(env.Type))
		}
	}
}

// ConnectionCount returns the number of clients attached to a widget session.
func (b *WidgetBroadcaster) ConnectionCount(widgetID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.widgets[widgetID])
}

// ReadPump reads messages from the client connection and relays them until
// the connection closes. Runs as a goroutine per client.
func (b *WidgetBroadcaster) ReadPump(client *Client) {
	defer func() {
		b.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(config.WSMaxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
		return nil
	})

	for {
		_, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Messaging().Debug("Widget connection closed unexpectedly",
					"widgetId", client.WidgetID, "error", err.Error())
			}
			return
		}
		b.Relay(client.WidgetID, client.Role, raw)
	}
}

// WritePump forwards queued messages to the client connection with ping
// keepalives. Runs as a goroutine per client.
func (b *WidgetBroadcaster) WritePump(client *Client) {
	ticker := time.NewTicker(config.WSPongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
