package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/messaging"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
	"github.com/fashionmirror/fashionmirror-go/pkg/config"
)

// WSHandlers upgrades widget channel connections.
type WSHandlers struct {
	broadcaster *messaging.WidgetBroadcaster
	logger      *logging.ChanneledLogger
}

// NewWSHandlers creates websocket handlers with injected dependencies
func NewWSHandlers(broadcaster *messaging.WidgetBroadcaster, logger *logging.ChanneledLogger) *WSHandlers {
	return &WSHandlers{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// HandleWidgetWS upgrades one end of a widget session channel. Query params:
// merchantKey, widgetId, role (host|frame). The upgrader's origin check is the
// channel's security boundary; foreign origins never complete the handshake.
func (h *WSHandlers) HandleWidgetWS(c *gin.Context) {
	merchantKey := c.Query("merchantKey")
	widgetID := c.Query("widgetId")
	role := messaging.Role(c.Query("role"))

	if merchantKey == "" || widgetID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "merchantKey and widgetId are required"})
		return
	}
	if role != messaging.RoleHost && role != messaging.RoleFrame {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be host or frame"})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.broadcaster.CheckOrigin(merchantKey),
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Messaging().Warn("Widget websocket upgrade failed",
			"widgetId", widgetID, "merchantKey", merchantKey, "error", err.Error())
		return
	}

	client := &messaging.Client{
		Conn:        conn,
		MerchantKey: merchantKey,
		WidgetID:    widgetID,
		Role:        role,
		Send:        make(chan []byte, config.WSSendBuffer),
	}
	h.broadcaster.Register(client)

	go h.broadcaster.WritePump(client)
	go h.broadcaster.ReadPump(client)
}
