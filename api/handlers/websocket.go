package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/awattacker/observer/internal/ws"
)

// WebSocketHandler exposes the observer WebSocket endpoint.
type WebSocketHandler struct {
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{wsHandler: wsHandler}
}

// Connect handles GET /ws.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	// the upgrader has already written an HTTP error on failure
	if err := h.wsHandler.HandleConnection(c.Writer, c.Request); err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Connect)
}
