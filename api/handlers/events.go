package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/awattacker/observer/internal/model"
)

// DefaultEventLimit is the number of events returned when no limit is given.
const DefaultEventLimit = 20

// EventHistory holds recently published window events.
type EventHistory interface {
	Recent(n int) []model.WindowEvent
}

// EventHandler serves recent window events.
type EventHandler struct {
	history EventHistory
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(history EventHistory) *EventHandler {
	return &EventHandler{history: history}
}

// List handles GET /api/events - newest first.
func (h *EventHandler) List(c *gin.Context) {
	limit := DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	c.JSON(http.StatusOK, gin.H{"events": h.history.Recent(limit)})
}

// RegisterRoutes registers the event routes on a Gin router group.
func (h *EventHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.List)
}
