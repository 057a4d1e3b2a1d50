package handlers

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
)

// Connections reports the state of the connection registry.
type Connections interface {
	ClientCount() int
	Running() bool
}

// Transfers reports the number of open transfers.
type Transfers interface {
	ActiveCount() int
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	connections Connections
	transfers   Transfers
	started     time.Time
	proc        *process.Process
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(connections Connections, transfers Transfers) *HealthHandler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Printf("Process stats unavailable: %v", err)
		proc = nil
	}
	return &HealthHandler{
		connections: connections,
		transfers:   transfers,
		started:     time.Now(),
		proc:        proc,
	}
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":           "healthy",
		"connections":      h.connections.ClientCount(),
		"active_transfers": h.transfers.ActiveCount(),
		"detector_running": h.connections.Running(),
		"uptime_seconds":   int64(time.Since(h.started).Seconds()),
	}

	if h.proc != nil {
		body["pid"] = h.proc.Pid
		if mem, err := h.proc.MemoryInfoWithContext(c.Request.Context()); err == nil {
			body["rss_bytes"] = mem.RSS
		}
	}

	c.JSON(http.StatusOK, body)
}

// RegisterRoutes registers the health route.
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
}
