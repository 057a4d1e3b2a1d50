package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/awattacker/observer/internal/model"
)

// FileCatalog is the read side of the stored file catalog.
type FileCatalog interface {
	List(ctx context.Context, limit int) ([]*model.StoredFile, error)
	GetByID(ctx context.Context, id string) (*model.StoredFile, error)
}

// FileHandler serves the stored file catalog.
type FileHandler struct {
	catalog FileCatalog
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(catalog FileCatalog) *FileHandler {
	return &FileHandler{catalog: catalog}
}

// List handles GET /api/files - lists the most recent stored files.
func (h *FileHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	files, err := h.catalog.List(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list files: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Get handles GET /api/files/:id.
func (h *FileHandler) Get(c *gin.Context) {
	id := c.Param("id")

	file, err := h.catalog.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrFileNotFound) {
			sendError(c, http.StatusNotFound, "FILE_NOT_FOUND", "File "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get file: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, file)
}

// RegisterRoutes registers the file catalog routes on a Gin router group.
func (h *FileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/files", h.List)
	rg.GET("/files/:id", h.Get)
}
