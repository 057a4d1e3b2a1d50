package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/awattacker/observer/internal/automation"
)

// AutomationHandler answers element and activity queries against the device.
type AutomationHandler struct {
	driver automation.Driver
}

// NewAutomationHandler creates a new AutomationHandler.
func NewAutomationHandler(driver automation.Driver) *AutomationHandler {
	return &AutomationHandler{driver: driver}
}

// ElementRequest looks up one element in an expected app.
type ElementRequest struct {
	PackageName  string            `json:"package_name" binding:"required"`
	ActivityName string            `json:"activity_name" binding:"required"`
	ElementInfo  map[string]string `json:"element_info" binding:"required"`
}

// UiAutomatorRequest looks up one element by UiSelector code in an expected app.
type UiAutomatorRequest struct {
	PackageName     string `json:"package_name" binding:"required"`
	ActivityName    string `json:"activity_name" binding:"required"`
	UiAutomatorCode string `json:"uiautomator_code" binding:"required"`
}

// QuickSearchRequest looks up one element in whatever app is in the foreground.
type QuickSearchRequest struct {
	ElementInfo map[string]string `json:"element_info" binding:"required"`
}

// QuickUiAutomatorRequest looks up one element by UiSelector code in the foreground app.
type QuickUiAutomatorRequest struct {
	UiAutomatorCode string `json:"uiautomator_code" binding:"required"`
}

type BatchElementRequest struct {
	PackageName  string              `json:"package_name" binding:"required"`
	ActivityName string              `json:"activity_name" binding:"required"`
	Elements     []map[string]string `json:"elements" binding:"required"`
}

type BatchUiAutomatorRequest struct {
	PackageName      string   `json:"package_name" binding:"required"`
	ActivityName     string   `json:"activity_name" binding:"required"`
	UiAutomatorCodes []string `json:"uiautomator_codes" binding:"required"`
}

type BatchQuickSearchRequest struct {
	Elements []map[string]string `json:"elements" binding:"required"`
}

type BatchQuickUiAutomatorRequest struct {
	UiAutomatorCodes []string `json:"uiautomator_codes" binding:"required"`
}

// Coordinates is the top-left corner of an element.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Size is the extent of an element.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ElementResponse describes a lookup result. Geometry fields are null when
// nothing was found.
type ElementResponse struct {
	Success     bool         `json:"success"`
	Message     string       `json:"message"`
	Coordinates *Coordinates `json:"coordinates"`
	Size        *Size        `json:"size"`
	Visible     *bool        `json:"visible"`
	ElementID   *string      `json:"element_id"`
}

type BatchElementResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Results []ElementResponse `json:"results"`
}

type ActivityResponse struct {
	Success      bool    `json:"success"`
	Message      string  `json:"message"`
	PackageName  *string `json:"package_name"`
	ActivityName *string `json:"activity_name"`
}

func elementResponse(el *automation.Element) ElementResponse {
	if el == nil {
		return ElementResponse{Success: false, Message: "Element not found"}
	}
	visible := el.Visible
	id := el.ID
	return ElementResponse{
		Success:     true,
		Message:     "Element found",
		Coordinates: &Coordinates{X: el.X, Y: el.Y},
		Size:        &Size{Width: el.Width, Height: el.Height},
		Visible:     &visible,
		ElementID:   &id,
	}
}

// verifyApp writes the mismatch or failure response and reports whether the
// caller should stop.
func (h *AutomationHandler) verifyApp(c *gin.Context, pkg, act string, mismatch func(message string) any) bool {
	err := automation.VerifyCurrentApp(c.Request.Context(), h.driver, pkg, act)
	if err == nil {
		return false
	}
	var appErr *automation.AppMismatchError
	if errors.As(err, &appErr) {
		c.JSON(http.StatusOK, mismatch(appErr.Error()))
		return true
	}
	log.Printf("Error verifying current app: %v", err)
	sendError(c, http.StatusInternalServerError, "DRIVER_ERROR", err.Error())
	return true
}

func elementMismatch(message string) any {
	return ElementResponse{Success: false, Message: message}
}

func batchMismatch(message string) any {
	return BatchElementResponse{Success: false, Message: message, Results: []ElementResponse{}}
}

func (h *AutomationHandler) findByInfo(ctx context.Context, info map[string]string) ElementResponse {
	el, err := automation.FindFirst(ctx, h.driver, automation.LocatorsFromMap(info))
	if err != nil {
		return elementResponse(nil)
	}
	return elementResponse(el)
}

func (h *AutomationHandler) findBySelector(ctx context.Context, code string, detailed bool) ElementResponse {
	el, err := h.driver.FindElement(ctx, automation.Locator{Strategy: automation.StrategyUiAutomator, Value: code})
	if err != nil {
		resp := ElementResponse{Success: false, Message: "Element not found"}
		if detailed {
			resp.Message = "Element not found: " + err.Error()
		}
		return resp
	}
	return elementResponse(el)
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// Element handles POST /element.
func (h *AutomationHandler) Element(c *gin.Context) {
	var req ElementRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.verifyApp(c, req.PackageName, req.ActivityName, elementMismatch) {
		return
	}
	c.JSON(http.StatusOK, h.findByInfo(c.Request.Context(), req.ElementInfo))
}

// ElementByUiAutomator handles POST /element/uiautomator.
func (h *AutomationHandler) ElementByUiAutomator(c *gin.Context) {
	var req UiAutomatorRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.verifyApp(c, req.PackageName, req.ActivityName, elementMismatch) {
		return
	}
	c.JSON(http.StatusOK, h.findBySelector(c.Request.Context(), req.UiAutomatorCode, false))
}

// QuickSearch handles POST /quick_search.
func (h *AutomationHandler) QuickSearch(c *gin.Context) {
	var req QuickSearchRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.findByInfo(c.Request.Context(), req.ElementInfo))
}

// QuickSearchByUiAutomator handles POST /quick_search/uiautomator.
func (h *AutomationHandler) QuickSearchByUiAutomator(c *gin.Context) {
	var req QuickUiAutomatorRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.findBySelector(c.Request.Context(), req.UiAutomatorCode, false))
}

// CurrentActivity handles GET /current_activity. Driver failures are
// reported in the body, not the status code.
func (h *AutomationHandler) CurrentActivity(c *gin.Context) {
	ctx := c.Request.Context()

	pkg, err := h.driver.CurrentPackage(ctx)
	if err == nil {
		var act string
		act, err = h.driver.CurrentActivity(ctx)
		if err == nil && pkg != "" && act != "" {
			c.JSON(http.StatusOK, ActivityResponse{
				Success:      true,
				Message:      "Current activity info retrieved",
				PackageName:  &pkg,
				ActivityName: &act,
			})
			return
		}
	}

	if err != nil {
		log.Printf("Error getting current activity: %v", err)
		c.JSON(http.StatusOK, ActivityResponse{Success: false, Message: "Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, ActivityResponse{Success: false, Message: "Failed to get current activity info"})
}

// BatchElements handles POST /batch/elements.
func (h *AutomationHandler) BatchElements(c *gin.Context) {
	var req BatchElementRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.verifyApp(c, req.PackageName, req.ActivityName, batchMismatch) {
		return
	}

	results := make([]ElementResponse, 0, len(req.Elements))
	for _, info := range req.Elements {
		results = append(results, h.findByInfo(c.Request.Context(), info))
	}
	c.JSON(http.StatusOK, BatchElementResponse{Success: true, Message: "Batch element search completed", Results: results})
}

// BatchElementsByUiAutomator handles POST /batch/elements/uiautomator.
func (h *AutomationHandler) BatchElementsByUiAutomator(c *gin.Context) {
	var req BatchUiAutomatorRequest
	if !bindJSON(c, &req) {
		return
	}
	if h.verifyApp(c, req.PackageName, req.ActivityName, batchMismatch) {
		return
	}

	results := make([]ElementResponse, 0, len(req.UiAutomatorCodes))
	for _, code := range req.UiAutomatorCodes {
		results = append(results, h.findBySelector(c.Request.Context(), code, true))
	}
	c.JSON(http.StatusOK, BatchElementResponse{Success: true, Message: "Batch UiAutomator search completed", Results: results})
}

// BatchQuickSearch handles POST /batch/quick_search.
func (h *AutomationHandler) BatchQuickSearch(c *gin.Context) {
	var req BatchQuickSearchRequest
	if !bindJSON(c, &req) {
		return
	}

	results := make([]ElementResponse, 0, len(req.Elements))
	for _, info := range req.Elements {
		results = append(results, h.findByInfo(c.Request.Context(), info))
	}
	c.JSON(http.StatusOK, BatchElementResponse{Success: true, Message: "Batch quick search completed", Results: results})
}

// BatchQuickSearchByUiAutomator handles POST /batch/quick_search/uiautomator.
func (h *AutomationHandler) BatchQuickSearchByUiAutomator(c *gin.Context) {
	var req BatchQuickUiAutomatorRequest
	if !bindJSON(c, &req) {
		return
	}

	results := make([]ElementResponse, 0, len(req.UiAutomatorCodes))
	for _, code := range req.UiAutomatorCodes {
		results = append(results, h.findBySelector(c.Request.Context(), code, true))
	}
	c.JSON(http.StatusOK, BatchElementResponse{Success: true, Message: "Batch quick UiAutomator search completed", Results: results})
}

// RegisterRoutes registers the automation routes.
func (h *AutomationHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/current_activity", h.CurrentActivity)
	r.POST("/element", h.Element)
	r.POST("/element/uiautomator", h.ElementByUiAutomator)
	r.POST("/quick_search", h.QuickSearch)
	r.POST("/quick_search/uiautomator", h.QuickSearchByUiAutomator)
	r.POST("/batch/elements", h.BatchElements)
	r.POST("/batch/elements/uiautomator", h.BatchElementsByUiAutomator)
	r.POST("/batch/quick_search", h.BatchQuickSearch)
	r.POST("/batch/quick_search/uiautomator", h.BatchQuickSearchByUiAutomator)
}
