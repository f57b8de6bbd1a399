package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"trackwise/internal/models"
	"trackwise/internal/services"

	"github.com/gin-gonic/gin"
)

// AutomationHandler exposes the rule engine over REST.
type AutomationHandler struct {
	engine *services.AutomationEngine
}

func NewAutomationHandler(engine *services.AutomationEngine) *AutomationHandler {
	return &AutomationHandler{engine: engine}
}

// ListRules returns rules, optionally filtered by enabled state, project
// key or trigger type.
func (h *AutomationHandler) ListRules(c *gin.Context) {
	filter := models.RuleFilter{
		ProjectKey: c.Query("project"),
		Trigger:    models.TriggerType(c.Query("trigger")),
	}
	if raw := c.Query("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid enabled filter", Message: err.Error()})
			return
		}
		filter.Enabled = &enabled
	}

	rules, err := h.engine.GetRules(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list rules", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rules)
}

// CreateRule validates and stores a new rule.
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var rule models.AutomationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	created, err := h.engine.CreateRule(c.Request.Context(), &rule)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to create rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetRule fetches a single rule by id.
func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, err := h.engine.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to get rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// UpdateRule applies a partial update to a rule.
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var update models.RuleUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rule, err := h.engine.UpdateRule(c.Request.Context(), c.Param("id"), &update)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to update rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule removes a rule. Execution history is kept.
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	if err := h.engine.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to delete rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ExecuteRule fires a rule manually with the supplied context.
func (h *AutomationHandler) ExecuteRule(c *gin.Context) {
	var ectx models.ExecutionContext
	if err := c.ShouldBindJSON(&ectx); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	exec, err := h.engine.ExecuteRule(c.Request.Context(), c.Param("id"), &ectx, "api")
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to execute rule", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// ValidateRule runs validation without storing anything.
func (h *AutomationHandler) ValidateRule(c *gin.Context) {
	var rule models.AutomationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.engine.ValidateRule(&rule))
}

// ListExecutions returns execution history, newest first.
func (h *AutomationHandler) ListExecutions(c *gin.Context) {
	filter := models.ExecutionFilter{
		RuleID: c.Query("rule_id"),
		Status: models.ExecutionStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit", Message: "limit must be a non-negative integer"})
			return
		}
		filter.Limit = limit
	}

	executions, err := h.engine.GetExecutions(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, executions)
}

// GetExecution fetches a single execution record.
func (h *AutomationHandler) GetExecution(c *gin.Context) {
	exec, err := h.engine.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to get execution", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, exec)
}

// GetMetrics aggregates execution outcomes for one rule, or for all
// rules when no rule_id is given.
func (h *AutomationHandler) GetMetrics(c *gin.Context) {
	metrics, err := h.engine.GetMetrics(c.Request.Context(), c.Query("rule_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to compute metrics", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics)
}

// HandleEvent ingests a tracker event and fires matching rules.
func (h *AutomationHandler) HandleEvent(c *gin.Context) {
	var evt models.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	if evt.Type == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "event type is required"})
		return
	}

	executions := h.engine.HandleEvent(c.Request.Context(), evt)
	c.JSON(http.StatusOK, gin.H{
		"fired":      len(executions),
		"executions": executions,
	})
}

func statusFor(err error) int {
	var nf *services.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound
	}
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// RegisterAutomationRoutes mounts the rule engine routes on the given
// group.
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	rules := r.Group("/rules")
	{
		rules.GET("", handler.ListRules)
		rules.POST("", handler.CreateRule)
		rules.POST("/validate", handler.ValidateRule)
		rules.GET("/:id", handler.GetRule)
		rules.PUT("/:id", handler.UpdateRule)
		rules.DELETE("/:id", handler.DeleteRule)
		rules.POST("/:id/execute", handler.ExecuteRule)
	}
	r.GET("/executions", handler.ListExecutions)
	r.GET("/executions/:id", handler.GetExecution)
	r.GET("/metrics/rules", handler.GetMetrics)
	r.POST("/events", handler.HandleEvent)
}
