package handlers

import (
	"net/http"

	"trackwise/internal/metrics"
	"trackwise/internal/services"

	"github.com/gin-gonic/gin"
)

// FeedHandler serves the live execution feed over WebSocket.
type FeedHandler struct {
	feed *services.ExecutionFeed
}

func NewFeedHandler(feed *services.ExecutionFeed) *FeedHandler {
	return &FeedHandler{feed: feed}
}

func (h *FeedHandler) HandleWebSocket(c *gin.Context) {
	h.feed.HandleWebSocket(c)
}

func (h *FeedHandler) GetStats(c *gin.Context) {
	total, byStatus := metrics.ExecutionSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": map[string]interface{}{
			"connected_clients":    h.feed.ClientCount(),
			"executions_total":     total,
			"executions_by_status": byStatus,
		},
	})
}

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}
