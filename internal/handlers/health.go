package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/internal/services"
)

// HealthHandler reports the status of the database, the task queue, and
// the realtime hub.
type HealthHandler struct {
	hub *realtime.Hub
}

func NewHealthHandler(hub *realtime.Hub) *HealthHandler {
	return &HealthHandler{hub: hub}
}

// CheckHealth returns the health of all subsystems
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if q := services.GetTaskQueue(); q != nil && q.IsAsync() {
		queueMode = "async (Redis)"
	}

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "teamboard",
		"components": gin.H{
			"database":     dbStatus,
			"queue_mode":   queueMode,
			"connections":  h.hub.SessionCount(),
			"online_users": h.hub.OnlineUserCount(),
		},
	})
}

// Presence returns the IDs of currently authenticated users
// GET /api/presence
func (h *HealthHandler) Presence(c *gin.Context) {
	c.JSON(200, gin.H{
		"online": h.hub.OnlineUsers(),
		"count":  h.hub.OnlineUserCount(),
	})
}
