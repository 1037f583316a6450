package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

// NotificationHandler exposes the offline inbox: notifications persisted
// when real-time delivery found no live connection.
type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{
		notificationService: services.NewNotificationService(db),
	}
}

// List returns the caller's notifications, newest first
// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	var req services.NotificationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.notificationService.List(middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

// MarkRead marks one notification as read
// PUT /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.notificationService.MarkRead(middleware.GetUserID(c), id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "marked read"})
}

// MarkAllRead marks every unread notification as read
// PUT /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	if err := h.notificationService.MarkAllRead(middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "all marked read"})
}
