package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
}

func NewSystemLogHandler(db *gorm.DB) *SystemLogHandler {
	return &SystemLogHandler{
		systemLogService: services.NewSystemLogService(db),
	}
}

// List returns paginated audit log entries, admin only
// GET /api/system-logs
func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.systemLogService.List(&req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

type cleanupLogsBody struct {
	RetentionDays int `json:"retention_days" binding:"required,min=1,max=365"`
}

// Cleanup deletes log entries older than the retention window
// POST /api/system-logs/cleanup
func (h *SystemLogHandler) Cleanup(c *gin.Context) {
	var body cleanupLogsBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	deleted, err := h.systemLogService.CleanupOldLogs(body.RetentionDays)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}
