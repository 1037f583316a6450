package services

import (
	"encoding/json"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/pkg/logger"
	"gorm.io/gorm"
)

var auditDB *gorm.DB

// InitSystemLogger wires the global audit log writer. Before this is
// called, audit writes are dropped.
func InitSystemLogger(db *gorm.DB) {
	auditDB = db
}

func LogInfo(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("info", module, action, message, userID, ip, userAgent, extra)
}

func LogWarning(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("warning", module, action, message, userID, ip, userAgent, extra)
}

func LogError(module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	writeLog("error", module, action, message, userID, ip, userAgent, extra)
}

func writeLog(level, module, action, message string, userID *uint, ip, userAgent string, extra interface{}) {
	if auditDB == nil {
		return
	}

	var extraStr string
	if extra != nil {
		if b, err := json.Marshal(extra); err == nil {
			extraStr = string(b)
		}
	}

	entry := &models.SystemLog{
		Level:     level,
		Module:    module,
		Action:    action,
		Message:   message,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Extra:     extraStr,
		CreatedAt: time.Now(),
	}
	auditDB.Create(entry)
}

type SystemLogService struct {
	db *gorm.DB
}

func NewSystemLogService(db *gorm.DB) *SystemLogService {
	return &SystemLogService{db: db}
}

type SystemLogListRequest struct {
	Page     int    `form:"page" binding:"min=1"`
	PageSize int    `form:"page_size" binding:"min=1,max=100"`
	Level    string `form:"level"`
	Module   string `form:"module"`
	Action   string `form:"action"`
	Search   string `form:"search"`
}

type SystemLogListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []models.SystemLog `json:"items"`
}

func (s *SystemLogService) List(req *SystemLogListRequest) (*SystemLogListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.SystemLog{})

	if req.Level != "" {
		query = query.Where("level = ?", req.Level)
	}
	if req.Module != "" {
		query = query.Where("module = ?", req.Module)
	}
	if req.Action != "" {
		query = query.Where("action = ?", req.Action)
	}
	if req.Search != "" {
		query = query.Where("message LIKE ?", "%"+req.Search+"%")
	}

	var total int64
	query.Count(&total)

	var items []models.SystemLog
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &SystemLogListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// CleanupOldLogs deletes entries older than retentionDays and returns
// the number removed.
func (s *SystemLogService) CleanupOldLogs(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&models.SystemLog{})
	return result.RowsAffected, result.Error
}

var logCleanupCron *cron.Cron

// StartLogCleanupScheduler runs a nightly cleanup of old audit entries.
func StartLogCleanupScheduler(db *gorm.DB, retentionDays int) {
	if retentionDays <= 0 {
		logger.Info().Msg("system log cleanup disabled")
		return
	}

	service := NewSystemLogService(db)
	logCleanupCron = cron.New()
	_, err := logCleanupCron.AddFunc("0 3 * * *", func() {
		deleted, err := service.CleanupOldLogs(retentionDays)
		if err != nil {
			logger.Error().Err(err).Msg("system log cleanup failed")
			return
		}
		if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Msg("system logs cleaned up")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to schedule system log cleanup")
		return
	}
	logCleanupCron.Start()
}

// StopLogCleanupScheduler halts the cleanup schedule.
func StopLogCleanupScheduler() {
	if logCleanupCron != nil {
		logCleanupCron.Stop()
	}
}
