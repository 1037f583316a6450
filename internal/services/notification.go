package services

import (
	"context"
	"time"

	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/pkg/logger"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

// Emitter is the realtime delivery surface the engines depend on. The
// websocket hub implements it; tests substitute a recorder.
type Emitter interface {
	EmitToRoom(room, event string, data interface{}) int
	EmitToUser(userID uint, event string, data interface{}) int
	EmitToUserWithScan(userID uint, event string, data interface{}) int
	JoinUserSockets(userID uint, room string) int
}

// Dispatcher pairs live socket delivery with the offline inbox: when a
// personal-room event reaches zero connections, the payload's inbox
// summary is queued for persistence instead of being lost.
type Dispatcher struct {
	emitter Emitter
	queue   TaskQueue
}

func NewDispatcher(emitter Emitter, queue TaskQueue) *Dispatcher {
	return &Dispatcher{emitter: emitter, queue: queue}
}

// ToRoom broadcasts to a project room. Room events are ambient; they are
// never persisted for offline members.
func (d *Dispatcher) ToRoom(room, event string, data interface{}) int {
	return d.emitter.EmitToRoom(room, event, data)
}

// ToUser delivers to a user's personal room. offline, when non-nil, is
// persisted if no live connection received the event.
func (d *Dispatcher) ToUser(userID uint, event string, data interface{}, offline *NotifyTask) int {
	delivered := d.emitter.EmitToUser(userID, event, data)
	d.persistIfMissed(delivered, offline)
	return delivered
}

// ToUserWithScan is ToUser with the connection-scan fallback, reserved
// for new join-request notifications to project creators.
func (d *Dispatcher) ToUserWithScan(userID uint, event string, data interface{}, offline *NotifyTask) int {
	delivered := d.emitter.EmitToUserWithScan(userID, event, data)
	d.persistIfMissed(delivered, offline)
	return delivered
}

// JoinUserSockets joins all of the user's live connections to a room.
func (d *Dispatcher) JoinUserSockets(userID uint, room string) int {
	return d.emitter.JoinUserSockets(userID, room)
}

func (d *Dispatcher) persistIfMissed(delivered int, offline *NotifyTask) {
	if delivered > 0 || offline == nil || d.queue == nil {
		return
	}
	if err := d.queue.Enqueue(offline); err != nil {
		logger.Error().Err(err).Uint("user_id", offline.UserID).Msg("failed to queue offline notification")
	}
}

// NotificationService manages the persisted notification inbox.
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

// Store persists one inbox entry. It is the task-queue processor.
func (s *NotificationService) Store(ctx context.Context, task *NotifyTask) error {
	notification := &models.Notification{
		UserID:  task.UserID,
		Type:    task.Type,
		Title:   task.Title,
		Message: task.Message,
		RefType: task.RefType,
		RefID:   task.RefID,
	}
	return s.db.WithContext(ctx).Create(notification).Error
}

type NotificationListRequest struct {
	Page       int  `form:"page" binding:"min=1"`
	PageSize   int  `form:"page_size" binding:"min=1,max=100"`
	UnreadOnly bool `form:"unread_only"`
}

type NotificationListResponse struct {
	Total    int64                 `json:"total"`
	Unread   int64                 `json:"unread"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Items    []models.Notification `json:"items"`
}

// List returns a user's inbox, newest first.
func (s *NotificationService) List(userID uint, req *NotificationListRequest) (*NotificationListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	query := s.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if req.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	query.Count(&total)

	var unread int64
	s.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unread)

	var items []models.Notification
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&items).Error; err != nil {
		return nil, err
	}

	return &NotificationListResponse{
		Total:    total,
		Unread:   unread,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// MarkRead marks one notification as read. Only the owner may do so.
func (s *NotificationService) MarkRead(userID, notificationID uint) error {
	now := time.Now()
	result := s.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("notification not found")
	}
	return nil
}

// MarkAllRead marks every unread notification for the user as read.
func (s *NotificationService) MarkAllRead(userID uint) error {
	now := time.Now()
	return s.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": &now}).Error
}
