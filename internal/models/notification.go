package models

import "time"

// Notification types
const (
	NotificationJoinRequest  = "join_request"
	NotificationJoinResponse = "join_response"
	NotificationMention      = "mention"
)

// Notification is a persisted inbox entry, written when a personal-room
// event targets a user with no live connection so the update survives
// until their next visit.
type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	Type      string     `gorm:"size:32;index" json:"type"`
	Title     string     `gorm:"size:100" json:"title"`
	Message   string     `gorm:"size:500" json:"message"`
	RefType   string     `gorm:"size:32" json:"ref_type"` // project, join_request, message
	RefID     uint       `json:"ref_id"`
	IsRead    bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
