package models

import (
	"encoding/json"
	"time"
)

// Message is a chat message within a project room. Deletion is soft:
// DeletedAt is set and the content is kept for the audit path, so the
// column is a plain timestamp rather than gorm.DeletedAt (default reads
// must still find deleted rows by ID).
type Message struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	ProjectID     uint       `gorm:"not null;index" json:"project_id"`
	SenderID      uint       `gorm:"not null;index" json:"sender_id"`
	Sender        *User      `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Content       string     `gorm:"type:text" json:"content"`
	ImageURL      string     `gorm:"size:500" json:"image_url,omitempty"`
	ImagePublicID string     `gorm:"size:255" json:"image_public_id,omitempty"`
	Mentions      string     `gorm:"size:1000" json:"-"` // JSON array of user IDs
	Edited        bool       `gorm:"default:false" json:"edited"`
	DeletedAt     *time.Time `gorm:"index" json:"deleted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }

// MentionIDs decodes the stored mention list. A malformed or empty
// column yields nil.
func (m *Message) MentionIDs() []uint {
	if m.Mentions == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(m.Mentions), &ids); err != nil {
		return nil
	}
	return ids
}

// SetMentionIDs encodes the mention list for storage.
func (m *Message) SetMentionIDs(ids []uint) {
	if len(ids) == 0 {
		m.Mentions = ""
		return
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return
	}
	m.Mentions = string(b)
}
