package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultMaxTeamSize is applied when a project is created without an
// explicit capacity.
const DefaultMaxTeamSize = 5

// Project represents a collaborative project board. The creator is an
// implicit team member: they count toward capacity but never appear in
// the team_members table.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Title       string         `gorm:"size:200;not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	MaxTeamSize int            `gorm:"default:5" json:"max_team_size"`
	CreatedBy   uint           `gorm:"not null;index" json:"created_by"`
	Creator     *User          `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Members     []TeamMember   `gorm:"foreignKey:ProjectID" json:"members,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Project) TableName() string { return "projects" }

// TeamMember represents a user's membership within a project team.
type TeamMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_team_project_user;not null" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	UserID    uint      `gorm:"uniqueIndex:idx_team_project_user;not null" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      string    `gorm:"size:50;default:developer" json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TeamMember) TableName() string { return "team_members" }
