package models

import "time"

// Join request states. pending is the only non-terminal state.
const (
	JoinRequestPending  = "pending"
	JoinRequestApproved = "approved"
	JoinRequestRejected = "rejected"
)

// JoinRequest records a non-member's intent to join a project team.
// CreatorID is a denormalized copy of the project creator at request
// time, so responder authorization survives later project edits.
// Processed requests are retained in their terminal state; history views
// depend on that. At most one pending row may exist per
// (project, requester) pair.
type JoinRequest struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	ProjectID   uint       `gorm:"index:idx_join_project_requester;not null" json:"project_id"`
	Project     *Project   `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	RequesterID uint       `gorm:"index:idx_join_project_requester;not null" json:"requester_id"`
	Requester   *User      `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	CreatorID   uint       `gorm:"not null;index" json:"creator_id"`
	Status      string     `gorm:"size:16;default:pending;index" json:"status"`
	Message     string     `gorm:"size:500" json:"message"`
	RespondedAt *time.Time `json:"responded_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (JoinRequest) TableName() string { return "join_requests" }

// IsPending reports whether the request is still awaiting a response.
func (r *JoinRequest) IsPending() bool {
	return r.Status == JoinRequestPending
}
