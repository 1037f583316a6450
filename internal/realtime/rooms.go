package realtime

import (
	"fmt"

	"github.com/teamboard/backend/internal/models"
	"gorm.io/gorm"
)

// PersonalRoom returns the room addressing a single user. It is a pure
// function of the user ID so any process can address a user without a
// lookup.
func PersonalRoom(userID uint) string {
	return fmt.Sprintf("user_%d", userID)
}

// ProjectRoom returns the room shared by a project's collaborators.
func ProjectRoom(projectID uint) string {
	return fmt.Sprintf("project_%d", projectID)
}

// RoomSet is the resolved room membership for one user at
// authentication time.
type RoomSet struct {
	Personal     string
	ProjectRooms []string
}

// RoomsForUser computes the rooms a freshly authenticated connection
// should join: the personal room plus one room per project the user
// created or is a team member of. The result is a snapshot; membership
// changes after authentication require an explicit room join (the
// approval flow's postcondition).
func RoomsForUser(db *gorm.DB, userID uint) (*RoomSet, error) {
	set := &RoomSet{Personal: PersonalRoom(userID)}

	var created []models.Project
	if err := db.Select("id").Where("created_by = ?", userID).Find(&created).Error; err != nil {
		return nil, err
	}

	var memberships []models.TeamMember
	if err := db.Select("project_id").Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{}, len(created)+len(memberships))
	for _, p := range created {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		set.ProjectRooms = append(set.ProjectRooms, ProjectRoom(p.ID))
	}
	for _, m := range memberships {
		if _, ok := seen[m.ProjectID]; ok {
			continue
		}
		seen[m.ProjectID] = struct{}{}
		set.ProjectRooms = append(set.ProjectRooms, ProjectRoom(m.ProjectID))
	}

	return set, nil
}

// IsProjectCollaborator reports whether the user is the project's
// creator or appears in its team list. Used to gate room joins and chat
// operations.
func IsProjectCollaborator(db *gorm.DB, projectID, userID uint) (bool, error) {
	var project models.Project
	if err := db.Select("id", "created_by").First(&project, projectID).Error; err != nil {
		return false, err
	}
	if project.CreatedBy == userID {
		return true, nil
	}

	var count int64
	if err := db.Model(&models.TeamMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
