package services

import (
	"errors"
	"fmt"

	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

type ProjectService struct {
	db         *gorm.DB
	dispatcher *Dispatcher
}

func NewProjectService(db *gorm.DB, dispatcher *Dispatcher) *ProjectService {
	return &ProjectService{db: db, dispatcher: dispatcher}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	Title    string `form:"title"`
	Mine     bool   `form:"mine"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []models.Project `json:"items"`
}

type CreateProjectRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	MaxTeamSize int    `json:"max_team_size" binding:"min=0,max=100"`
}

type UpdateProjectRequest struct {
	Title       string `json:"title" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
	MaxTeamSize *int   `json:"max_team_size" binding:"omitempty,min=1,max=100"`
}

// Create registers a new project owned by the caller. The creator is an
// implicit team member and never gets a team_members row.
func (s *ProjectService) Create(creatorID uint, req *CreateProjectRequest) (*models.Project, error) {
	project := &models.Project{
		Title:       req.Title,
		Description: req.Description,
		MaxTeamSize: req.MaxTeamSize,
		CreatedBy:   creatorID,
	}
	if project.MaxTeamSize == 0 {
		project.MaxTeamSize = models.DefaultMaxTeamSize
	}

	if err := s.db.Create(project).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	// Members keep the member role globally; owning a project upgrades
	// the account to creator.
	s.db.Model(&models.User{}).
		Where("id = ? AND role = ?", creatorID, models.RoleMember).
		Update("role", models.RoleCreator)

	LogInfo("Project", "Create", fmt.Sprintf("project created: %s", project.Title),
		&creatorID, "", "", map[string]interface{}{"project_id": project.ID})

	return s.GetByID(project.ID)
}

// List returns paginated projects, optionally only those the caller
// created or joined.
func (s *ProjectService) List(userID uint, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	query := s.db.Model(&models.Project{})
	if req.Title != "" {
		query = query.Where("title LIKE ?", "%"+req.Title+"%")
	}
	if req.Mine {
		query = query.Where(
			"created_by = ? OR id IN (?)",
			userID,
			s.db.Model(&models.TeamMember{}).Select("project_id").Where("user_id = ?", userID),
		)
	}

	var total int64
	query.Count(&total)

	var projects []models.Project
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Creator").
		Offset(offset).Limit(req.PageSize).
		Order("created_at DESC").
		Find(&projects).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    projects,
	}, nil
}

func (s *ProjectService) GetByID(id uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.Preload("Creator").Preload("Members.User").First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, response.NewServerError(err.Error())
	}
	return &project, nil
}

func (s *ProjectService) requireOwner(projectID, userID uint) (*models.Project, error) {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		return nil, response.NewNotFound("project not found")
	}

	if project.CreatedBy != userID {
		var user models.User
		if err := s.db.First(&user, userID).Error; err != nil || user.Role != models.RoleAdmin {
			return nil, response.NewForbidden("only the project creator may do this")
		}
	}
	return &project, nil
}

func (s *ProjectService) Update(projectID, userID uint, req *UpdateProjectRequest) (*models.Project, error) {
	project, err := s.requireOwner(projectID, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.MaxTeamSize != nil {
		// Shrinking below the current headcount is rejected rather than
		// evicting anyone.
		var members int64
		s.db.Model(&models.TeamMember{}).Where("project_id = ?", projectID).Count(&members)
		if int64(*req.MaxTeamSize) < members+1 {
			return nil, response.NewConflict("max team size is below the current team size")
		}
		updates["max_team_size"] = *req.MaxTeamSize
	}

	if len(updates) > 0 {
		if err := s.db.Model(project).Updates(updates).Error; err != nil {
			return nil, response.NewServerError(err.Error())
		}
	}
	return s.GetByID(projectID)
}

// Delete removes the project and all of its dependent rows.
func (s *ProjectService) Delete(projectID, userID uint) error {
	project, err := s.requireOwner(projectID, userID)
	if err != nil {
		return err
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.TeamMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.JoinRequest{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Task{}).Error; err != nil {
			return err
		}
		return tx.Delete(project).Error
	}); err != nil {
		return response.NewServerError(err.Error())
	}

	LogInfo("Project", "Delete", fmt.Sprintf("project deleted: %s", project.Title),
		&userID, "", "", map[string]interface{}{"project_id": projectID})
	return nil
}

// ListMembers returns the explicit team rows; the creator is implied by
// the project itself.
func (s *ProjectService) ListMembers(projectID, userID uint) ([]models.TeamMember, error) {
	ok, err := realtime.IsProjectCollaborator(s.db, projectID, userID)
	if err != nil {
		return nil, response.NewNotFound("project not found")
	}
	if !ok {
		return nil, response.NewForbidden("not a member of this project")
	}

	var members []models.TeamMember
	if err := s.db.Where("project_id = ?", projectID).
		Preload("User").
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	return members, nil
}

// RemoveMember evicts a team member. Creator only; the creator cannot
// remove themselves (they are not a member row).
func (s *ProjectService) RemoveMember(projectID, actorID, memberID uint) error {
	project, err := s.requireOwner(projectID, actorID)
	if err != nil {
		return err
	}
	if memberID == project.CreatedBy {
		return response.NewBadRequest("the creator cannot be removed from their own project")
	}

	result := s.db.Where("project_id = ? AND user_id = ?", projectID, memberID).
		Delete(&models.TeamMember{})
	if result.Error != nil {
		return response.NewServerError(result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("user is not a member of this project")
	}

	s.notifyLeft(project, memberID, "removed")
	return nil
}

// Leave lets a member walk away from a project.
func (s *ProjectService) Leave(projectID, userID uint) error {
	var project models.Project
	if err := s.db.First(&project, projectID).Error; err != nil {
		return response.NewNotFound("project not found")
	}
	if project.CreatedBy == userID {
		return response.NewBadRequest("the creator cannot leave their own project")
	}

	result := s.db.Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&models.TeamMember{})
	if result.Error != nil {
		return response.NewServerError(result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return response.NewNotFound("not a member of this project")
	}

	s.notifyLeft(&project, userID, "left")
	return nil
}

func (s *ProjectService) notifyLeft(project *models.Project, userID uint, how string) {
	s.dispatcher.ToRoom(realtime.ProjectRoom(project.ID), realtime.EventTeamMemberLeft, map[string]interface{}{
		"project_id": project.ID,
		"user_id":    userID,
		"reason":     how,
	})
	LogInfo("Project", "MemberLeft",
		fmt.Sprintf("user %d %s project %q", userID, how, project.Title),
		&userID, "", "", map[string]interface{}{"project_id": project.ID})
}
