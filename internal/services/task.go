package services

import (
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/realtime"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

type TaskService struct {
	db *gorm.DB
}

func NewTaskService(db *gorm.DB) *TaskService {
	return &TaskService{db: db}
}

type CreateTaskRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
	AssigneeID  *uint  `json:"assignee_id"`
}

type UpdateTaskRequest struct {
	Title       string `json:"title" binding:"max=200"`
	Description string `json:"description" binding:"max=2000"`
	Status      string `json:"status" binding:"omitempty,oneof=todo in_progress done"`
	AssigneeID  *uint  `json:"assignee_id"`
}

func (s *TaskService) requireCollaborator(projectID, userID uint) error {
	ok, err := realtime.IsProjectCollaborator(s.db, projectID, userID)
	if err != nil {
		return response.NewNotFound("project not found")
	}
	if !ok {
		return response.NewForbidden("not a member of this project")
	}
	return nil
}

func (s *TaskService) Create(projectID, userID uint, req *CreateTaskRequest) (*models.Task, error) {
	if err := s.requireCollaborator(projectID, userID); err != nil {
		return nil, err
	}

	if req.AssigneeID != nil {
		if err := s.requireCollaborator(projectID, *req.AssigneeID); err != nil {
			return nil, response.NewBadRequest("assignee is not a member of this project")
		}
	}

	task := &models.Task{
		ProjectID:   projectID,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatusTodo,
		AssigneeID:  req.AssigneeID,
		CreatedBy:   userID,
	}
	if err := s.db.Create(task).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	s.db.Preload("Assignee").First(task, task.ID)
	return task, nil
}

// List returns the project's tasks, optionally filtered by status.
func (s *TaskService) List(projectID, userID uint, status string) ([]models.Task, error) {
	if err := s.requireCollaborator(projectID, userID); err != nil {
		return nil, err
	}

	query := s.db.Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var tasks []models.Task
	if err := query.Preload("Assignee").Order("created_at ASC").Find(&tasks).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	return tasks, nil
}

func (s *TaskService) Update(projectID, taskID, userID uint, req *UpdateTaskRequest) (*models.Task, error) {
	if err := s.requireCollaborator(projectID, userID); err != nil {
		return nil, err
	}

	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		return nil, response.NewNotFound("task not found")
	}
	if task.ProjectID != projectID {
		return nil, response.NewNotFound("task not found in this project")
	}

	updates := map[string]interface{}{}
	if req.Title != "" {
		updates["title"] = req.Title
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if req.AssigneeID != nil {
		if err := s.requireCollaborator(projectID, *req.AssigneeID); err != nil {
			return nil, response.NewBadRequest("assignee is not a member of this project")
		}
		updates["assignee_id"] = *req.AssigneeID
	}

	if len(updates) > 0 {
		if err := s.db.Model(&task).Updates(updates).Error; err != nil {
			return nil, response.NewServerError(err.Error())
		}
	}

	s.db.Preload("Assignee").First(&task, task.ID)
	return &task, nil
}

// Delete removes a task. The task's creator and the project's creator
// are both authorized.
func (s *TaskService) Delete(projectID, taskID, userID uint) error {
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		return response.NewNotFound("task not found")
	}
	if task.ProjectID != projectID {
		return response.NewNotFound("task not found in this project")
	}

	if task.CreatedBy != userID {
		var project models.Project
		if err := s.db.First(&project, projectID).Error; err != nil {
			return response.NewNotFound("project not found")
		}
		if project.CreatedBy != userID {
			return response.NewForbidden("only the task creator or the project creator may delete a task")
		}
	}

	if err := s.db.Delete(&task).Error; err != nil {
		return response.NewServerError(err.Error())
	}
	return nil
}
