package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/internal/services"
	"github.com/teamboard/backend/pkg/response"
)

type TaskHandler struct {
	taskService *services.TaskService
}

func NewTaskHandler(taskService *services.TaskService) *TaskHandler {
	return &TaskHandler{taskService: taskService}
}

// List returns the project's tasks
// GET /api/projects/:id/tasks
func (h *TaskHandler) List(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	tasks, err := h.taskService.List(projectID, middleware.GetUserID(c), c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, tasks)
}

// Create adds a task to the board
// POST /api/projects/:id/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req services.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	task, err := h.taskService.Create(projectID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, task)
}

// Update modifies a task's fields or status
// PUT /api/projects/:id/tasks/:task_id
func (h *TaskHandler) Update(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	taskID, ok := parseIDParam(c, "task_id")
	if !ok {
		return
	}

	var req services.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	task, err := h.taskService.Update(projectID, taskID, middleware.GetUserID(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, task)
}

// Delete removes a task
// DELETE /api/projects/:id/tasks/:task_id
func (h *TaskHandler) Delete(c *gin.Context) {
	projectID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	taskID, ok := parseIDParam(c, "task_id")
	if !ok {
		return
	}

	if err := h.taskService.Delete(projectID, taskID, middleware.GetUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"message": "task deleted"})
}
