package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/teamboard/backend/internal/middleware"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

// UserHandler works on the users table directly; there is no user
// service because nothing here carries domain rules.
type UserHandler struct {
	db *gorm.DB
}

func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// List returns users for directory views and mention pickers
// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	username := c.Query("username")
	role := c.Query("role")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var users []models.User
	var total int64

	query := h.db.Model(&models.User{})
	if username != "" {
		query = query.Where("username LIKE ? OR nickname LIKE ?", "%"+username+"%", "%"+username+"%")
	}
	if role != "" {
		query = query.Where("role = ?", role)
	}

	query.Count(&total)
	query.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users)

	response.Success(c, gin.H{
		"items":     users,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type updateUserBody struct {
	Role     string `json:"role" binding:"omitempty,oneof=admin creator member"`
	IsActive *bool  `json:"is_active"`
}

// Update changes a user's role or active flag, admin only
// PUT /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var body updateUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var user models.User
	if err := h.db.First(&user, id).Error; err != nil {
		response.NotFound(c, "user not found")
		return
	}

	if user.ID == middleware.GetUserID(c) && body.IsActive != nil && !*body.IsActive {
		response.BadRequest(c, "cannot disable your own account")
		return
	}

	updates := map[string]interface{}{}
	if body.Role != "" {
		updates["role"] = body.Role
	}
	if body.IsActive != nil {
		updates["is_active"] = *body.IsActive
	}
	if len(updates) > 0 {
		if err := h.db.Model(&user).Updates(updates).Error; err != nil {
			response.ServerError(c, err.Error())
			return
		}
	}

	response.Success(c, user)
}

// Delete removes a user account, admin only
// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if id == middleware.GetUserID(c) {
		response.BadRequest(c, "cannot delete your own account")
		return
	}

	if err := h.db.Delete(&models.User{}, id).Error; err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "user deleted"})
}
