package services

import (
	"errors"
	"time"

	"github.com/teamboard/backend/internal/config"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/utils"
	"github.com/teamboard/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"omitempty,email"`
	Nickname string `json:"nickname" binding:"max=100"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token    string       `json:"token"`
	ExpireAt time.Time    `json:"expire_at"`
	User     *models.User `json:"user"`
}

// Register creates a new account with the default member role.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	var count int64
	s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		return nil, response.NewConflict("username already taken")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, response.NewServerError(err.Error())
	}

	user := &models.User{
		Username: req.Username,
		Password: hashed,
		Email:    req.Email,
		Nickname: req.Nickname,
		Role:     models.RoleMember,
		IsActive: true,
	}
	if err := s.db.Create(user).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}

	LogInfo("Auth", "Register", "user registered: "+user.Username, &user.ID, "", "", nil)
	return user, nil
}

// Login authenticates a user and returns a signed JWT.
func (s *AuthService) Login(req *LoginRequest) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("invalid username or password")
		}
		return nil, response.NewServerError(err.Error())
	}

	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, response.NewUnauthorized("invalid username or password")
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, response.NewServerError(err.Error())
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Save(&user)

	return &LoginResult{
		Token:    token,
		ExpireAt: now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		User:     &user,
	}, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, response.NewNotFound("user not found")
	}
	return &user, nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return response.NewNotFound("user not found")
	}

	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewBadRequest("incorrect old password")
	}

	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return response.NewServerError(err.Error())
	}

	user.Password = hashed
	if err := s.db.Save(&user).Error; err != nil {
		return response.NewServerError(err.Error())
	}
	return nil
}

type UpdateProfileRequest struct {
	Email    string `json:"email" binding:"omitempty,email"`
	Nickname string `json:"nickname" binding:"max=100"`
	Avatar   string `json:"avatar" binding:"max=500"`
}

func (s *AuthService) UpdateProfile(userID uint, req *UpdateProfileRequest) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		return nil, response.NewNotFound("user not found")
	}

	user.Email = req.Email
	user.Nickname = req.Nickname
	user.Avatar = req.Avatar
	if err := s.db.Save(&user).Error; err != nil {
		return nil, response.NewServerError(err.Error())
	}
	return &user, nil
}

// CreateAdminIfNotExists seeds the default admin account on first boot.
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	s.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count)
	if count > 0 {
		return nil
	}

	hashed, err := utils.HashPassword("admin")
	if err != nil {
		return err
	}

	admin := models.User{
		Username: "admin",
		Password: hashed,
		Nickname: "Administrator",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	return s.db.Create(&admin).Error
}
