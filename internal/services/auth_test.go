package services

import (
	"testing"

	"github.com/teamboard/backend/internal/config"
	"github.com/teamboard/backend/internal/models"
	"github.com/teamboard/backend/internal/utils"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	utils.SetJWTSecret("test-secret-key-for-testing")
	return NewAuthService(newTestDB(t), &config.JWTConfig{ExpireHour: 24})
}

func TestAuthRegister(t *testing.T) {
	svc := newAuthService(t)

	user, err := svc.Register(&RegisterRequest{Username: "alice", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Role != models.RoleMember {
		t.Errorf("role = %q, want %q", user.Role, models.RoleMember)
	}
	if user.Password == "secret1" {
		t.Error("password stored in plain text")
	}

	_, err = svc.Register(&RegisterRequest{Username: "alice", Password: "another1"})
	assertStatusCode(t, err, 409)
}

func TestAuthLogin(t *testing.T) {
	svc := newAuthService(t)
	if _, err := svc.Register(&RegisterRequest{Username: "bob", Password: "secret1"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := svc.Login(&LoginRequest{Username: "bob", Password: "secret1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Error("empty token")
	}
	claims, err := utils.ParseToken(result.Token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != result.User.ID {
		t.Errorf("token user = %d, want %d", claims.UserID, result.User.ID)
	}
	if result.User.LastLogin == nil {
		t.Error("last login not recorded")
	}

	_, err = svc.Login(&LoginRequest{Username: "bob", Password: "wrong"})
	assertStatusCode(t, err, 401)

	_, err = svc.Login(&LoginRequest{Username: "nobody", Password: "secret1"})
	assertStatusCode(t, err, 401)
}

func TestAuthLoginDisabledUser(t *testing.T) {
	svc := newAuthService(t)
	user, err := svc.Register(&RegisterRequest{Username: "carol", Password: "secret1"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc.db.Model(user).Update("is_active", false)

	_, err = svc.Login(&LoginRequest{Username: "carol", Password: "secret1"})
	assertStatusCode(t, err, 403)
}

func TestAuthChangePassword(t *testing.T) {
	svc := newAuthService(t)
	user, err := svc.Register(&RegisterRequest{Username: "dave", Password: "oldpass"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	err = svc.ChangePassword(user.ID, &ChangePasswordRequest{OldPassword: "wrong", NewPassword: "newpass"})
	assertStatusCode(t, err, 400)

	if err := svc.ChangePassword(user.ID, &ChangePasswordRequest{OldPassword: "oldpass", NewPassword: "newpass"}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Login(&LoginRequest{Username: "dave", Password: "newpass"}); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestCreateAdminIfNotExists(t *testing.T) {
	svc := newAuthService(t)

	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := svc.CreateAdminIfNotExists(); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	svc.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count)
	if count != 1 {
		t.Errorf("admin count = %d, want 1", count)
	}
}
