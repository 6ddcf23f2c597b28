package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-service/internal/auth"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// UsersHandler exposes protected endpoints backed by token claims only.
type UsersHandler struct{}

// NewUsersHandler constructs handler.
func NewUsersHandler() *UsersHandler {
	return &UsersHandler{}
}

// Profile handles GET /users/profile for any authenticated caller.
func (h *UsersHandler) Profile(c *fiber.Ctx) error {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	return c.JSON(fiber.Map{
		"message":  "This is a protected endpoint! You are authenticated.",
		"user_id":  claims.Subject,
		"username": claims.Username,
		"email":    claims.Email,
		"role":     claims.Role,
	})
}

// AdminData handles GET /users/admin-data. Route-guarded to the Admin role.
func (h *UsersHandler) AdminData(c *fiber.Ctx) error {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Hello, Admin %s! This data is only accessible to users with the 'Admin' role.", claims.Username),
	})
}

// UserData handles GET /users/user-data. Route-guarded to the User role.
func (h *UsersHandler) UserData(c *fiber.Ctx) error {
	claims, ok := auth.ClaimsFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Hello, User %s! This data is accessible to general users.", claims.Username),
	})
}
