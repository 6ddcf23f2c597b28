package dto

import (
	"net/mail"
	"time"
)

const (
	maxUsernameLength = 50
	maxEmailLength    = 100
)

// RegisterRequest payload for new accounts. Role is intentionally absent:
// every registration gets the default role.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate returns per-field problems, or nil when the payload is well formed.
func (r RegisterRequest) Validate() map[string]any {
	details := map[string]any{}
	if r.Username == "" {
		details["username"] = "required"
	} else if len(r.Username) > maxUsernameLength {
		details["username"] = "must be at most 50 characters"
	}
	if r.Email == "" {
		details["email"] = "required"
	} else if len(r.Email) > maxEmailLength {
		details["email"] = "must be at most 100 characters"
	} else if _, err := mail.ParseAddress(r.Email); err != nil {
		details["email"] = "must be a valid email address"
	}
	if r.Password == "" {
		details["password"] = "required"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// LoginRequest payload for login with either username or email.
type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// Validate returns per-field problems, or nil when the payload is well formed.
func (r LoginRequest) Validate() map[string]any {
	details := map[string]any{}
	if r.UsernameOrEmail == "" {
		details["username_or_email"] = "required"
	}
	if r.Password == "" {
		details["password"] = "required"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// PasswordResetRequest payload for initiating reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// PasswordResetConfirmRequest payload for confirming reset.
type PasswordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// PasswordChangeRequest payload for authenticated password changes.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AuthResponse standard response for login.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
