package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered         EventType = "user_registered"
	EventUserLoggedIn           EventType = "user_logged_in"
	EventPasswordResetRequested EventType = "password_reset_requested"
	EventPasswordChanged        EventType = "password_changed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// UserLoggedInPayload payload.
type UserLoggedInPayload struct {
	Username string `json:"username"`
}

// PasswordResetRequestedPayload payload. The token itself never appears here.
type PasswordResetRequestedPayload struct {
	Email string `json:"email"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	Username string `json:"username"`
}
