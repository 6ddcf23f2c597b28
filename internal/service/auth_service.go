package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/events"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

const (
	msgUsernameExists     = "Username already exists."
	msgEmailExists        = "Email already exists."
	msgInvalidCredentials = "Invalid credentials."
)

// AuthService coordinates registration, login and password maintenance flows.
type AuthService struct {
	users      repository.UserRepository
	resets     repository.ResetTokenStore
	tokenMgr   *auth.TokenManager
	dispatcher events.Dispatcher
	bcryptCost int
	resetTTL   time.Duration
}

// AuthDependencies encapsulates collaborator requirements for the auth service.
type AuthDependencies struct {
	UserRepo        repository.UserRepository
	ResetTokenStore repository.ResetTokenStore
	Dispatcher      events.Dispatcher
}

// NewAuthService builds the service. It fails when the signing secret is
// absent: the process must refuse to issue tokens rather than run misconfigured.
func NewAuthService(cfg config.AuthConfig, deps AuthDependencies) (*AuthService, error) {
	tokenMgr, err := auth.NewTokenManager(cfg)
	if err != nil {
		return nil, apperrors.NewConfigurationError(err.Error())
	}
	return &AuthService{
		users:      deps.UserRepo,
		resets:     deps.ResetTokenStore,
		tokenMgr:   tokenMgr,
		dispatcher: deps.Dispatcher,
		bcryptCost: cfg.BcryptCost,
		resetTTL:   cfg.PasswordResetTTL(),
	}, nil
}

// Register creates a new account with the default "User" role. No token is
// issued on registration. The existence pre-checks give precise reasons for
// the common case; the unique constraints at insert close the race window and
// map to the same conflicts.
func (s *AuthService) Register(ctx context.Context, username, email, password string) error {
	if exists, err := s.users.ExistsByUsername(ctx, username); err != nil {
		return err
	} else if exists {
		return apperrors.NewConflict(msgUsernameExists, nil)
	}

	if exists, err := s.users.ExistsByEmail(ctx, email); err != nil {
		return err
	} else if exists {
		return apperrors.NewConflict(msgEmailExists, nil)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateUsername):
			return apperrors.NewConflict(msgUsernameExists, nil)
		case errors.Is(err, repository.ErrDuplicateEmail):
			return apperrors.NewConflict(msgEmailExists, nil)
		}
		return err
	}

	s.publish(ctx, events.EventUserRegistered, user.ID, events.UserRegisteredPayload{
		Username: user.Username,
		Email:    user.Email,
	})
	return nil
}

// Login authenticates by username or email and returns a signed token. Unknown
// identifier and wrong password collapse into one undifferentiated outcome so
// callers cannot enumerate accounts.
func (s *AuthService) Login(ctx context.Context, usernameOrEmail, password string) (string, time.Time, error) {
	user, err := s.users.GetByUsernameOrEmail(ctx, usernameOrEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", time.Time{}, apperrors.NewUnauthorized(msgInvalidCredentials)
		}
		return "", time.Time{}, err
	}

	if !auth.VerifyPassword(user.PasswordHash, password) {
		return "", time.Time{}, apperrors.NewUnauthorized(msgInvalidCredentials)
	}

	token, expiresAt, err := s.tokenMgr.Issue(user)
	if err != nil {
		return "", time.Time{}, apperrors.NewInternalError(err)
	}

	s.publish(ctx, events.EventUserLoggedIn, user.ID, events.UserLoggedInPayload{Username: user.Username})
	return token, expiresAt, nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewUnauthorized(msgInvalidCredentials)
		}
		return err
	}

	if !auth.VerifyPassword(user.PasswordHash, currentPassword) {
		return apperrors.NewUnauthorized(msgInvalidCredentials)
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	s.publish(ctx, events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Username: user.Username})
	return nil
}

// RequestPasswordReset parks a single-use reset token under a TTL. An unknown
// email returns success with an empty token so the endpoint never reveals
// whether an account exists.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByUsernameOrEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}

	token := uuid.NewString()
	if err := s.resets.Save(ctx, token, user.ID, s.resetTTL); err != nil {
		return "", err
	}

	s.publish(ctx, events.EventPasswordResetRequested, user.ID, events.PasswordResetRequestedPayload{Email: user.Email})
	return token, nil
}

// ConfirmPasswordReset consumes a reset token and stores the new password hash.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	userID, err := s.resets.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrResetTokenNotFound) {
			return apperrors.NewUnauthorized("invalid or expired reset token")
		}
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return err
	}

	s.publish(ctx, events.EventPasswordChanged, user.ID, events.PasswordChangedPayload{Username: user.Username})
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) publish(ctx context.Context, eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
}
