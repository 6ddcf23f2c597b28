package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/auth-service/internal/auth"
	"github.com/spec-kit/auth-service/internal/config"
	"github.com/spec-kit/auth-service/internal/domain"
	"github.com/spec-kit/auth-service/internal/repository"
	apperrors "github.com/spec-kit/auth-service/pkg/util"
)

// fakeUserRepo is an in-memory UserRepository enforcing the same uniqueness
// guarantees as the users table.
type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	createErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*domain.User)}
}

func (r *fakeUserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, u := range r.users {
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		clone := *u
		return &clone, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) GetByUsernameOrEmail(_ context.Context, identifier string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == identifier || u.Email == identifier {
			clone := *u
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) UpdatePasswordHash(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type fakeResetStore struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeResetStore() *fakeResetStore {
	return &fakeResetStore{tokens: make(map[string]string)}
}

func (s *fakeResetStore) Save(_ context.Context, token, userID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = userID
	return nil
}

func (s *fakeResetStore) Consume(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.tokens[token]
	if !ok {
		return "", repository.ErrResetTokenNotFound
	}
	delete(s.tokens, token)
	return userID, nil
}

func testConfig(ttlMinutes int) config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:               "test-secret",
		TokenTTLMinutes:         ttlMinutes,
		TokenIssuer:             "auth-service",
		TokenAudience:           "auth-service-clients",
		BcryptCost:              bcrypt.MinCost,
		PasswordResetTTLMinutes: 30,
	}
}

func newTestService(t *testing.T, ttlMinutes int) (*AuthService, *fakeUserRepo, *fakeResetStore) {
	t.Helper()

	users := newFakeUserRepo()
	resets := newFakeResetStore()
	svc, err := NewAuthService(testConfig(ttlMinutes), AuthDependencies{
		UserRepo:        users,
		ResetTokenStore: resets,
	})
	require.NoError(t, err)
	return svc, users, resets
}

func TestNewAuthService_MissingSecret(t *testing.T) {
	t.Parallel()

	cfg := testConfig(60)
	cfg.JWTSecret = ""

	_, err := NewAuthService(cfg, AuthDependencies{UserRepo: newFakeUserRepo()})
	require.Error(t, err)

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "CONFIGURATION_ERROR", domainErr.Code)
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))

	user, err := users.GetByUsernameOrEmail(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleUser, user.Role)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "pw", user.PasswordHash)
	assert.True(t, auth.VerifyPassword(user.PasswordHash, "pw"))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))
	err := svc.Register(ctx, "alice", "b@x.com", "pw")

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Username already exists.", domainErr.Message)
	assert.Equal(t, 400, domainErr.HTTPStatus)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))
	err := svc.Register(ctx, "bob", "a@x.com", "pw")

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Email already exists.", domainErr.Message)
	assert.Equal(t, 400, domainErr.HTTPStatus)
}

func TestRegister_InsertRaceMapsToConflict(t *testing.T) {
	t.Parallel()

	// A concurrent registration slipping between the pre-check and the insert
	// surfaces as the storage-level unique violation; the caller sees the same
	// conflict as if the pre-check had caught it.
	svc, users, _ := newTestService(t, 60)
	users.createErr = repository.ErrDuplicateUsername

	err := svc.Register(context.Background(), "alice", "a@x.com", "pw")

	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Username already exists.", domainErr.Message)
}

func TestRegister_UsernameIsCaseSensitive(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))
	assert.NoError(t, svc.Register(ctx, "Alice", "b@x.com", "pw"))
}

func TestLogin_TokenCarriesClaims(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))

	for _, identifier := range []string{"alice", "a@x.com"} {
		token, expiresAt, err := svc.Login(ctx, identifier, "pw")
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		claims, err := svc.TokenManager().Parse(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Username)
		assert.Equal(t, "a@x.com", claims.Email)
		assert.Equal(t, domain.RoleUser, claims.Role)
		assert.NotEmpty(t, claims.Subject)
	}
}

func TestLogin_UndifferentiatedFailures(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))

	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{name: "unknown identifier", identifier: "nobody", password: "pw"},
		{name: "wrong password", identifier: "alice", password: "wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tt.identifier, tt.password)

			var domainErr *apperrors.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, "Invalid credentials.", domainErr.Message)
			assert.Equal(t, 401, domainErr.HTTPStatus)
		})
	}
}

func TestLogin_ZeroLifetimeTokenExpiresImmediately(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 0)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw"))
	token, _, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, err = svc.TokenManager().Parse(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "old-pw"))
	user, err := users.GetByUsernameOrEmail(ctx, "alice")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong", "new-pw")
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 401, domainErr.HTTPStatus)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "old-pw", "new-pw"))

	_, _, err = svc.Login(ctx, "alice", "old-pw")
	assert.Error(t, err)
	_, _, err = svc.Login(ctx, "alice", "new-pw")
	assert.NoError(t, err)
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t, 60)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "old-pw"))

	token, err := svc.RequestPasswordReset(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.NoError(t, svc.ConfirmPasswordReset(ctx, token, "new-pw"))

	_, _, err = svc.Login(ctx, "alice", "new-pw")
	assert.NoError(t, err)

	// Tokens are single-use.
	err = svc.ConfirmPasswordReset(ctx, token, "another-pw")
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 401, domainErr.HTTPStatus)
}

func TestPasswordReset_UnknownEmailDoesNotLeak(t *testing.T) {
	t.Parallel()

	svc, _, resets := newTestService(t, 60)

	token, err := svc.RequestPasswordReset(context.Background(), "nobody@x.com")
	assert.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, resets.tokens)
}
