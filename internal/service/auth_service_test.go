package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/school-vax/portal-api/internal/models"
	appErrors "github.com/school-vax/portal-api/pkg/errors"
)

type userStore struct {
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken
}

func newUserStore() *userStore {
	return &userStore{users: map[string]*models.User{}, tokens: map[string]*models.RefreshToken{}}
}

func (s *userStore) seedUser(t *testing.T, id, email, password string, active bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		FullName:     "Test Coordinator",
		Role:         models.RoleAdmin,
		Active:       active,
	}
	s.users[id] = user
	return user
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (s *userStore) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if user, ok := s.users[id]; ok {
		user.LastLogin = &at
	}
	return nil
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	user, ok := s.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	return nil
}

func (s *userStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.tokens[token.ID] = token
	return nil
}

func (s *userStore) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	for _, stored := range s.tokens {
		if stored.Token == token && !stored.Revoked {
			copied := *stored
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userStore) RevokeRefreshToken(ctx context.Context, id string) error {
	if stored, ok := s.tokens[id]; ok {
		stored.Revoked = true
	}
	return nil
}

func (s *userStore) RevokeUserTokens(ctx context.Context, userID string) error {
	for _, stored := range s.tokens {
		if stored.UserID == userID {
			stored.Revoked = true
		}
	}
	return nil
}

func (s *userStore) activeTokens(userID string) int {
	count := 0
	for _, stored := range s.tokens {
		if stored.UserID == userID && !stored.Revoked {
			count++
		}
	}
	return count
}

func newAuthService(store *userStore) *AuthService {
	return NewAuthService(store, nil, nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "vax-portal",
	})
}

func TestLoginIssuesTokens(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, models.RoleAdmin, resp.User.Role)
	assert.Equal(t, 1, store.activeTokens("u1"))
	require.NotNil(t, store.users["u1"].LastLogin)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "ghost@school.test", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", false)
	svc := newAuthService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestRefreshTokenRotates(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, 1, store.activeTokens("u1"))

	// The old token is single-use.
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRefreshTokenRejectsExpired(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return time.Now().Add(8 * 24 * time.Hour) })
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)

	err = svc.Logout(context.Background(), login.RefreshToken, "someone-else")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken, "u1"))
	assert.Equal(t, 0, store.activeTokens("u1"))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "nope", NewPassword: "newsekret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "sekret1", NewPassword: "newsekret"}))
	assert.Equal(t, 0, store.activeTokens("u1"))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "newsekret"})
	require.NoError(t, err)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	store := newUserStore()
	store.seedUser(t, "u1", "admin@school.test", "sekret1", true)
	svc := newAuthService(store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@school.test", Password: "sekret1"})
	require.NoError(t, err)

	other := NewAuthService(store, nil, nil, AuthConfig{AccessTokenSecret: "other-secret", AccessTokenExpiry: time.Hour})
	_, err = other.ValidateToken(login.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
