package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type authUserStoreStub struct {
	user *models.User
}

func (s *authUserStoreStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, sql.ErrNoRows
	}
	clone := *s.user
	return &clone, nil
}

type roleListerStub struct {
	roles []models.RoleName
}

func (s roleListerStub) ListNamesByUser(context.Context, int64) ([]models.RoleName, error) {
	return s.roles, nil
}

type revocationStub struct {
	revoked map[string]time.Duration
	err     error
}

func (s *revocationStub) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if s.revoked == nil {
		s.revoked = map[string]time.Duration{}
	}
	s.revoked[jti] = ttl
	return nil
}

func (s *revocationStub) IsRevoked(_ context.Context, jti string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.revoked[jti]
	return ok, nil
}

func testAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "filevault-api",
		Audience:          []string{"filevault-clients"},
	}
}

func newTestAuthService(t *testing.T) (*AuthService, *revocationStub, *auditStub) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	users := &authUserStoreStub{user: &models.User{ID: 7, Email: "editor@example.com", PasswordHash: string(hash), FullName: "Ed", IsActive: true}}
	revocations := &revocationStub{}
	audit := &auditStub{}
	svc := NewAuthService(users, roleListerStub{roles: []models.RoleName{models.RoleEditor}}, revocations, audit, nil, nil, testAuthConfig())
	return svc, revocations, audit
}

func TestAuthServiceLoginEmbedsRoles(t *testing.T) {
	svc, _, audit := newTestAuthService(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "editor@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, []models.RoleName{models.RoleEditor}, resp.User.Roles)
	assert.Equal(t, []models.AuditAction{models.AuditActionLogin}, audit.actions())

	id, err := svc.Authenticate(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id.UserID)
	assert.True(t, id.HasRole(models.RoleEditor))
	assert.NotEmpty(t, id.TokenID)
}

func TestAuthServiceLoginRejectsBadPassword(t *testing.T) {
	svc, _, audit := newTestAuthService(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "editor@example.com", Password: "wrong-password"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))
	assert.Empty(t, audit.actions())
}

func TestAuthServiceLoginFailsWhenAuditFails(t *testing.T) {
	svc, _, audit := newTestAuthService(t)
	audit.err = errStub

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "editor@example.com", Password: "password123"})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}

func signTestToken(t *testing.T, mutate func(*models.JWTClaims)) string {
	t.Helper()
	now := time.Now()
	claims := &models.JWTClaims{
		UserID: 7,
		Roles:  []models.RoleName{models.RoleViewer},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Issuer:    "filevault-api",
			Audience:  jwt.ClaimStrings{"filevault-clients"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func TestAuthServiceAuthenticateRejectsWithGenericError(t *testing.T) {
	svc, _, _ := newTestAuthService(t)

	cases := map[string]string{
		"empty":     "",
		"malformed": "not-a-token",
		"expired": signTestToken(t, func(c *models.JWTClaims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		}),
		"wrong issuer": signTestToken(t, func(c *models.JWTClaims) { c.Issuer = "someone-else" }),
		"wrong audience": signTestToken(t, func(c *models.JWTClaims) {
			c.Audience = jwt.ClaimStrings{"other"}
		}),
		"no jti": signTestToken(t, func(c *models.JWTClaims) { c.ID = "" }),
	}
	for name, token := range cases {
		_, err := svc.Authenticate(context.Background(), token)
		require.Error(t, err, name)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrUnauthenticated.Code, appErr.Code, name)
		assert.Equal(t, "invalid or expired credentials", appErr.Message, name)
	}

	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 7, "jti": "x"}).SignedString([]byte("other"))
	require.NoError(t, err)
	_, err = svc.Authenticate(context.Background(), wrongKey)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthenticated.Code))
}

func TestAuthServiceLogoutRevokesToken(t *testing.T) {
	svc, revocations, audit := newTestAuthService(t)
	token := signTestToken(t, nil)

	id, err := svc.Authenticate(context.Background(), token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), id, models.RequestMeta{IPAddress: "10.0.0.1"}))
	ttl := revocations.revoked["jti-1"]
	assert.True(t, ttl > 59*time.Minute && ttl <= time.Hour, ttl)
	assert.Equal(t, models.AuditActionLogout, audit.last().Action)
	assert.Equal(t, "10.0.0.1", audit.last().IPAddress)

	_, err = svc.Authenticate(context.Background(), token)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthenticated.Code))
}

func TestAuthServiceFailsClosedWhenRevocationListUnavailable(t *testing.T) {
	svc, revocations, _ := newTestAuthService(t)
	revocations.err = errors.New("redis down")

	_, err := svc.Authenticate(context.Background(), signTestToken(t, nil))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrUnauthenticated.Code))
}

func TestAuthServiceRevokeTokenRequiresSuperAdmin(t *testing.T) {
	svc, revocations, _ := newTestAuthService(t)
	req := models.RevokeTokenRequest{TokenID: "leaked"}

	err := svc.RevokeToken(context.Background(), identity(1, models.RoleAdmin), req, models.RequestMeta{})
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPermissionDenied.Code))

	require.NoError(t, svc.RevokeToken(context.Background(), identity(1, models.RoleSuperAdmin), req, models.RequestMeta{}))
	assert.Equal(t, time.Hour, revocations.revoked["leaked"])
}
