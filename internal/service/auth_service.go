package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
)

type authUserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type userRoleLister interface {
	ListNamesByUser(ctx context.Context, userID int64) ([]models.RoleName, error)
}

type tokenRevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthConfig defines configuration for token issuance and validation.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	Issuer            string
	Audience          []string
}

// AuthService issues access tokens and resolves bearer tokens into identities.
type AuthService struct {
	users       authUserStore
	roles       userRoleLister
	revocations tokenRevocationStore
	audit       auditRecorder
	validator   *validator.Validate
	logger      *zap.Logger
	config      AuthConfig
	now         func() time.Time
}

// NewAuthService constructs an AuthService. revocations may be nil when Redis is not configured,
// in which case tokens can only be invalidated by expiry.
func NewAuthService(users authUserStore, roles userRoleLister, revocations tokenRevocationStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 8 * time.Hour
	}
	return &AuthService{
		users:       users,
		roles:       roles,
		revocations: revocations,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// Login checks credentials and issues an access token embedding the user's roles.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, appErrors.ErrInactiveAccount
	}

	roles, err := s.roles.ListNamesByUser(ctx, user.ID)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load roles")
	}
	user.Roles = roles

	token, expiresAt, err := s.issue(user)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}

	entry := newAuditEntry(models.AuditActionLogin, &models.Identity{UserID: user.ID}, nil,
		models.RequestMeta{IPAddress: req.IP, UserAgent: req.UserAgent}, "login succeeded")
	if err := auditOutcome(ctx, s.audit, s.logger, entry, nil); err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		ExpiresAt:   expiresAt,
		User: models.UserInfo{
			ID:       user.ID,
			Email:    user.Email,
			FullName: user.FullName,
			Roles:    roles,
		},
	}, nil
}

// Logout revokes the caller's current token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, identity *models.Identity, meta models.RequestMeta) error {
	if identity == nil {
		return appErrors.ErrUnauthenticated
	}
	entry := newAuditEntry(models.AuditActionLogout, identity, nil, meta, "logout")
	err := s.revoke(ctx, identity.TokenID, identity.ExpiresAt.Sub(s.now()))
	return auditOutcome(ctx, s.audit, s.logger, entry, err)
}

// RevokeToken puts an arbitrary token id on the revocation list. Only SuperAdmin may do this.
func (s *AuthService) RevokeToken(ctx context.Context, actor *models.Identity, req models.RevokeTokenRequest, meta models.RequestMeta) error {
	if actor == nil {
		return appErrors.ErrUnauthenticated
	}
	if !actor.IsSuperAdmin() {
		return appErrors.ErrPermissionDenied
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revoke payload")
	}
	entry := newAuditEntry(models.AuditActionLogout, actor, nil, meta, "revoked token "+req.TokenID)
	err := s.revoke(ctx, req.TokenID, s.config.AccessTokenExpiry)
	return auditOutcome(ctx, s.audit, s.logger, entry, err)
}

func (s *AuthService) revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if s.revocations == nil {
		return appErrors.Clone(appErrors.ErrInternal, "token revocation is not available")
	}
	if jti == "" {
		return appErrors.Clone(appErrors.ErrValidation, "token has no id")
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.revocations.Revoke(ctx, jti, ttl); err != nil {
		return appErrors.Internal(err, "failed to revoke token")
	}
	return nil
}

// Authenticate resolves a bearer token. Every failure yields the same UNAUTHENTICATED error; the
// cause is logged at debug level only.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (*models.Identity, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		s.logger.Debug("token rejected", zap.Error(err))
		return nil, unauthenticated()
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			s.logger.Error("revocation check failed, rejecting token", zap.String("jti", claims.ID), zap.Error(err))
			return nil, unauthenticated()
		}
		if revoked {
			s.logger.Debug("token revoked", zap.String("jti", claims.ID))
			return nil, unauthenticated()
		}
	}

	identity := &models.Identity{
		UserID:  claims.UserID,
		Email:   claims.Email,
		Roles:   claims.Roles,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

func (s *AuthService) parse(tokenString string) (*models.JWTClaims, error) {
	if tokenString == "" {
		return nil, errors.New("missing token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	if len(s.config.Audience) > 0 {
		opts = append(opts, jwt.WithAudience(s.config.Audience[0]))
	}

	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(s.config.AccessTokenSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.ID == "" || claims.UserID == 0 {
		return nil, fmt.Errorf("token missing required claims")
	}
	return claims, nil
}

func (s *AuthService) issue(user *models.User) (string, time.Time, error) {
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := models.JWTClaims{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", user.ID),
			Issuer:    s.config.Issuer,
			Audience:  jwt.ClaimStrings(s.config.Audience),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func unauthenticated() error {
	return appErrors.Clone(appErrors.ErrUnauthenticated, "invalid or expired credentials")
}
