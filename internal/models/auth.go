package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserInfo  `json:"user"`
}

// RevokeTokenRequest revokes an access token by its jti.
type RevokeTokenRequest struct {
	TokenID string `json:"token_id" validate:"required,max=128"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       int64      `json:"id"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Roles    []RoleName `json:"roles"`
}

// JWTClaims represents the JWT payload for access tokens. Roles are embedded at issuance.
type JWTClaims struct {
	UserID   int64      `json:"user_id"`
	Email    string     `json:"email"`
	FullName string     `json:"full_name"`
	Roles    []RoleName `json:"roles"`
	jwt.RegisteredClaims
}

// Identity is the resolved caller of a request.
type Identity struct {
	UserID    int64
	Email     string
	Roles     []RoleName
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the identity holds role.
func (i *Identity) HasRole(role RoleName) bool {
	if i == nil {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the identity holds any of roles.
func (i *Identity) HasAnyRole(roles ...RoleName) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the identity bypasses permission checks.
func (i *Identity) IsSuperAdmin() bool {
	return i.HasRole(RoleSuperAdmin)
}
