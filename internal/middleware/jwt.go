package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/logger"
	"github.com/noah-isme/filevault-api/pkg/response"
)

// ContextIdentityKey is the gin context key storing the resolved *models.Identity.
const ContextIdentityKey = "identity"

// IdentityResolver turns a bearer token into an identity.
type IdentityResolver interface {
	Authenticate(ctx context.Context, token string) (*models.Identity, error)
}

// Authenticate protects routes by requiring a valid, unrevoked access token.
func Authenticate(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrUnauthenticated, "missing or malformed bearer token"))
			c.Abort()
			return
		}

		identity, err := resolver.Authenticate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		SetIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuthenticate attaches the identity when a valid token is present but never blocks.
// Used where another credential (a signed serve token) may stand in for the bearer token.
func OptionalAuthenticate(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}
		if identity, err := resolver.Authenticate(c.Request.Context(), token); err == nil {
			SetIdentity(c, identity)
		}
		c.Next()
	}
}

// SetIdentity stores identity on the context and tags the access log with its user id.
func SetIdentity(c *gin.Context, identity *models.Identity) {
	c.Set(ContextIdentityKey, identity)
	c.Set(logger.ContextActorKey, identity.UserID)
}

// IdentityFrom returns the identity stored by Authenticate, or nil.
func IdentityFrom(c *gin.Context) *models.Identity {
	value, exists := c.Get(ContextIdentityKey)
	if !exists {
		return nil
	}
	identity, _ := value.(*models.Identity)
	return identity
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
