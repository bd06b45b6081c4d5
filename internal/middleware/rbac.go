package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	appErrors "github.com/noah-isme/filevault-api/pkg/errors"
	"github.com/noah-isme/filevault-api/pkg/response"
)

// RequireRoles lets the request through when the identity holds any of roles.
func RequireRoles(roles ...models.RoleName) gin.HandlerFunc {
	return rbac(false, roles)
}

// RequireRolesOrSelf also admits callers whose user id matches the :id path parameter.
func RequireRolesOrSelf(roles ...models.RoleName) gin.HandlerFunc {
	return rbac(true, roles)
}

func rbac(allowSelf bool, roles []models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := IdentityFrom(c)
		if identity == nil {
			response.Error(c, appErrors.ErrUnauthenticated)
			c.Abort()
			return
		}

		if identity.HasAnyRole(roles...) {
			c.Next()
			return
		}

		if allowSelf {
			if id, err := strconv.ParseInt(c.Param("id"), 10, 64); err == nil && id == identity.UserID {
				c.Next()
				return
			}
		}

		response.Error(c, appErrors.ErrPermissionDenied)
		c.Abort()
	}
}
