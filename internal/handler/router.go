package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/middleware"
	"github.com/noah-isme/filevault-api/internal/models"
)

// Router groups the handlers mounted under the API prefix.
type Router struct {
	Auth       *AuthHandler
	Files      *FileHandler
	Categories *CategoryHandler
	Roles      *RoleHandler
	Users      *UserHandler
	Audit      *AuditHandler
	Storage    *StorageHandler
}

// Register mounts every API route on group. Authorization beyond coarse role gates is enforced by
// the services.
func (r *Router) Register(group *gin.RouterGroup, resolver middleware.IdentityResolver) {
	authRequired := middleware.Authenticate(resolver)
	superAdmin := middleware.RequireRoles(models.RoleSuperAdmin)
	managers := middleware.RequireRoles(models.PermissionManagerRoles...)

	auth := group.Group("/auth")
	auth.POST("/login", r.Auth.Login)
	auth.POST("/logout", authRequired, r.Auth.Logout)
	auth.POST("/revoke", authRequired, superAdmin, r.Auth.Revoke)
	auth.GET("/me", authRequired, r.Auth.Me)

	// Serve accepts a signed link token in place of a bearer token.
	group.GET("/files/serve/:name", middleware.OptionalAuthenticate(resolver), r.Files.Serve)

	files := group.Group("/files", authRequired)
	files.GET("", r.Files.List)
	files.POST("", r.Files.Upload)
	files.GET("/download/:id", r.Files.Download)
	files.GET("/:id", r.Files.Get)
	files.PUT("/:id", r.Files.Update)
	files.DELETE("/:id", r.Files.Delete)
	files.DELETE("/:id/purge", superAdmin, r.Files.Purge)
	files.GET("/:id/link", r.Files.Link)
	files.GET("/:id/capabilities", r.Files.Capabilities)
	files.GET("/:id/permissions", r.Files.GetPermissions)
	files.POST("/:id/permissions", r.Files.SetPermissions)
	files.POST("/:id/convert", r.Files.Convert)
	files.POST("/:id/mirror", r.Files.Mirror)

	categories := group.Group("/categories", authRequired)
	categories.GET("", r.Categories.List)
	categories.GET("/:id", r.Categories.Get)
	categories.POST("", managers, r.Categories.Create)
	categories.PUT("/:id", managers, r.Categories.Update)
	categories.DELETE("/:id", managers, r.Categories.Delete)

	roles := group.Group("/roles", authRequired)
	roles.GET("", r.Roles.List)
	roles.GET("/:id", r.Roles.Get)
	roles.POST("", superAdmin, r.Roles.Create)
	roles.PUT("/:id", superAdmin, r.Roles.Update)
	roles.DELETE("/:id", superAdmin, r.Roles.Delete)

	users := group.Group("/users", authRequired)
	users.GET("", superAdmin, r.Users.List)
	users.POST("", superAdmin, r.Users.Create)
	users.GET("/:id", middleware.RequireRolesOrSelf(models.RoleSuperAdmin), r.Users.Get)
	users.PATCH("/:id/active", superAdmin, r.Users.SetActive)
	users.GET("/:id/roles", middleware.RequireRolesOrSelf(models.RoleSuperAdmin), r.Roles.Assignments)
	users.POST("/:id/roles", superAdmin, r.Roles.Assign)
	users.DELETE("/:id/roles/:roleId", superAdmin, r.Roles.Unassign)

	audit := group.Group("/audit-logs", authRequired, managers)
	audit.GET("", r.Audit.List)
	audit.GET("/export", r.Audit.Export)

	if r.Storage != nil {
		group.POST("/admin/storage/scan", authRequired, superAdmin, r.Storage.Scan)
	}
}
