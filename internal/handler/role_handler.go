package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/filevault-api/internal/models"
	"github.com/noah-isme/filevault-api/pkg/response"
)

type roleService interface {
	List(ctx context.Context) ([]models.Role, error)
	Get(ctx context.Context, id int64) (*models.Role, error)
	Create(ctx context.Context, req models.RoleRequest, actor *models.Identity, meta models.RequestMeta) (*models.Role, error)
	Update(ctx context.Context, id int64, req models.RoleRequest, actor *models.Identity, meta models.RequestMeta) (*models.Role, error)
	Delete(ctx context.Context, id int64, actor *models.Identity, meta models.RequestMeta) error
	Assignments(ctx context.Context, userID int64) ([]models.UserRoleAssignment, error)
	Assign(ctx context.Context, userID, roleID int64, actor *models.Identity, meta models.RequestMeta) error
	Unassign(ctx context.Context, userID, roleID int64, actor *models.Identity, meta models.RequestMeta) error
}

// RoleHandler serves the role directory and user role assignments.
type RoleHandler struct {
	service roleService
}

// NewRoleHandler creates a role handler.
func NewRoleHandler(svc roleService) *RoleHandler {
	return &RoleHandler{service: svc}
}

// List godoc
// @Summary List roles
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roles [get]
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.service.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// Get godoc
// @Summary Get role
// @Tags Roles
// @Produce json
// @Param id path int true "Role ID"
// @Success 200 {object} response.Envelope
// @Router /roles/{id} [get]
func (h *RoleHandler) Get(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	role, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, role, nil)
}

// Create godoc
// @Summary Create role
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body models.RoleRequest true "Role"
// @Success 201 {object} response.Envelope
// @Router /roles [post]
func (h *RoleHandler) Create(c *gin.Context) {
	var req models.RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindingError(err, "invalid role payload"))
		return
	}
	role, err := h.service.Create(c.Request.Context(), req, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, role)
}

// Update godoc
// @Summary Update role
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path int true "Role ID"
// @Param payload body models.RoleRequest true "Role"
// @Success 200 {object} response.Envelope
// @Router /roles/{id} [put]
func (h *RoleHandler) Update(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindingError(err, "invalid role payload"))
		return
	}
	role, err := h.service.Update(c.Request.Context(), id, req, identityFromContext(c), requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, role, nil)
}

// Delete godoc
// @Summary Delete role
// @Tags Roles
// @Param id path int true "Role ID"
// @Success 204 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /roles/{id} [delete]
func (h *RoleHandler) Delete(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Assignments godoc
// @Summary List a user's roles
// @Tags Roles
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/roles [get]
func (h *RoleHandler) Assignments(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	assignments, err := h.service.Assignments(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}

// Assign godoc
// @Summary Assign role to user
// @Tags Roles
// @Accept json
// @Param id path int true "User ID"
// @Param payload body models.AssignRoleRequest true "Role"
// @Success 204 {object} response.Envelope
// @Router /users/{id}/roles [post]
func (h *RoleHandler) Assign(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	var req models.AssignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindingError(err, "invalid role assignment payload"))
		return
	}
	if err := h.service.Assign(c.Request.Context(), userID, req.RoleID, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Unassign godoc
// @Summary Remove role from user
// @Tags Roles
// @Param id path int true "User ID"
// @Param roleId path int true "Role ID"
// @Success 204 {object} response.Envelope
// @Router /users/{id}/roles/{roleId} [delete]
func (h *RoleHandler) Unassign(c *gin.Context) {
	userID, err := pathID(c, "id")
	if err != nil {
		response.Error(c, err)
		return
	}
	roleID, err := pathID(c, "roleId")
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.service.Unassign(c.Request.Context(), userID, roleID, identityFromContext(c), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
