package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/service"
)

// UserHandler handles profile and presence endpoints.
type UserHandler struct {
	service *service.ProfileService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(svc *service.ProfileService) *UserHandler {
	return &UserHandler{service: svc}
}

// GetMe handles GET /api/v1/users/@me.
func (h *UserHandler) GetMe(c echo.Context) error {
	p, err := h.service.GetProfile(c.Request().Context(), auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

// GetUser handles GET /api/v1/users/:id.
func (h *UserHandler) GetUser(c echo.Context) error {
	userID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid user ID")
	}

	p, err := h.service.GetProfile(c.Request().Context(), userID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}

type updatePresenceRequest struct {
	Status string `json:"status"`
}

// UpdatePresence handles PUT /api/v1/users/@me/presence.
func (h *UserHandler) UpdatePresence(c echo.Context) error {
	var req updatePresenceRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	p, err := h.service.UpdatePresence(c.Request().Context(), auth.GetUserID(c), req.Status)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
