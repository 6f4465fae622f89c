package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/service"
)

// TypingHandler handles typing indicator endpoints.
type TypingHandler struct {
	service *service.TypingService
}

// NewTypingHandler creates a TypingHandler.
func NewTypingHandler(svc *service.TypingService) *TypingHandler {
	return &TypingHandler{service: svc}
}

// StartTyping handles PUT /api/v1/channels/:id/typing.
func (h *TypingHandler) StartTyping(c echo.Context) error {
	channelID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid channel ID")
	}

	t, err := h.service.StartTyping(c.Request().Context(), channelID, auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, t)
}

// StopTyping handles DELETE /api/v1/channels/:id/typing.
func (h *TypingHandler) StopTyping(c echo.Context) error {
	channelID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid channel ID")
	}

	if err := h.service.StopTyping(c.Request().Context(), channelID, auth.GetUserID(c)); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// ListTyping handles GET /api/v1/channels/:id/typing. The caller's own
// indicator is excluded.
func (h *TypingHandler) ListTyping(c echo.Context) error {
	channelID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid channel ID")
	}

	list, err := h.service.ListTyping(c.Request().Context(), channelID, auth.GetUserID(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, list)
}
