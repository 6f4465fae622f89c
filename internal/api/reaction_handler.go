package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/models"
	"github.com/victorivanov/backchannel/internal/service"
)

// ReactionHandler handles message reaction endpoints.
type ReactionHandler struct {
	service *service.ReactionService
}

// NewReactionHandler creates a ReactionHandler.
func NewReactionHandler(svc *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{service: svc}
}

// AddReaction handles PUT /api/v1/messages/:id/reactions/:emoji/@me.
func (h *ReactionHandler) AddReaction(c echo.Context) error {
	msgID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid message ID")
	}

	emoji, err := url.PathUnescape(c.Param("emoji"))
	if err != nil || emoji == "" {
		return Error(c, http.StatusBadRequest, "INVALID_EMOJI", "invalid emoji")
	}

	if err := h.service.AddReaction(c.Request().Context(), msgID, auth.GetUserID(c), emoji); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// RemoveReaction handles DELETE /api/v1/messages/:id/reactions/:emoji/@me.
func (h *ReactionHandler) RemoveReaction(c echo.Context) error {
	msgID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid message ID")
	}

	emoji, err := url.PathUnescape(c.Param("emoji"))
	if err != nil || emoji == "" {
		return Error(c, http.StatusBadRequest, "INVALID_EMOJI", "invalid emoji")
	}

	if err := h.service.RemoveReaction(c.Request().Context(), msgID, auth.GetUserID(c), emoji); err != nil {
		return mapServiceError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// ListChannelReactions handles GET /api/v1/channels/:id/reactions.
func (h *ReactionHandler) ListChannelReactions(c echo.Context) error {
	channelID, ok := parseID(c, "id")
	if !ok {
		return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid channel ID")
	}

	reactions, err := h.service.ListChannelReactions(c.Request().Context(), channelID)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, reactions)
}

// Palette handles GET /api/v1/reactions/palette.
func (h *ReactionHandler) Palette(c echo.Context) error {
	return c.JSON(http.StatusOK, models.ReactionPalette)
}
