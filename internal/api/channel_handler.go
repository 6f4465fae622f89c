package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/service"
)

// ChannelHandler handles channel lookup endpoints.
type ChannelHandler struct {
	service *service.ChannelService
}

// NewChannelHandler creates a ChannelHandler.
func NewChannelHandler(svc *service.ChannelService) *ChannelHandler {
	return &ChannelHandler{service: svc}
}

// ListChannels handles GET /api/v1/channels.
func (h *ChannelHandler) ListChannels(c echo.Context) error {
	channels, err := h.service.ListChannels(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, channels)
}

// GetChannel handles GET /api/v1/channels/:id. The parameter is a channel
// ID or a slug; unknown slugs resolve to the default channel.
func (h *ChannelHandler) GetChannel(c echo.Context) error {
	ctx := c.Request().Context()
	ref := c.Param("id")

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		ch, err := h.service.GetChannel(ctx, id)
		if err == nil {
			return c.JSON(http.StatusOK, ch)
		}
	}

	ch, err := h.service.ResolveSlug(ctx, ref)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, ch)
}
