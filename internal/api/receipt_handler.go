package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/auth"
	"github.com/victorivanov/backchannel/internal/service"
)

// ReceiptHandler handles read receipt endpoints.
type ReceiptHandler struct {
	service *service.ReceiptService
}

// NewReceiptHandler creates a ReceiptHandler.
func NewReceiptHandler(svc *service.ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{service: svc}
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkRead handles POST /api/v1/receipts. It responds with the receipts
// that were newly written.
func (h *ReceiptHandler) MarkRead(c echo.Context) error {
	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return Error(c, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
	}

	ids := make([]int64, 0, len(req.MessageIDs))
	for _, raw := range req.MessageIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Error(c, http.StatusBadRequest, "INVALID_ID", "invalid message ID")
		}
		ids = append(ids, id)
	}

	written, err := h.service.MarkRead(c.Request().Context(), auth.GetUserID(c), ids)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, written)
}
