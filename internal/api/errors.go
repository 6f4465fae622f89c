package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/backchannel/internal/service"
)

// mapServiceError translates a service error into its HTTP response.
func mapServiceError(c echo.Context, err error) error {
	var se *service.ServiceError
	if !errors.As(err, &se) {
		slog.Error("unhandled error", "path", c.Path(), "error", err)
		return Error(c, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(se, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(se, service.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(se, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(se, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(se, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	return Error(c, status, se.Code, se.Message)
}

// parseID reads a snowflake path parameter.
func parseID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
