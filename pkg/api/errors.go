package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/forgemcp/concierge/pkg/mcp"
	"github.com/forgemcp/concierge/pkg/session"
	"github.com/forgemcp/concierge/pkg/workflow"
)

// mapServiceError maps core-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var backendErr *mcp.BackendError
	switch {
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session store is unavailable")
	case errors.Is(err, mcp.ErrUnreachable):
		return echo.NewHTTPError(http.StatusBadGateway, "project backend is unreachable")
	case errors.As(err, &backendErr):
		return echo.NewHTTPError(http.StatusBadGateway, "project backend rejected the request")
	case errors.Is(err, workflow.ErrBusy):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "all workflow slots are busy, try again shortly")
	case errors.Is(err, workflow.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service is shutting down")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
