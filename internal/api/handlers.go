// Package api contains the HTTP handlers for the temporary access service
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"temporary-access/backend/internal/repository"
	"temporary-access/backend/internal/runbook"
	"temporary-access/backend/pkg/models"
)

// Version is reported by the health endpoint.
var Version = "dev"

// HandleHealth returns basic health status (always returns 200 OK)
func HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "temporary-access",
		Version:   Version,
	})
}

// ProblemHandler renders errors as RFC 7807 Problem Details.
func ProblemHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, detail := http.StatusInternalServerError, err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			detail = msg
		}
	}
	problem := models.ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	if err := c.JSON(status, problem); err != nil {
		c.Logger().Error(err)
	}
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, runbook.ErrInvalidParameter),
		errors.Is(err, runbook.ErrInvalidWindow),
		errors.Is(err, models.ErrInvalidPayload):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
