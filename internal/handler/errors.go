package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/oops"

	"github.com/iliyamo/habit-tracker/internal/repository"
)

// respondError maps a repository error onto a status code and a
// {"message"} body.  Validation details are safe to show; anything
// unclassified is logged with its oops code and context and answered with a
// generic message.
func respondError(c echo.Context, err error) error {
	status, msg := http.StatusInternalServerError, "internal server error"
	switch {
	case errors.Is(err, repository.ErrInvalidInput):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, repository.ErrConflict):
		status, msg = http.StatusConflict, "a user with this email already exists"
	case errors.Is(err, repository.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "habit not found"
	default:
		logInternal(c, err)
	}
	return c.JSON(status, echo.Map{"message": msg})
}

func logInternal(c echo.Context, err error) {
	attrs := []any{
		"method", c.Request().Method,
		"route", c.Path(),
		"error", err.Error(),
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "code", oopsErr.Code(), "context", oopsErr.Context())
	}
	slog.ErrorContext(c.Request().Context(), "request failed", attrs...)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"message": msg})
}
