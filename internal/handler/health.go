package handler // declare the package name; contains HTTP handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health is a simple health-check endpoint used by load balancers and
// monitoring systems.  It returns a plain text "ok" with 200.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// APITest answers the frontend's connectivity check.
func APITest(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"message": "hello from the habit tracker backend"})
}
