package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// TokenVerifier resolves a raw session token to the account id it was
// issued for.  *utils.TokenService implements it.
type TokenVerifier interface {
	Verify(raw string) (string, error)
}

// AuthGate returns an Echo middleware that validates a Bearer session token
// and stores the account id under "user_id" in the request context, where
// UserID reads it.  Missing, malformed and expired tokens all get the same
// 401 response.
func AuthGate(tokens TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "missing bearer token"})
			}
			id, err := tokens.Verify(raw)
			if err != nil || id == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid or expired token"})
			}
			c.Set(userIDKey, id)
			return next(c)
		}
	}
}

// bearerToken extracts the token from an Authorization header value.  The
// scheme is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, raw, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
