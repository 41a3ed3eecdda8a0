package middleware

// identity.go holds the helpers that read the authenticated account from
// the Echo context once AuthGate has run.

import "github.com/labstack/echo/v4"

const userIDKey = "user_id"

// UserID returns the account id set by AuthGate, or "" on routes that are
// not behind it.
func UserID(c echo.Context) string {
	if s, ok := c.Get(userIDKey).(string); ok {
		return s
	}
	return ""
}

// currentUserID is UserID with a placeholder for anonymous callers, used to
// build rate limit keys.
func currentUserID(c echo.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return "anon"
}
