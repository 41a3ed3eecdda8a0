package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/habit-tracker/internal/middleware"
	"github.com/iliyamo/habit-tracker/internal/queue"
	"github.com/iliyamo/habit-tracker/internal/repository"
	"github.com/iliyamo/habit-tracker/internal/service"
	"github.com/iliyamo/habit-tracker/internal/utils"
)

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Accounts *repository.AccountRepo
	Tokens   *utils.TokenService
	Events   service.EventPublisher
	Timeout  time.Duration
	Now      func() time.Time
}

func NewAuthHandler(a *repository.AccountRepo, t *utils.TokenService, ev service.EventPublisher, timeout time.Duration) *AuthHandler {
	return &AuthHandler{Accounts: a, Tokens: t, Events: ev, Timeout: timeout, Now: time.Now}
}

// ----- DTOs -----

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResp struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

type loginResp struct {
	Message   string    `json:"message"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type meResp struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Register creates an account.  Email and password checks live in the
// repository so every caller gets the same rules.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	id, err := h.Accounts.Register(ctx, req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	publish(c, h.Events, h.Now, queue.HabitEvent{Type: queue.EventAccountRegistered, AccountID: id})
	return c.JSON(http.StatusCreated, registerResp{Message: "registration successful", UserID: id})
}

// Login verifies credentials and issues a session token.  Unknown email
// and wrong password produce the same 401.
func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest(c, "email and password are required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	acc, err := h.Accounts.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return respondError(c, err)
	}
	tok, err := h.Tokens.Issue(acc.ID, acc.Email)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, loginResp{Message: "login successful", Token: tok.Token, ExpiresAt: tok.Exp})
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	acc, err := h.Accounts.FindByID(ctx, middleware.UserID(c))
	if errors.Is(err, repository.ErrNotFound) {
		// token outlived its account
		return c.JSON(http.StatusUnauthorized, echo.Map{"message": "invalid or expired token"})
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, meResp{UserID: acc.ID, Email: acc.Email})
}

// publish stamps a committed event with now and hands it to the publisher.
// Failures are logged by the publisher and never change the response.
func publish(c echo.Context, p service.EventPublisher, now func() time.Time, ev queue.HabitEvent) {
	if p == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	ev.OccurredAt = now().UTC()
	_ = p.Publish(c.Request().Context(), ev)
}
