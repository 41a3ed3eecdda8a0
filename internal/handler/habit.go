package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/habit-tracker/internal/middleware"
	"github.com/iliyamo/habit-tracker/internal/model"
	"github.com/iliyamo/habit-tracker/internal/queue"
	"github.com/iliyamo/habit-tracker/internal/repository"
	"github.com/iliyamo/habit-tracker/internal/service"
	"github.com/iliyamo/habit-tracker/internal/streak"
)

// HabitHandler serves the habit and entry endpoints.  Every route sits
// behind AuthGate, so the acting account is always known.
type HabitHandler struct {
	Habits   *repository.HabitRepo
	Events   service.EventPublisher
	Location *time.Location // zone that decides what "today" is
	Timeout  time.Duration
	Now      func() time.Time
}

func NewHabitHandler(r *repository.HabitRepo, ev service.EventPublisher, loc *time.Location, timeout time.Duration) *HabitHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &HabitHandler{Habits: r, Events: ev, Location: loc, Timeout: timeout, Now: time.Now}
}

// ----- DTOs -----

type createHabitReq struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type renameHabitReq struct {
	Name string `json:"name"`
}

type trackEntryReq struct {
	Date   string `json:"date"`
	Status string `json:"status"`
}

// List returns the caller's habits with their entries.
func (h *HabitHandler) List(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	habits, err := h.Habits.List(ctx, middleware.UserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, habits)
}

// Create adds a habit; type defaults to positive.
func (h *HabitHandler) Create(c echo.Context) error {
	var req createHabitReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	owner := middleware.UserID(c)
	habit, err := h.Habits.Create(ctx, owner, req.Name, req.Type)
	if err != nil {
		return respondError(c, err)
	}
	publish(c, h.Events, h.Now, queue.HabitEvent{Type: queue.EventHabitCreated, AccountID: owner, HabitID: habit.ID, HabitName: habit.Name})
	return c.JSON(http.StatusCreated, habit)
}

// Rename serves both PUT and PATCH; name is the only mutable field.
func (h *HabitHandler) Rename(c echo.Context) error {
	var req renameHabitReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	owner := middleware.UserID(c)
	habit, err := h.Habits.Rename(ctx, owner, c.Param("id"), req.Name)
	if err != nil {
		return respondError(c, err)
	}
	publish(c, h.Events, h.Now, queue.HabitEvent{Type: queue.EventHabitRenamed, AccountID: owner, HabitID: habit.ID, HabitName: habit.Name})
	return c.JSON(http.StatusOK, habit)
}

// Delete removes a habit together with its entries.
func (h *HabitHandler) Delete(c echo.Context) error {
	ctx, cancel := h.ctx(c)
	defer cancel()

	owner, id := middleware.UserID(c), c.Param("id")
	if err := h.Habits.Delete(ctx, owner, id); err != nil {
		return respondError(c, err)
	}
	publish(c, h.Events, h.Now, queue.HabitEvent{Type: queue.EventHabitDeleted, AccountID: owner, HabitID: id})
	return c.JSON(http.StatusOK, echo.Map{"message": "habit deleted"})
}

// Track records a day's outcome, replacing an earlier one for that date.
func (h *HabitHandler) Track(c echo.Context) error {
	var req trackEntryReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	owner := middleware.UserID(c)
	entry, err := h.Habits.Track(ctx, owner, c.Param("id"), req.Date, req.Status)
	if err != nil {
		return respondError(c, err)
	}
	publish(c, h.Events, h.Now, queue.HabitEvent{
		Type:      queue.EventEntryTracked,
		AccountID: owner,
		HabitID:   entry.HabitID,
		Date:      entry.Date,
		Status:    string(entry.Status),
	})
	return c.JSON(http.StatusCreated, entry)
}

// Stats summarises one habit.  ?today=YYYY-MM-DD overrides the server's
// idea of today, which lets clients in other zones ask about their own day.
func (h *HabitHandler) Stats(c echo.Context) error {
	today := h.Now().In(h.Location)
	if q := c.QueryParam("today"); q != "" {
		d, err := model.ParseDate(q)
		if err != nil {
			return badRequest(c, "today must be YYYY-MM-DD")
		}
		today = d
	}
	ctx, cancel := h.ctx(c)
	defer cancel()

	habit, err := h.Habits.Get(ctx, middleware.UserID(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, streak.Summarize(habit, today))
}

func (h *HabitHandler) ctx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), h.Timeout)
}
