package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/habit-tracker/internal/config"
	"github.com/iliyamo/habit-tracker/internal/handler"
	"github.com/iliyamo/habit-tracker/internal/kv"
	"github.com/iliyamo/habit-tracker/internal/middleware"
	"github.com/iliyamo/habit-tracker/internal/queue"
	"github.com/iliyamo/habit-tracker/internal/repository"
	"github.com/iliyamo/habit-tracker/internal/router"
	"github.com/iliyamo/habit-tracker/internal/utils"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.HabitEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev queue.HabitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) types() []queue.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	e      *echo.Echo
	mr     *miniredis.Miniredis
	events *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), kv.WithRetryDelay(time.Millisecond))
	t.Cleanup(func() { _ = store.Close() })

	tokens, err := utils.NewTokenService([]byte(strings.Repeat("k", 64)), time.Hour)
	require.NoError(t, err)
	events := &recordingPublisher{}
	accounts := repository.NewAccountRepo(store, utils.NewPasswordHasher(bcrypt.MinCost, ""))
	habits := handler.NewHabitHandler(repository.NewHabitRepo(store), events, time.UTC, 5*time.Second)
	habits.Now = func() time.Time { return testNow }
	auth := handler.NewAuthHandler(accounts, tokens, events, 5*time.Second)
	auth.Now = func() time.Time { return testNow.Add(-time.Hour) }

	reg := prometheus.NewRegistry()
	e := echo.New()
	e.Use(middleware.NewHTTPMetrics(reg).Middleware())
	router.RegisterRoutes(e, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.RegisterAuth(e, auth, tokens,
		middleware.NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil))
	router.RegisterHabits(e, habits, tokens)
	return &testServer{e: e, mr: mr, events: events}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

// login registers an account and returns its token and id.
func (s *testServer) login(t *testing.T, email string) (string, string) {
	t.Helper()
	creds := `{"email":"` + email + `","password":"secret1"}`
	rec := s.do(t, http.MethodPost, "/api/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg struct{ UserID string }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reg))

	rec = s.do(t, http.MethodPost, "/api/login", "", creds)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct{ Token string }
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token, reg.UserID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type habitJSON struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Entries []struct {
		HabitID string `json:"habitId"`
		Date    string `json:"date"`
		Status  string `json:"status"`
	} `json:"entries"`
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", "").Code)
	rec := s.do(t, http.MethodGet, "/api/test", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message"`)

	rec = s.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "habit_http_requests_total")
}

func TestRegister(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/register", "", `{"email":"a@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.NotEmpty(t, body["userId"])
	assert.NotEmpty(t, body["message"])

	rec = s.do(t, http.MethodPost, "/api/register", "", `{"email":"a@example.com","password":"secret2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message"`)

	for _, bad := range []string{
		`{"email":"b@example.com","password":"12345"}`,
		`{"email":"","password":"secret1"}`,
		`{"password":"secret1"}`,
		`{not json`,
	} {
		rec := s.do(t, http.MethodPost, "/api/register", "", bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
	assert.Equal(t, []queue.EventType{queue.EventAccountRegistered}, s.events.types())
}

func TestEventsCarryHandlerClock(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.login(t, "clock@example.com")

	rec := s.do(t, http.MethodPost, "/api/habits", token, `{"name":"Read"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	h := decode[habitJSON](t, rec)
	rec = s.do(t, http.MethodPost, "/api/habits/"+h.ID+"/entries", token, `{"date":"2024-03-10","status":"done"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.events.mu.Lock()
	defer s.events.mu.Unlock()
	require.Len(t, s.events.events, 3)
	assert.Equal(t, queue.EventAccountRegistered, s.events.events[0].Type)
	assert.True(t, testNow.Add(-time.Hour).Equal(s.events.events[0].OccurredAt))
	for _, ev := range s.events.events[1:] {
		assert.True(t, testNow.Equal(ev.OccurredAt), "%s at %s", ev.Type, ev.OccurredAt)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	token, id := s.login(t, "a@example.com")
	assert.NotEmpty(t, token)

	rec := s.do(t, http.MethodGet, "/api/me", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"userId": id, "email": "a@example.com"}, decode[map[string]string](t, rec))

	wrong := s.do(t, http.MethodPost, "/api/login", "", `{"email":"a@example.com","password":"wrong-one"}`)
	unknown := s.do(t, http.MethodPost, "/api/login", "", `{"email":"x@example.com","password":"secret1"}`)
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())

	rec = s.do(t, http.MethodPost, "/api/login", "", `{"email":"a@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/me"},
		{http.MethodGet, "/api/habits"},
		{http.MethodPost, "/api/habits"},
		{http.MethodPut, "/api/habits/x"},
		{http.MethodDelete, "/api/habits/x"},
		{http.MethodPost, "/api/habits/x/entries"},
		{http.MethodGet, "/api/habits/x/stats"},
	} {
		assert.Equal(t, http.StatusUnauthorized, s.do(t, r.method, r.path, "", "").Code, r.path)
		assert.Equal(t, http.StatusUnauthorized, s.do(t, r.method, r.path, "garbage", "").Code, r.path)
	}
}

func TestHabitLifecycle(t *testing.T) {
	s := newTestServer(t)
	token, owner := s.login(t, "a@example.com")

	rec := s.do(t, http.MethodGet, "/api/habits", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/habits", token, `{"name":"Read"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	h := decode[habitJSON](t, rec)
	assert.Equal(t, "Read", h.Name)
	assert.Equal(t, "positive", h.Type)
	assert.Equal(t, owner, h.UserID)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/habits", token, `{"name":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/habits", token, `{"name":"x","type":"odd"}`).Code)

	for _, d := range []string{"2024-03-08", "2024-03-09", "2024-03-10"} {
		rec = s.do(t, http.MethodPost, "/api/habits/"+h.ID+"/entries", token, `{"date":"`+d+`","status":"done"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/habits/"+h.ID+"/entries", token, `{"date":"10.03.2024","status":"done"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/habits/"+h.ID+"/entries", token, `{"date":"2024-03-10","status":"meh"}`).Code)

	rec = s.do(t, http.MethodGet, "/api/habits/"+h.ID+"/stats", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"doneToday":true,"currentStreak":3,"longestStreak":3,"consistency30d":0.1}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/habits/"+h.ID+"/stats?today=2024-03-12", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, false, stats["doneToday"])
	assert.Equal(t, 0.0, stats["currentStreak"])
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/habits/"+h.ID+"/stats?today=soon", token, "").Code)

	rec = s.do(t, http.MethodPatch, "/api/habits/"+h.ID, token, `{"name":"Read more"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Read more", decode[habitJSON](t, rec).Name)
	rec = s.do(t, http.MethodPut, "/api/habits/"+h.ID, token, `{"name":"Read daily"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/habits", token, "")
	habits := decode[[]habitJSON](t, rec)
	require.Len(t, habits, 1)
	assert.Equal(t, "Read daily", habits[0].Name)
	require.Len(t, habits[0].Entries, 3)
	assert.Equal(t, "2024-03-08", habits[0].Entries[0].Date)

	rec = s.do(t, http.MethodDelete, "/api/habits/"+h.ID, token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message"`)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/habits/"+h.ID, token, "").Code)
	for _, k := range s.mr.Keys() {
		assert.NotContains(t, k, "entries:"+h.ID)
	}

	assert.Equal(t, []queue.EventType{
		queue.EventAccountRegistered,
		queue.EventHabitCreated,
		queue.EventEntryTracked, queue.EventEntryTracked, queue.EventEntryTracked,
		queue.EventHabitRenamed, queue.EventHabitRenamed,
		queue.EventHabitDeleted,
	}, s.events.types())
}

func TestCrossAccountAccessIsNotFound(t *testing.T) {
	s := newTestServer(t)
	alice, _ := s.login(t, "alice@example.com")
	bob, _ := s.login(t, "bob@example.com")

	rec := s.do(t, http.MethodPost, "/api/habits", alice, `{"name":"Read"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[habitJSON](t, rec).ID

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/habits/"+id, bob, `{"name":"Mine"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/habits/"+id, bob, "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/habits/"+id+"/entries", bob, `{"date":"2024-03-10","status":"done"}`).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/habits/"+id+"/stats", bob, "").Code)
	assert.JSONEq(t, `[]`, s.do(t, http.MethodGet, "/api/habits", bob, "").Body.String())

	rec = s.do(t, http.MethodGet, "/api/habits", alice, "")
	habits := decode[[]habitJSON](t, rec)
	require.Len(t, habits, 1)
	assert.Equal(t, "Read", habits[0].Name)
	assert.Empty(t, habits[0].Entries)
}

func TestCorruptRecordIsInternalError(t *testing.T) {
	s := newTestServer(t)
	token, owner := s.login(t, "a@example.com")
	id := "5f0c1b52-6f7e-4a3f-9a43-0b5a2f1b7e11"
	require.NoError(t, s.mr.Set("habits:"+owner+":"+id, `{"type":"habit","data":"oops"}`))

	rec := s.do(t, http.MethodGet, "/api/habits/"+id+"/stats", token, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"internal server error"}`, rec.Body.String())

	// listings skip it
	rec = s.do(t, http.MethodGet, "/api/habits", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
