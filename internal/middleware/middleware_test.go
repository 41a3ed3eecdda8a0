package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/habit-tracker/internal/config"
	"github.com/iliyamo/habit-tracker/internal/utils"
)

func newTokens(t *testing.T) *utils.TokenService {
	t.Helper()
	s, err := utils.NewTokenService([]byte(strings.Repeat("k", 64)), time.Hour)
	require.NoError(t, err)
	return s
}

func serve(e *echo.Echo, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthGate(t *testing.T) {
	tokens := newTokens(t)
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c))
	}, AuthGate(tokens))

	tok, err := tokens.Issue("acc-1", "a@example.com")
	require.NoError(t, err)

	rec := serve(e, http.MethodGet, "/me", "Bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acc-1", rec.Body.String())

	rec = serve(e, http.MethodGet, "/me", "bearer "+tok.Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, auth := range []string{"", "Bearer", "Bearer ", "Basic abc", tok.Token, "Bearer not-a-token"} {
		rec := serve(e, http.MethodGet, "/me", auth)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "auth %q", auth)
		assert.Contains(t, rec.Body.String(), `"message"`)
	}
}

func TestUserID_OutsideAuthGate(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Empty(t, UserID(c))
	assert.Equal(t, "anon", currentUserID(c))
	c.Set(userIDKey, "acc-1")
	assert.Equal(t, "acc-1", currentUserID(c))
}

func TestRateLimiter_BlocksAfterCapacity(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            10 * time.Minute,
		KeyStrategy:    "ip_route",
		Prefix:         "rl",
	}
	e := echo.New()
	e.POST("/api/login", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, NewTokenBucket(cfg, rdb))

	assert.Equal(t, http.StatusOK, serve(e, http.MethodPost, "/api/login", "").Code)
	rec := serve(e, http.MethodPost, "/api/login", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(e, http.MethodPost, "/api/login", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
}

func TestRateLimiter_DisabledOrRedisDown(t *testing.T) {
	next := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	e := echo.New()
	e.POST("/off", next, NewTokenBucket(config.RateLimitConfig{Enabled: false, Capacity: 1}, nil))
	for range 3 {
		assert.Equal(t, http.StatusNoContent, serve(e, http.MethodPost, "/off", "").Code)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute}
	e.POST("/down", next, NewTokenBucket(cfg, rdb))
	for range 3 {
		assert.Equal(t, http.StatusNoContent, serve(e, http.MethodPost, "/down", "").Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/login")

	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip"}, c))
	assert.Equal(t, "rl:ip:10.0.0.1:route:POST /api/login", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}, c))
	assert.Equal(t, "rl:ip:10.0.0.1:user:anon:route:POST /api/login", buildRateKey(config.RateLimitConfig{Prefix: "rl"}, c))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/habits/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/boom", func(echo.Context) error { return echo.NewHTTPError(http.StatusTeapot) })

	serve(e, http.MethodGet, "/api/habits/1", "")
	serve(e, http.MethodGet, "/api/habits/2", "")
	serve(e, http.MethodGet, "/boom", "")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/habits/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/boom", "418")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	serve(e, http.MethodGet, "/healthz", "")
	out := buf.String()
	assert.Contains(t, out, `"msg":"request"`)
	assert.Contains(t, out, `"route":"/healthz"`)
	assert.Contains(t, out, `"status":200`)
}
