package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/lmckeown27/avila-protocol-testnet-sub003/pkg/ratelimit"
)

type stubLimiter struct {
	res ratelimit.Result
	err error
}

func (s *stubLimiter) AllowPerSecond(context.Context, string, int, int) (ratelimit.Result, error) {
	return s.res, s.err
}

func newRateLimitRouter(limiter ratelimit.RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter, 10, 20))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func TestRateLimitAllows(t *testing.T) {
	r := newRateLimitRouter(&stubLimiter{res: ratelimit.Result{Allowed: true, Remaining: 19}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	r := newRateLimitRouter(&stubLimiter{res: ratelimit.Result{Allowed: false, RetryAfter: 3 * time.Second}})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3", w.Header().Get("Retry-After"))
}

func TestRateLimitFailsOpenOnLimiterError(t *testing.T) {
	r := newRateLimitRouter(&stubLimiter{err: errors.New("redis down")})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoggingAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.Use(Logging(logger, nil))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// 透传上游请求 ID
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", w.Header().Get("X-Request-ID"))
}
