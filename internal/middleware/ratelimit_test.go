package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"situation-room/internal/infra/persistence/memory"
	"situation-room/internal/repository"
)

type brokenLimiter struct{}

func (brokenLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func newLimitedRouter(limiter repository.RateLimiter, max int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(limiter, max, time.Minute))
	r.GET("/rooms", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func hit(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerClientIP(t *testing.T) {
	r := newLimitedRouter(memory.NewRateLimiter(), 2)

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1").Code)
	w := hit(r, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"code":"RateLimited","info":"Too many requests"}`, w.Body.String())
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

	assert.Equal(t, http.StatusOK, hit(r, "10.0.0.2").Code, "不同 IP 分别计数")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	r := newLimitedRouter(brokenLimiter{}, 1)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "10.0.0.1").Code)
	}
}

func TestRateLimit_InvalidArguments(t *testing.T) {
	assert.Panics(t, func() { RateLimit(nil, 1, time.Second) })
	assert.Panics(t, func() { RateLimit(memory.NewRateLimiter(), 0, time.Second) })
	assert.Panics(t, func() { RateLimit(memory.NewRateLimiter(), 1, 0) })
}
