package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"anchor-payout/internal/adapter/http/middleware"
	redisStore "anchor-payout/internal/adapter/storage/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func setupRateLimitRouter(store middleware.Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	rule := middleware.RateLimitRule{Limit: 3, Window: time.Minute}
	log := zerolog.Nop()

	// Stand-in for JWTAuth: the subject header becomes the authenticated subject.
	r.Use(func(c *gin.Context) {
		if sub := c.GetHeader("X-Test-Subject"); sub != "" {
			c.Set(middleware.CtxSubject, sub)
		}
	})
	r.GET("/test", middleware.RateLimiter(store, "test", rule, log), func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	return r
}

func newRedisStore(t *testing.T) *redisStore.RateLimitStore {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisStore.NewRateLimitStore(client)
}

func doRequest(router *gin.Engine, subject string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), "GET", "/test", nil)
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	router := setupRateLimitRouter(newRedisStore(t))

	for i := 0; i < 3; i++ {
		w := doRequest(router, "")
		assert.Equal(t, 200, w.Code, "request %d should succeed", i+1)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	router := setupRateLimitRouter(newRedisStore(t))

	// Use up the limit
	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, doRequest(router, "").Code)
	}

	// 4th request should be blocked
	w := doRequest(router, "")
	assert.Equal(t, 429, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "RATE_001")
}

func TestRateLimiter_KeysBySubject(t *testing.T) {
	router := setupRateLimitRouter(newRedisStore(t))

	// alice uses up the limit
	for i := 0; i < 3; i++ {
		assert.Equal(t, 200, doRequest(router, "alice").Code)
	}
	assert.Equal(t, 429, doRequest(router, "alice").Code)

	// bob should still be allowed (independent counter)
	assert.Equal(t, 200, doRequest(router, "bob").Code)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int64, time.Duration) (*redisStore.RateLimitResult, error) {
	return nil, errors.New("redis: connection refused")
}

func TestRateLimiter_DegradesOpen(t *testing.T) {
	router := setupRateLimitRouter(brokenLimiter{})

	for i := 0; i < 5; i++ {
		assert.Equal(t, 200, doRequest(router, "alice").Code)
	}
}

func TestDefaultRateLimitRules(t *testing.T) {
	rules := middleware.DefaultRateLimitRules()
	assert.Equal(t, int64(120), rules["ops_read"].Limit)
	assert.Equal(t, int64(20), rules["ops_write"].Limit)
	assert.Equal(t, int64(5), rules["ops_bulk"].Limit)
}
