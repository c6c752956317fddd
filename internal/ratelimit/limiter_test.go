package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mira-screenshare/signalserver/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*RateLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{RateLimitWSPerMinute: "5-M"}

	rl, err := NewRateLimiter(cfg, rc)
	require.NoError(t, err)

	return rl, mr
}

func TestNewRateLimiter_Memory(t *testing.T) {
	cfg := &config.Config{RateLimitWSPerMinute: "5-M"}
	rl, err := NewRateLimiter(cfg, nil)
	assert.NoError(t, err)
	assert.NotNil(t, rl)
}

func TestNewRateLimiter_InvalidRate(t *testing.T) {
	cfg := &config.Config{RateLimitWSPerMinute: "not-a-rate"}
	_, err := NewRateLimiter(cfg, nil)
	assert.Error(t, err)
}

func TestAdmitConnection(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	gin.SetMode(gin.TestMode)

	newCtx := func() *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
		req.RemoteAddr = "203.0.113.10:5555"
		c.Request = req
		return c
	}

	for i := 0; i < 5; i++ {
		c := newCtx()
		assert.True(t, rl.AdmitConnection(c), "request %d should be admitted", i+1)
		assert.Equal(t, "5", c.Writer.Header().Get("X-RateLimit-Limit"))
	}

	c := newCtx()
	assert.False(t, rl.AdmitConnection(c), "6th request should be rejected")
	assert.Equal(t, http.StatusTooManyRequests, c.Writer.Status())
}

func TestAdmitConnection_FailOpen(t *testing.T) {
	rl, mr := newTestLimiter(t)
	mr.Close()

	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req, _ := http.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.11:5555"
	c.Request = req

	assert.True(t, rl.AdmitConnection(c), "should fail open when store is unreachable")
}

func TestPing(t *testing.T) {
	rl, mr := newTestLimiter(t)
	defer mr.Close()

	assert.NoError(t, rl.Ping(context.Background()))
}
