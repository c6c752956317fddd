// Package ratelimit implements admission control for incoming WebSocket
// connections, backed by Redis or an in-process memory store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mira-screenshare/signalserver/internal/config"
	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter gates WebSocket connection admission per client IP. The
// registry itself is not rate limited; this protects the WS upgrade
// endpoint from a connection flood before a peer ever touches the
// registry.
type RateLimiter struct {
	wsConnect *limiter.Limiter
	store     limiter.Store
}

// NewRateLimiter builds a RateLimiter from cfg.RateLimitWSPerMinute (an
// ulule/limiter formatted rate such as "30-M"). If redisClient is nil, an
// in-process memory store is used instead.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimitWSPerMinute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WS_PER_MINUTE: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "signalling:ratelimit:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (redis disabled)")
	}

	return &RateLimiter{
		wsConnect: limiter.New(store, rate),
		store:     store,
	}, nil
}

// Ping verifies the backing store is reachable, for use by health checks.
func (rl *RateLimiter) Ping(ctx context.Context) error {
	_, err := rl.wsConnect.Get(ctx, "healthcheck")
	return err
}

// AdmitConnection gates a /ws upgrade attempt from the given Gin context's
// client IP. On rejection it writes the 429 response itself and returns
// false; callers must stop handling the request when false is returned.
func (rl *RateLimiter) AdmitConnection(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	lctx, err := rl.wsConnect.Get(ctx, ip)
	if err != nil {
		// Fail open: availability of the signalling path matters more than
		// strict admission control when the store itself is unreachable.
		logging.Error(ctx, "rate limiter store failed", zap.Error(err))
		return true
	}

	c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

	if lctx.Reached {
		metrics.RateLimitRejectionsTotal.WithLabelValues("ws_connect").Inc()
		c.Header("Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "too many connection attempts",
			"retry_after": lctx.Reset,
		})
		return false
	}

	return true
}
