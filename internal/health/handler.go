package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mira-screenshare/signalserver/internal/logging"
	"go.uber.org/zap"
)

// StoreChecker pings the rate limiter's backing store (Redis or memory).
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// ICEChecker reports whether the ICE broker's vendor circuit is currently
// serving credential requests.
type ICEChecker interface {
	Healthy() bool
}

// Handler manages health check endpoints.
type Handler struct {
	store      StoreChecker
	iceChecker ICEChecker
	iceEnabled bool
}

// NewHandler creates a health check handler. iceChecker may be nil when the
// ICE broker is disabled (no Twilio-style credentials configured), in which
// case readiness skips that check entirely.
func NewHandler(store StoreChecker, iceChecker ICEChecker) *Handler {
	return &Handler{
		store:      store,
		iceChecker: iceChecker,
		iceEnabled: iceChecker != nil,
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles GET /healthz. Returns 200 if the process is alive, with
// no dependency checks.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles GET /readyz. Returns 200 only if all checked
// dependencies are healthy, 503 otherwise. The ICE broker's circuit
// tripping open does not fail readiness: ice_servers degrades gracefully
// to an empty list, so signalling traffic should keep flowing.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["rate_limit_store"] = storeStatus
	if storeStatus != "healthy" {
		allHealthy = false
	}

	if h.iceEnabled {
		checks["ice_broker"] = h.checkICE()
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) checkStore(ctx context.Context) string {
	if h.store == nil {
		return "healthy"
	}
	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "rate limit store health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkICE() string {
	if h.iceChecker == nil || h.iceChecker.Healthy() {
		return "healthy"
	}
	return "degraded"
}
