// Package transport wires WebSocket connections, the HTTP router, and the
// supporting admission/observability middleware together in front of the
// signalling core.
package transport

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mira-screenshare/signalserver/internal/config"
	"github.com/mira-screenshare/signalserver/internal/health"
	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/middleware"
	"github.com/mira-screenshare/signalserver/internal/ratelimit"
	"github.com/mira-screenshare/signalserver/internal/signaling"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server bundles the dependencies the HTTP router needs to serve
// signalling traffic alongside health and metrics endpoints.
type Server struct {
	cfg         *config.Config
	registry    *signaling.Registry
	dispatcher  *signaling.Dispatcher
	rateLimiter *ratelimit.RateLimiter
	health      *health.Handler
	ipSalt      []byte
}

// NewServer constructs a Server. rateLimiter gates WS upgrades; health
// answers /healthz and /readyz.
func NewServer(cfg *config.Config, registry *signaling.Registry, dispatcher *signaling.Dispatcher, rateLimiter *ratelimit.RateLimiter, healthHandler *health.Handler) *Server {
	return &Server{
		cfg:         cfg,
		registry:    registry,
		dispatcher:  dispatcher,
		rateLimiter: rateLimiter,
		health:      healthHandler,
		ipSalt:      []byte(cfg.IPHashSalt),
	}
}

// Router builds the gin engine serving the signalling WebSocket endpoint,
// metrics, and health probes on a single bind address. When cfg.MetricsAddress
// differs from cfg.Address, callers should instead use SignallingRouter and
// MetricsRouter on two separate listeners.
func (s *Server) Router() *gin.Engine {
	r := s.baseRouter()
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// SignallingRouter builds the router for the WebSocket + health endpoints only.
func (s *Server) SignallingRouter() *gin.Engine {
	return s.baseRouter()
}

// MetricsRouter builds a minimal router exposing only /metrics, for binding
// to a separate MetricsAddress.
func (s *Server) MetricsRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) baseRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
	}))
	r.Use(otelgin.Middleware("signalserver"))
	r.Use(middleware.CorrelationID())

	r.GET("/", s.serveWS)
	r.GET("/healthz", s.health.Liveness)
	r.GET("/readyz", s.health.Readiness)

	return r
}

func (s *Server) serveWS(c *gin.Context) {
	if !s.rateLimiter.AdmitConnection(c) {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	wsc := newConnection(conn, s.dispatcher, s.registry, s.ipSalt)
	wsc.serve(context.Background())
}
