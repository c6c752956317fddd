package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mira-screenshare/signalserver/internal/config"
	"github.com/mira-screenshare/signalserver/internal/health"
	"github.com/mira-screenshare/signalserver/internal/ice"
	"github.com/mira-screenshare/signalserver/internal/logging"
	"github.com/mira-screenshare/signalserver/internal/ratelimit"
	"github.com/mira-screenshare/signalserver/internal/signaling"
	"github.com/mira-screenshare/signalserver/internal/tracing"
	"github.com/mira-screenshare/signalserver/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	envFile := flag.String("config", ".env", "path to an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()

	if cfg.TracingEnabled() {
		tp, err := tracing.InitTracer(ctx, "signalserver", cfg.OTELCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "failed to init tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			tp.Shutdown(shutdownCtx)
		}()
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	broker := ice.NewBroker(cfg.TwilioAccountSID, cfg.TwilioAuthToken)

	var iceChecker health.ICEChecker
	if broker.Enabled() {
		iceChecker = broker
	}
	healthHandler := health.NewHandler(rateLimiter, iceChecker)

	registry := signaling.NewRegistry()
	dispatcher := signaling.NewDispatcher(registry, broker)

	server := transport.NewServer(cfg, registry, dispatcher, rateLimiter, healthHandler)

	var metricsSrv *http.Server
	var mainSrv *http.Server

	if cfg.MetricsAddress != cfg.Address {
		mainSrv = &http.Server{Addr: cfg.Address, Handler: server.SignallingRouter()}
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: server.MetricsRouter()}
		go func() {
			logging.Info(ctx, "metrics server starting", zap.String("address", cfg.MetricsAddress))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error(ctx, "metrics server failed", zap.Error(err))
			}
		}()
	} else {
		mainSrv = &http.Server{Addr: cfg.Address, Handler: server.Router()}
	}

	go func() {
		logging.Info(ctx, "signalling server starting", zap.String("address", cfg.Address))
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "signalling server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSec)*time.Second)
	defer cancel()

	if err := mainSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "signalling server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logging.Error(ctx, "metrics server forced to shutdown", zap.Error(err))
		}
	}

	logging.Info(ctx, "server exiting")
}
