package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/classroom-signaling/config"
	"github.com/mossy-p/classroom-signaling/internal/handlers"
	"github.com/mossy-p/classroom-signaling/internal/logging"
	"github.com/mossy-p/classroom-signaling/internal/metrics"
	"github.com/mossy-p/classroom-signaling/internal/middleware"
	"github.com/mossy-p/classroom-signaling/internal/redis"
	"github.com/mossy-p/classroom-signaling/internal/signaling"
)

const redisConnectTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "signaling: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	connectCtx, cancel := context.WithTimeout(ctx, redisConnectTimeout)
	store, err := redis.Connect(connectCtx, cfg.Redis)
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()

	logger.Info("Redis connection established",
		zap.String("host", cfg.Redis.Host), zap.String("port", cfg.Redis.Port))

	m := metrics.New()
	tokens := middleware.NewTokenAuthority(cfg.JWTSecret, cfg.TokenTTL)

	relay, err := signaling.NewServer(signaling.Config{
		Signaling:     cfg.Signaling,
		Authenticator: tokens,
		Presence:      store,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	h := handlers.New(handlers.Handlers{
		Users:          store,
		Sessions:       store,
		Health:         store,
		Presence:       store,
		Tokens:         tokens,
		Relay:          relay,
		Logger:         logger,
		AdminUsernames: cfg.AdminUsernames,
	})
	router := handlers.NewRouter(h, cfg, m)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting WebRTC signaling server",
			zap.String("port", cfg.Port),
			zap.String("mode", cfg.Signaling.Mode),
			zap.String("duplicate_policy", cfg.Signaling.DuplicatePolicy),
			zap.Bool("require_auth", cfg.Signaling.RequireAuth))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server, so the
	// relay drains them itself.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := relay.Shutdown(shutdownCtx); err != nil {
		logger.Warn("signaling shutdown incomplete", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
