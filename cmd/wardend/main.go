package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wardenpanel/warden/internal/app/migrate"
	"github.com/wardenpanel/warden/internal/console"
	httpx "github.com/wardenpanel/warden/internal/http"
	"github.com/wardenpanel/warden/internal/metrics"
	"github.com/wardenpanel/warden/internal/repository/postgres"
	"github.com/wardenpanel/warden/internal/service/consolesvc"
	"github.com/wardenpanel/warden/internal/service/serversvc"
	"github.com/wardenpanel/warden/internal/supervisor"
	"github.com/wardenpanel/warden/internal/ws"
	"github.com/wardenpanel/warden/pkg/config"
	"github.com/wardenpanel/warden/pkg/logger"
)

func main() {
	cfg := config.LoadPanelConfig()
	log := logger.New("wardend", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()
	defer hub.Close()
	registry := console.NewRegistry(cfg.ConsoleBufferLines)

	supervisorClient, err := supervisor.New(cfg.SupervisorURL, cfg.SupervisorToken, nil)
	if err != nil {
		log.Error("failed to configure supervisor client", "error", err)
		os.Exit(1)
	}

	consoleSvc := consolesvc.New(registry, hub, log)
	serverSvc := serversvc.New(repo, repo, supervisorClient, hub, log)

	broadcaster := metrics.NewBroadcaster(repo, supervisorClient, hub, repo, log, cfg.MetricsPushEvery)
	go broadcaster.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, serverSvc, consoleSvc, repo, limiter, cfg.JWTSecret, cfg.SupervisorToken, cfg.MetricsHistoryLimit, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("panel server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("panel server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
