package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	_ "github.com/jackc/pgx/v5/stdlib"

	"interview-platform/internal/apps"
	"interview-platform/internal/auth"
	"interview-platform/internal/calls"
	"interview-platform/internal/chat"
	"interview-platform/internal/config"
	"interview-platform/internal/httpapi"
	"interview-platform/internal/signaling"
	"interview-platform/pkg/logger"
	"interview-platform/pkg/utils"
)

// Call starts are throttled per application; the CAS guard in the repo is
// the real invariant, this just absorbs button-mashing.
const (
	callStartLimit  = 10
	callStartWindow = time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	hub := signaling.NewHub(log)
	directory := apps.NewPostgresDirectory(db)

	callsSvc := calls.NewService(
		calls.NewPostgresRepo(db),
		directory,
		hub,
		windowLimiter{rdb: rdb, limit: callStartLimit, window: callStartWindow},
	)
	chatSvc := chat.NewService(
		chat.NewPostgresRepo(db),
		directory,
		hub,
		windowLimiter{rdb: rdb, limit: cfg.Chat.SendLimitPerWindow, window: cfg.Chat.SendWindow},
		cfg.Chat.FetchLimit,
	)

	handlers := httpapi.Handlers{
		Calls: callsSvc,
		Chat:  chatSvc,
		ICE:   cfg.ICE,
		DB:    db,
		Redis: rdb,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, auth.RequireAccessToken(authManager), handlers, hub)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// HTTP first so no new websockets arrive, then the hub closes the open
	// ones, then the stores go down via the deferred closes.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	hub.Shutdown()
}

// windowLimiter adapts the redis fixed-window throttle to the limiter
// interfaces in calls and chat.
type windowLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

func (l windowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return utils.AllowWithinWindow(ctx, l.rdb, key, l.limit, l.window)
}
