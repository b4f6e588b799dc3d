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

	"callboard/internal/auth"
	"callboard/internal/config"
	"callboard/internal/history"
	"callboard/internal/httpapi"
	"callboard/internal/pbx"
	"callboard/internal/ratelimit"
	"callboard/internal/store"
	"callboard/internal/stream"
	"callboard/pkg/logger"
	"callboard/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
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

	if cfg.App.Env == "production" {
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

	var ingestCap *ratelimit.IngestCap
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		ingestCap = ratelimit.NewIngestCap(rdb, "callboard:ingest", cfg.Ingest.MaxConcurrent)
	}

	ring := history.New(history.DefaultCapacity)
	broker := stream.NewBroker(ring, log)
	svc := pbx.NewService(store.NewPostgres(db), ring, broker, log)

	// Warm the schema and history ring now; a failure here is not
	// fatal, the single-flight init retries on the first request.
	if err := svc.Ready(rootCtx); err != nil {
		log.Warn("store warm-up failed, will retry on first request", "err", err)
	}

	h := &httpapi.Handlers{
		Calls:         svc,
		Stream:        broker,
		Auth:          authManager,
		Cap:           ingestCap,
		DB:            db,
		WebhookSecret: cfg.PBX.Secret,
		DashUser:      cfg.Auth.DashUser,
		DashPassword:  cfg.Auth.DashPassword,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, authManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: the stream endpoint holds connections open
		// indefinitely.
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
