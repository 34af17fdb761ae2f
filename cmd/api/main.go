package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/api"
	"attendancedesk/internal/attendance"
	"attendancedesk/internal/auth"
	"attendancedesk/internal/config"
	"attendancedesk/internal/journal"
	"attendancedesk/internal/logger"
	"attendancedesk/internal/queue"
	"attendancedesk/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, zl); err != nil {
		zl.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]api.HealthCheck{}

	var jrnl *journal.Service
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Warn("db not reachable, scan journal disabled", zap.Error(err))
	} else {
		defer db.Close()
		if err := db.Migrate(zl); err != nil {
			return err
		}
		jrnl = journal.NewService(journal.NewRepository(db.Client), cfg.Attendance.ScanDedupWindow)
		health["db"] = db.Healthy
	}

	// q stays nil when nothing would ever read it.
	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// no separate worker can see an in-process queue, so drain it here
		if jrnl != nil {
			mem := queue.NewInMemory(256)
			q = mem
			go func() { _ = journal.Drain(ctx, mem, jrnl, zl.Named("journal")) }()
		} else {
			zl.Warn("memory queue without a journal, mark outcomes are not recorded")
		}
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, zl)
		health["redis"] = redisClient.Healthy
	}

	creds := auth.NewCredentials(cfg.Upstream.Token)
	client := academy.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, creds, zl)
	client.SkipNgrokWarning = cfg.Upstream.SkipNgrokWarning

	opts := attendance.Options{
		FailOpen:         cfg.Attendance.FailOpen,
		ProbeConcurrency: cfg.Attendance.ProbeConcurrency,
		NoticeTTL:        cfg.Attendance.NoticeTTL,
	}
	if q != nil {
		opts.OnMark = api.PublishMarks(q, zl)
	}
	desk := attendance.NewDesk(client, opts, zl)

	deps := api.Deps{
		Config:      cfg,
		Desk:        desk,
		Upstream:    client,
		Credentials: creds,
		Health:      health,
		Log:         zl,
	}
	if jrnl != nil {
		deps.Journal = jrnl
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.New(deps).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("starting server", zap.String("addr", srv.Addr), zap.String("upstream", cfg.Upstream.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced shutdown", zap.Error(err))
	}
	zl.Info("server exited")
	return nil
}
