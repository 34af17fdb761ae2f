package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"attendancedesk/internal/config"
	"attendancedesk/internal/journal"
	"attendancedesk/internal/logger"
	"attendancedesk/internal/queue"
	"attendancedesk/internal/store"
)

// Worker drains mark outcomes from the Redis queue into the scan journal.
func main() {
	cfg := config.Load()
	zl, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend == "memory" {
		zl.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue is drained inside the api process")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		zl.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(zl); err != nil {
		zl.Fatal("migrate failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		zl.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey, zl)
	svc := journal.NewService(journal.NewRepository(db.Client), cfg.Attendance.ScanDedupWindow)

	if err := journal.Drain(ctx, q, svc, zl.Named("journal")); err != nil {
		zl.Fatal("queue consume failed", zap.Error(err))
	}
}
