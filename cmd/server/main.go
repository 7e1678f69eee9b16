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
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-fanout/config"
	"github.com/d60-Lab/timeline-fanout/internal/api"
	"github.com/d60-Lab/timeline-fanout/internal/api/handler"
	"github.com/d60-Lab/timeline-fanout/internal/cache"
	"github.com/d60-Lab/timeline-fanout/internal/repository"
	"github.com/d60-Lab/timeline-fanout/internal/service"
	"github.com/d60-Lab/timeline-fanout/pkg/alert"
	"github.com/d60-Lab/timeline-fanout/pkg/database"
	"github.com/d60-Lab/timeline-fanout/pkg/logger"
	"github.com/d60-Lab/timeline-fanout/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	defer logger.Sync()

	if err := alert.Init(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer alert.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	var timelineCache cache.TimelineCache
	switch cfg.Cache.Driver {
	case "memory":
		mc, err := cache.NewMemoryCache(cfg.Cache.MaxUsers, cfg.Cache.TTL, cfg.Timeline.MaxSize)
		if err != nil {
			return err
		}
		timelineCache = mc
	default:
		timelineCache = cache.NewRedisCache(rdb, cfg.Cache.KeyPrefix, cfg.Cache.TTL, cfg.Timeline.MaxSize)
	}

	followRepo := repository.NewFollowRepository(db)
	fanRepo := repository.NewFanRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	recordRepo := repository.NewFanoutRecordRepository(db)
	timelineRepo := repository.NewTimelineRepository(db)

	replicator := service.NewFanReplicator(fanRepo, profileRepo, 8, 10000)
	stopReplicator := replicator.Start()
	relService := service.NewRelationshipService(followRepo, fanRepo, profileRepo, replicator)

	dir := service.NewFollowerDirectory(fanRepo, followRepo, profileRepo, cfg.Fanout.PageSize)
	retry := service.RetryPolicy{
		MaxTries:        cfg.Fanout.Retry.MaxTries,
		InitialInterval: cfg.Fanout.Retry.InitialInterval,
		MaxInterval:     cfg.Fanout.Retry.MaxInterval,
	}
	timelines := service.NewTimelines(timelineRepo, timelineCache, cfg.Timeline.MaxSize, retry)
	dispatcher := service.NewDispatcher(dir, recordRepo, timelines, service.DispatcherConfig{
		CelebrityThreshold: cfg.Fanout.CelebrityThreshold,
		InactiveSkipWindow: cfg.Fanout.InactiveSkipWindow,
		Concurrency:        cfg.Fanout.Concurrency,
		WriteRate:          cfg.Fanout.WriteRate,
		WriteBurst:         cfg.Fanout.WriteBurst,
	})
	reader := service.NewReader(dir, recordRepo, timelines, service.ReaderConfig{
		CelebrityThreshold: cfg.Fanout.CelebrityThreshold,
		RebuildTimeout:     cfg.Reader.RebuildTimeout,
		StoreTimeout:       cfg.Reader.StoreTimeout,
		DefaultPageSize:    cfg.Reader.DefaultPageSize,
		MaxPageSize:        cfg.Reader.MaxPageSize,
		PullLimit:          cfg.Reader.PullLimit,
	})
	publisher := service.NewPublisher(rdb, cfg.Consumer.Stream, 0)

	stopConsumer := func(context.Context) error { return nil }
	if cfg.Consumer.Enabled {
		name := cfg.Consumer.Consumer
		if name == "" {
			host, _ := os.Hostname()
			name = host + "-" + uuid.NewString()[:8]
		}
		consumer := service.NewStreamConsumer(rdb, dispatcher, service.ConsumerOptions{
			Stream:      cfg.Consumer.Stream,
			Group:       cfg.Consumer.Group,
			Consumer:    name,
			Lanes:       cfg.Consumer.Lanes,
			BatchSize:   cfg.Consumer.BatchSize,
			Block:       cfg.Consumer.Block,
			ClaimIdle:   cfg.Consumer.ClaimIdle,
			ClaimEvery:  cfg.Consumer.ClaimEvery,
			MaxAttempts: cfg.Consumer.MaxAttempts,
			Retry:       retry,
		})
		if err := consumer.EnsureGroup(ctx); err != nil {
			return fmt.Errorf("create consumer group: %w", err)
		}
		stopConsumer = consumer.Start(ctx)
		logger.Info("stream consumer started",
			zap.String("stream", cfg.Consumer.Stream), zap.String("consumer", name))
	}

	gin.SetMode(cfg.Server.Mode)
	h := handler.NewHandler(relService, reader, dispatcher, publisher)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.SetupRouter(h, cfg.Tracing.ServiceName),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := stopConsumer(shutdownCtx); err != nil {
		logger.Error("consumer shutdown", zap.Error(err))
	}
	if err := stopReplicator(shutdownCtx); err != nil {
		logger.Error("replicator shutdown", zap.Error(err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", zap.Error(err))
	}
	return nil
}
