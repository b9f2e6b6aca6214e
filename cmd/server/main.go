package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"

	"assignly/internal/account"
	"assignly/internal/audit"
	"assignly/internal/auth"
	"assignly/internal/cleanup"
	"assignly/internal/config"
	"assignly/internal/db"
	"assignly/internal/jobs"
	"assignly/internal/logging"
	"assignly/internal/middleware"
	"assignly/internal/order"
	"assignly/internal/queue"
	"assignly/internal/referral"
	"assignly/internal/router"
	"assignly/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	logging.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Database
	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		fatal("db open", err)
	}

	// 2. Redis: rate limiting and the cleanup outbox stream
	rdb := rd.NewClient(&rd.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		fatal("redis ping", err)
	}
	cancel()
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("redis close", "err", err)
		}
	}()

	// 3. Object storage
	var store storage.ObjectStore
	if cfg.StorageEndpoint == "memory" {
		slog.Warn("using in-memory object store; uploaded files are not persisted")
		store = storage.NewMemoryStore()
	} else {
		store, err = storage.NewMinioStore(cfg.StorageEndpoint, cfg.StorageAccessKey, cfg.StorageSecretKey, cfg.StorageBucket, cfg.StorageUseSSL)
		if err != nil {
			fatal("object store", err)
		}
	}

	// 4. Identity
	verifier, err := auth.NewVerifier(auth.Config{ProjectID: cfg.FirebaseProjectID, JWKSURL: cfg.FirebaseJWKSURL})
	if err != nil {
		fatal("token verifier", err)
	}
	authz := auth.NewAuthorizer(verifier, gdb)

	// 5. Services
	recorder := audit.NewRecorder(gdb)
	outbox := queue.NewOutbox(rdb, cfg.CleanupEventStream)
	orders := order.NewService(gdb, recorder, outbox, cfg.TxMaxAttempts)
	accounts := account.NewService(gdb, recorder, cfg.DefaultCredits, cfg.TxMaxAttempts)
	referrals := referral.NewService(gdb, recorder)
	processor := cleanup.NewProcessor(gdb, store, cfg.CleanupMaxRetries)

	// 6. Async cleanup pipeline: stream -> Kafka -> processor
	producer := queue.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	relay := queue.NewRelay(rdb, producer, cfg.CleanupEventStream, cfg.CleanupEventGroup, cfg.CleanupEventConsumer)
	consumer := queue.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, func(ctx context.Context, msg queue.CleanupMessage) error {
		res, processed, err := processor.ProcessJob(ctx, msg.JobID)
		if err != nil {
			return err
		}
		if processed {
			slog.Info("cleanup job handled", "job_id", res.JobID, "order_id", res.OrderID,
				"deleted", res.Deleted, "failed", res.Failed, "completed", res.Completed)
		}
		return nil
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); relay.Run(ctx) }()
	go func() { defer wg.Done(); consumer.Run(ctx) }()

	jobs.StartPromoter(ctx, orders, cfg.PromoteInterval, cfg.PromoteAfter)
	jobs.StartCleanup(ctx, processor, cfg.CleanupInterval, cfg.CleanupBatchSize)

	// 7. HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLog())
	router.Setup(r, router.Deps{
		Auth:      authz,
		Audit:     recorder,
		Accounts:  accounts,
		Orders:    orders,
		Cleanup:   processor,
		Referrals: referrals,
		Store:     store,
		Redis:     rdb,
		Config:    cfg,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http server", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "err", err)
	}
	if err := consumer.Close(); err != nil {
		slog.Warn("kafka consumer close", "err", err)
	}
	wg.Wait()
	if err := producer.Close(); err != nil {
		slog.Warn("kafka producer close", "err", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}
