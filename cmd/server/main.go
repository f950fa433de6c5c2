package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kjannette/sniper-backend/internal/api"
	"github.com/kjannette/sniper-backend/internal/cache"
	"github.com/kjannette/sniper-backend/internal/config"
	"github.com/kjannette/sniper-backend/internal/db"
	"github.com/kjannette/sniper-backend/internal/events"
	"github.com/kjannette/sniper-backend/internal/external"
	"github.com/kjannette/sniper-backend/internal/logger"
	"github.com/kjannette/sniper-backend/internal/notifications"
	"github.com/kjannette/sniper-backend/internal/repository"
	"github.com/kjannette/sniper-backend/internal/scheduler"
	"github.com/kjannette/sniper-backend/internal/tracing"
)

const banner = `
╔══════════════════════════════════════╗
║       Market Sniper Tracker v1.0     ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log

	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	logSummary(log, cfg.Summary())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := tracing.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal("failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			log.Error("failed to shutdown tracer", zap.Error(err))
		}
	}()

	// Database
	log.Info("connecting to database", zap.String("db", cfg.Summary()["db"]))
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer func() {
		pool.Close()
		log.Info("connection pool closed")
	}()

	if err := db.TestConnection(ctx, pool); err != nil {
		log.Fatal("database test query failed", zap.Error(err))
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal("schema bootstrap failed", zap.Error(err))
	}

	items := repository.NewItemRepo(pool)

	// Redis: listing cache + write rate limiting (optional)
	var (
		listing *cache.Listing
		limiter *cache.Limiter
	)
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("redis unavailable, continuing without cache and rate limiting", zap.Error(err))
		} else {
			defer rdb.Close()
			listing = cache.NewListing(rdb, cache.DefaultTTL)
			if cfg.RateLimitPerMinute > 0 {
				limiter = cache.NewLimiter(rdb, cfg.RateLimitPerMinute)
			}
		}
	}

	// Price update fan-out: WebSocket clients always, Kafka when configured
	hub := events.NewHub(cfg.CORSAllowOrigin)
	defer hub.Close()
	publishers := events.Multi{hub}
	if cfg.KafkaBrokers != "" {
		kp, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Warn("kafka unavailable, price updates will not be published", zap.Error(err))
		} else {
			defer kp.Close()
			publishers = append(publishers, kp)
		}
	}

	// Price feed
	shape, err := external.ParseShape(cfg.FeedShape)
	if err != nil {
		log.Fatal("invalid feed shape", zap.Error(err))
	}
	feed, err := external.NewFeedClient(external.FeedOptions{
		URL:         cfg.FeedURL,
		Shape:       shape,
		Timeout:     cfg.FeedTimeout,
		MaxAttempts: cfg.FeedMaxAttempts,
	})
	if err != nil {
		log.Fatal("invalid feed configuration", zap.Error(err))
	}
	log.Info("price feed ready", zap.String("shape", string(feed.Shape())))

	// Notifications
	notify := notifications.NewSender(notifications.Options{
		TelegramToken:  cfg.TelegramToken,
		TelegramChatID: cfg.TelegramChatID,
		WebhookURL:     cfg.WebhookURL,
		BotName:        cfg.BotName,
	})

	// Scanner
	scanCfg := scheduler.ScannerConfig{
		Interval:     cfg.ScanInterval,
		InitialDelay: cfg.ScanInitialDelay,
		CycleTimeout: cfg.ScanTimeout,
		Publisher:    publishers,
	}
	if listing != nil {
		scanCfg.Cache = listing
	}
	scanner := scheduler.NewScanner(items, feed, notify, scanCfg)

	// API server
	apiOpts := api.Options{
		Port:       cfg.Port,
		APIKey:     cfg.APIKey,
		CORSOrigin: cfg.CORSAllowOrigin,
		SMAWindow:  cfg.SMAWindow,
		Store:      items,
		Scanner:    scanner,
		Ping: func(ctx context.Context) error {
			_, err := db.Ping(ctx, pool)
			return err
		},
		Live:           hub,
		TrustedProxies: cfg.ProxyPrefixes(),
	}
	if listing != nil {
		apiOpts.Cache = listing
	}
	if limiter != nil {
		apiOpts.Limiter = limiter
	}
	srv := api.NewServer(apiOpts)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("API server error", zap.Error(err))
		}
	}()

	scanner.Start()

	log.Info("all services started")

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("API shutdown error", zap.Error(err))
	}

	// Stop blocks until the in-flight cycle and alert deliveries return, so
	// the deferred pool, Kafka and hub closes run after the scanner is done.
	scanner.Stop()
	log.Info("shutdown complete")
}

func logSummary(log *zap.Logger, summary map[string]string) {
	keys := make([]string, 0, len(summary))
	for k := range summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.String(k, summary[k]))
	}
	log.Info("configuration loaded", fields...)
}
