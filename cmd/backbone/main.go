package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/guildforge/backbone/internal/adminapi"
	"github.com/guildforge/backbone/internal/cache"
	"github.com/guildforge/backbone/internal/cacheloader"
	"github.com/guildforge/backbone/internal/config"
	"github.com/guildforge/backbone/internal/dbstore"
	"github.com/guildforge/backbone/internal/metrics"
	"github.com/guildforge/backbone/internal/ratelimit"
	"github.com/guildforge/backbone/internal/scheduler"
	"github.com/guildforge/backbone/internal/translations"
	"github.com/guildforge/backbone/pkg/messaging"
	"github.com/guildforge/backbone/pkg/resilience"
	"github.com/guildforge/backbone/shared/events"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}

	catalog, err := translations.Load(cfg.TranslationPath, cfg.TranslationMaxBytes)
	if err != nil {
		logger.Fatal("translation catalog load failed", zap.Error(err))
	}

	msgClient, err := messaging.NewClient(messaging.Config{
		URL:            cfg.NATSURL,
		Name:           "backbone",
		ReconnectWait:  time.Second,
		MaxReconnects:  60,
		ConnectTimeout: 10 * time.Second,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("nats connect failed", zap.Error(err))
	}
	defer msgClient.Close()

	breakers := resilience.NewBreakerGroup(resilience.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		HalfOpenMax: 1,
		OnStateChange: func(from, to resilience.State) {
			ctx := context.Background()
			if err := msgClient.PublishBreakerStateChange(ctx, events.BreakerStateChangeEvent{
				Service: "outbound_api",
				From:    from.String(),
				To:      to.String(),
			}); err != nil {
				logger.Warn("publish breaker state change failed", zap.Error(err))
			}
		},
	})

	db, err := dbstore.Open(dbstore.Config{
		DSN:              dbstore.DSN(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName),
		PoolSize:         cfg.DBPoolSize,
		QueryTimeout:     cfg.DBQueryTimeout,
		BreakerThreshold: cfg.DBBreakerThreshold,
		BreakerTimeout:   cfg.DBBreakerTimeout,
		Logger:           logger,
		OnStateChange: func(from, to resilience.State) {
			if err := msgClient.PublishBreakerStateChange(context.Background(), events.BreakerStateChangeEvent{
				Service: "dbstore",
				From:    from.String(),
				To:      to.String(),
			}); err != nil {
				logger.Warn("publish breaker state change failed", zap.Error(err))
			}
		},
	})
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close()

	store := cache.New(
		cache.WithLogger(logger),
		cache.WithPublisher(msgClient),
	)

	loader := cacheloader.New(db, store,
		cacheloader.WithLogger(logger),
		cacheloader.WithPublisher(msgClient),
	)

	limiter := ratelimit.New(ratelimit.WithLogger(logger))

	sched, err := scheduler.New(cfg.Timezone,
		scheduler.WithLogger(logger),
		scheduler.WithPublisher(msgClient),
	)
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	scheduler.RegisterCoreJobs(sched, map[string]scheduler.JobRunner{})

	exporter := metrics.New(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket,
		metrics.Sources{
			Cache:     store,
			DB:        db,
			Breakers:  breakers,
			Scheduler: sched,
		},
		metrics.WithLogger(logger),
	)
	defer exporter.Close()

	admin := adminapi.New(adminapi.Deps{
		Cache:     store,
		DB:        db,
		Breakers:  breakers,
		Scheduler: sched,
		Loader:    loader,
		Limiter:   limiter,
	}, cfg.AdminBearerToken, adminapi.WithLogger(logger))

	// catalog is validated at load time; external feature modules consume
	// it via their own wiring, not this process.
	_ = catalog

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := loader.LoadAllSharedData(startupCtx); err != nil {
		logger.Warn("initial cache load reported an error", zap.Error(err))
	}
	startupCancel()

	go runMaintenanceLoop(ctx, store)
	go limiter.StartCleanup(ctx)
	go sched.Run(ctx)
	go exporter.Run(ctx)

	go func() {
		if err := admin.Run(ctx, cfg.AdminBindAddr); err != nil {
			logger.Error("admin server stopped with error", zap.Error(err))
		}
	}()

	logger.Info("guild coordination backbone started", zap.String("admin_addr", cfg.AdminBindAddr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	time.Sleep(500 * time.Millisecond)
	logger.Info("stopped")
}

// runMaintenanceLoop sweeps expired entries and runs smart maintenance
// once a minute.
func runMaintenanceLoop(ctx context.Context, c *cache.Cache) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CleanupExpired()
			c.SmartMaintenance(ctx)
		}
	}
}
