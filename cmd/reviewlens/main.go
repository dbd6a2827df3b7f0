// Package main wires together the review scraping service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reviewlens/reviewlens/internal/api"
	"github.com/reviewlens/reviewlens/internal/cache"
	"github.com/reviewlens/reviewlens/internal/clock/system"
	"github.com/reviewlens/reviewlens/internal/config"
	"github.com/reviewlens/reviewlens/internal/extract"
	staticfetcher "github.com/reviewlens/reviewlens/internal/fetcher/static"
	"github.com/reviewlens/reviewlens/internal/id/uuid"
	"github.com/reviewlens/reviewlens/internal/logging"
	"github.com/reviewlens/reviewlens/internal/metrics"
	"github.com/reviewlens/reviewlens/internal/orchestrator"
	memoryPublisher "github.com/reviewlens/reviewlens/internal/publish/memory"
	pubsubPublisher "github.com/reviewlens/reviewlens/internal/publish/pubsub"
	queueMemory "github.com/reviewlens/reviewlens/internal/queue/memory"
	"github.com/reviewlens/reviewlens/internal/ratelimit"
	chromedpRenderer "github.com/reviewlens/reviewlens/internal/renderer/chromedp"
	noopRenderer "github.com/reviewlens/reviewlens/internal/renderer/noop"
	"github.com/reviewlens/reviewlens/internal/renderpool"
	"github.com/reviewlens/reviewlens/internal/scraper"
	memoryStore "github.com/reviewlens/reviewlens/internal/store/memory"
	postgresStore "github.com/reviewlens/reviewlens/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.New()
	m := metrics.New()

	userAgent := cfg.Scraper.UserAgent
	if userAgent == "" {
		userAgent = scraper.UserAgent
	}

	var cacheStore cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		store := cache.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr}))
		if err := store.Ping(ctx); err != nil {
			logger.Fatal("redis unreachable", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		}
		cacheStore = store
	default:
		cacheStore = cache.NewMemoryStore()
	}
	resultCache := cache.New(cacheStore, cfg.CacheTTL(), logger.Named("cache"))

	var jobStore scraper.JobStore
	switch cfg.Store.Backend {
	case "postgres":
		pg, err := postgresStore.New(ctx, cfg.Store.DSN, clk)
		if err != nil {
			logger.Fatal("postgres unreachable", zap.Error(err))
		}
		defer pg.Close()
		jobStore = pg
	default:
		jobStore = memoryStore.New(clk)
	}

	var publisher scraper.Publisher
	switch cfg.Publish.Backend {
	case "pubsub":
		pub, err := pubsubPublisher.New(ctx, cfg.Publish.ProjectID, cfg.Publish.Topic)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		publisher = pub
	default:
		publisher = memoryPublisher.New()
	}
	defer func() {
		_ = publisher.Close()
	}()

	var factory scraper.RendererFactory
	switch cfg.Scraper.Renderer {
	case "noop":
		factory = noopRenderer.NewFactory()
	default:
		chromeFactory := chromedpRenderer.NewFactory(chromedpRenderer.Config{
			Headless:    cfg.Scraper.Headless,
			UserAgent:   userAgent,
			PageTimeout: cfg.PageTimeout(),
		})
		defer chromeFactory.Close()
		factory = chromeFactory
	}

	pool := renderpool.New(
		factory,
		cfg.Scraper.MaxConcurrentBrowsers,
		cfg.Scraper.RecycleAfterPages,
		cfg.AcquireTimeout(),
		logger.Named("renderpool"),
		m,
	)
	defer pool.Close()

	static := staticfetcher.New(staticfetcher.Config{
		UserAgent: userAgent,
		Timeout:   cfg.PageTimeout(),
	})
	robots := staticfetcher.NewRobotsPolicy(cfg.Scraper.RespectRobots, static, userAgent, logger.Named("robots"))

	limiter := ratelimit.New(ratelimit.Limits{
		PerMinute: cfg.RateLimit.RequestsPerMinute,
		PerHour:   cfg.RateLimit.RequestsPerHour,
		Burst:     cfg.RateLimit.Burst,
	})
	queue := queueMemory.New(cfg.Scraper.QueueDepth)

	orch := orchestrator.New(
		orchestrator.Config{
			Workers:     cfg.Scraper.Workers,
			MaxRequeues: cfg.Scraper.MaxRequeues,
			PageTimeout: cfg.PageTimeout(),
		},
		orchestrator.Deps{
			Store:      jobStore,
			Queue:      queue,
			Limiter:    limiter,
			Cache:      resultCache,
			Pool:       pool,
			Static:     static,
			Robots:     robots,
			Normalizer: extract.New(logger.Named("extract")),
			Retry:      scraper.NewExponentialRetryPolicy(),
			Publisher:  publisher,
			IDs:        idGen,
			Clock:      clk,
			Metrics:    m,
			Logger:     logger.Named("orchestrator"),
		},
	)
	orch.Start(ctx)

	apiServer := api.NewServer(orch, m, logger.Named("api"), cfg.Server)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	orch.Wait()
	logger.Info("shutdown complete")
}
