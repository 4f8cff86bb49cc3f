// Command ingestd runs the catalog ingestion daemon: browser pool, job
// workers, scheduled discovery and the read-only catalog API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/Santt-m/new-caminando-sub003/internal/api"
	"github.com/Santt-m/new-caminando-sub003/internal/browser"
	"github.com/Santt-m/new-caminando-sub003/internal/catalog"
	"github.com/Santt-m/new-caminando-sub003/internal/config"
	"github.com/Santt-m/new-caminando-sub003/internal/logger"
	"github.com/Santt-m/new-caminando-sub003/internal/product"
	"github.com/Santt-m/new-caminando-sub003/internal/queue"
	"github.com/Santt-m/new-caminando-sub003/internal/resolver"
	"github.com/Santt-m/new-caminando-sub003/internal/scrapers"
	"github.com/Santt-m/new-caminando-sub003/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(true)
		bootLog.Fatal().Err(err).Msg("configuration invalid")
	}

	log := logger.New(cfg.Debug)

	cat, err := catalog.NewPostgres(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer cat.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}

	q := queue.New(rdb, cfg.QueuePrefix, cfg.MaxAttempts, log)

	browsers := browser.NewPool(browser.Config{
		Min:            cfg.BrowserMin,
		Max:            cfg.BrowserMax,
		AcquireTimeout: cfg.BrowserAcquireTimeout,
		IdleTimeout:    cfg.BrowserIdleTimeout,
		SweepInterval:  cfg.BrowserSweepInterval,
		Headless:       cfg.BrowserHeadless,
	}, log)
	defer browsers.Close()

	registry := scrapers.DefaultRegistry(cat, cfg.PageTimeout, log)
	res := resolver.New(cat, log)
	workers := worker.New(q, browsers, registry, res, cfg.Workers, log)

	// Feed the queue on start and on schedule.
	if err := worker.EnqueueDiscovery(ctx, q, product.AllStores()); err != nil {
		log.Error().Err(err).Msg("initial discovery enqueue failed")
	}
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.DiscoverSpec, func() {
		if err := worker.EnqueueDiscovery(ctx, q, product.AllStores()); err != nil {
			log.Error().Err(err).Msg("scheduled discovery enqueue failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Str("spec", cfg.DiscoverSpec).Msg("invalid discovery schedule")
	}
	sched.Start()
	defer sched.Stop()

	go q.RunRetryMover(ctx)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.New(cat, q, log).Router(cfg.Debug),
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server failed")
		}
	}()

	log.Info().
		Int("workers", cfg.Workers).
		Int("browser_max", cfg.BrowserMax).
		Msg("ingest daemon started")

	workers.Run(ctx)

	// ctx canceled: workers drained, shut the rest down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}
	log.Info().Msg("ingest daemon stopped")
}
