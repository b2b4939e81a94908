package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/storefront-sales/internal/config"
	"github.com/dmehra2102/storefront-sales/internal/sale/application"
	salekafka "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/kafka"
	salepg "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/postgres"
	"github.com/dmehra2102/storefront-sales/pkg/idempotency"
	"github.com/dmehra2102/storefront-sales/pkg/logging"
	"github.com/dmehra2102/storefront-sales/pkg/shutdown"
	"github.com/dmehra2102/storefront-sales/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("payment-event-consumer", logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "payment-event-consumer", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	var cache application.DedupCache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		cache = idempotency.NewStore(rdb, cfg.DedupTTL)
	}

	processor := application.NewWebhookProcessor(log, salepg.NewTransactor(log, pool), cache, application.SystemClock)
	reader := salekafka.NewReader(cfg.KafkaBrokers, cfg.PaymentEventsTopic, cfg.ConsumerGroup)
	consumer := salekafka.NewConsumer(log, reader, processor)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddrOr(":9091"), Handler: mux, ReadTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("consuming payment events", "topic", cfg.PaymentEventsTopic, "group", cfg.ConsumerGroup)
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("consumer stopped with error", "err", err)
	}
	log.Info("payment-event-consumer shutdown complete")
}
