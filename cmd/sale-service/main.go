package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/storefront-sales/internal/config"
	"github.com/dmehra2102/storefront-sales/internal/sale/application"
	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
	salehttp "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/http"
	salekafka "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/kafka"
	"github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/payment"
	salepg "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/postgres"
	"github.com/dmehra2102/storefront-sales/pkg/idempotency"
	"github.com/dmehra2102/storefront-sales/pkg/logging"
	"github.com/dmehra2102/storefront-sales/pkg/metrics"
	"github.com/dmehra2102/storefront-sales/pkg/outbox"
	"github.com/dmehra2102/storefront-sales/pkg/shutdown"
	"github.com/dmehra2102/storefront-sales/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("sale-service", logging.ParseLevel(cfg.LogLevel))
	if err == nil {
		err = errors.Join(cfg.RequireSecrets(), cfg.RequirePaymentProvider())
	}
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	tp, err := tracing.Init(ctx, "sale-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres Setup
	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := salepg.Migrate(ctx, pool); err != nil {
			log.Error("migration failed", "err", err)
			os.Exit(1)
		}
	}

	// Redis dedup cache is optional; Postgres alone keeps webhooks idempotent.
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

	// Kafka producer
	writer := salekafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	tx := salepg.NewTransactor(log, pool)
	relay := outbox.NewRelay(log, salepg.NewOutboxStore(log, pool),
		outbox.NewDispatcher(log, writer, cfg.SaleEventsTopic),
		"sale-service-"+uuid.NewString(),
		outbox.WithResultHook(metrics.ObserveOutbox),
	)

	var (
		payments application.PaymentCollaborator
		mock     *payment.MockProvider
	)
	if cfg.PaymentMock {
		log.Warn("PAYMENT_MOCK enabled, /dev/pay settles sessions without a provider; never run this in production")
		mock = payment.NewMockProvider(cfg.PublicBaseURL, 30*time.Minute)
		payments = mock
	} else {
		payments = payment.NewClient(log, cfg.PaymentProviderURL, cfg.PaymentAPIKey, cfg.PaymentTimeout)
	}

	checkout := application.NewCheckout(log, tx, payments, application.SystemClock, application.CheckoutConfig{
		ReservationTTL: cfg.ReservationTTL,
		Currency:       cfg.Currency,
	})
	processor := application.NewWebhookProcessor(log, tx, cache, application.SystemClock)
	handler := salehttp.NewHandler(log, checkout, processor,
		salehttp.NewAuthenticator(cfg.JWTSecret),
		salehttp.NewSignatureVerifier(cfg.WebhookSecret, cfg.WebhookTolerance),
	)

	// HTTP server
	r := chi.NewRouter()
	if mock != nil {
		r.Post("/dev/pay/{sessionID}", mockPayment(log, mock, processor))
	}
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTPAddr)
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
		log.Error("sale-service stopped with error", "err", err)
	}
	log.Info("sale-service shutdown complete")
}

// mockPayment settles a mock session the way the provider's webhook would.
func mockPayment(log *slog.Logger, mock *payment.MockProvider, processor *application.WebhookProcessor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventType := domain.EventPaymentCompleted
		if r.URL.Query().Get("outcome") == "expired" {
			eventType = domain.EventPaymentExpired
		}
		ev, err := mock.Event(chi.URLParam(r, "sessionID"), eventType)
		if err != nil {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		outcome, err := processor.Handle(r.Context(), ev)
		if err != nil {
			log.Error("mock payment failed", "session_id", ev.SessionID, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"outcome":"` + string(outcome) + `"}`))
	}
}
