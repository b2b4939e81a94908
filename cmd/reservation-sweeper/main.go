package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/storefront-sales/internal/config"
	"github.com/dmehra2102/storefront-sales/internal/sale/application"
	salepg "github.com/dmehra2102/storefront-sales/internal/sale/infrastructure/postgres"
	"github.com/dmehra2102/storefront-sales/pkg/logging"
	"github.com/dmehra2102/storefront-sales/pkg/metrics"
	"github.com/dmehra2102/storefront-sales/pkg/shutdown"
)

func main() {
	cfg, err := config.Load()
	log := logging.New("reservation-sweeper", logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, cancel := shutdown.WithSignals(context.Background(), log)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	sweeper := application.NewSweeper(log, salepg.NewTransactor(log, pool), application.SystemClock, cfg.AbandonAfter, cfg.SweepBatchSize)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddrOr(":9092"), Handler: mux, ReadTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepInterval, func(res application.SweepResult) {
			metrics.SweptOrdersTotal.Add(float64(res.OrdersFailed))
			metrics.ClearedReservationsTotal.Add(float64(res.ReservationsCleared))
		})
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
		log.Error("sweeper stopped with error", "err", err)
	}
	log.Info("reservation-sweeper shutdown complete")
}
