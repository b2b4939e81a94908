package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/storefront-sales/internal/sale/application"
	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

//go:embed schema.sql
var schema string

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type Transactor struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewTransactor(log *slog.Logger, pool *pgxpool.Pool) *Transactor {
	return &Transactor{log: log, pool: pool}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, s application.Stores) error) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, storesFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		t.log.Warn("commit failed", "err", err)
		return err
	}
	return nil
}

// Stores returns stores that run each statement in its own implicit transaction.
func (t *Transactor) Stores() application.Stores {
	return storesFor(t.pool)
}

func storesFor(db DBTX) application.Stores {
	return application.Stores{
		Listings: NewListingRepository(db),
		Orders:   NewOrderRepository(db),
		Events:   NewProcessedEventRepository(db),
		Outbox:   NewOutboxWriter(db),
	}
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, domain.ErrNotFound)
	}
	return err
}
