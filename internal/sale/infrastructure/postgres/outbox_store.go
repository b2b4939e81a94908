package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/storefront-sales/pkg/outbox"
)

// OutboxWriter appends events inside the caller's transaction.
type OutboxWriter struct {
	db DBTX
}

func NewOutboxWriter(db DBTX) *OutboxWriter {
	return &OutboxWriter{db: db}
}

func (w *OutboxWriter) Append(ctx context.Context, e outbox.Event) error {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := w.db.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')
	`, e.AggregateType, e.AggregateID, e.Type, e.Payload, headers, e.Traceparent)
	return err
}

// OutboxStore is the relay side of the outbox table.
type OutboxStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewOutboxStore(log *slog.Logger, pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{log: log, pool: pool}
}

func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize, maxRetries int, lease time.Duration) ([]outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimable AS (
			SELECT id FROM outbox
			WHERE status = 'pending'
			   OR (status = 'failed' AND retry_count < $3)
			   OR (status = 'in_progress' AND lease_until < now())
			ORDER BY id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox o
		SET status = 'in_progress', relay_id = $1, lease_until = now() + $4 * interval '1 millisecond'
		FROM claimable c
		WHERE o.id = c.id
		RETURNING o.id, o.aggregate_type, o.aggregate_id, o.type, o.payload, o.headers, o.traceparent,
		          o.created_at, o.retry_count, o.last_error
	`, relayID, batchSize, maxRetries, lease.Milliseconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var event outbox.Event
		var headers map[string]string
		if err := rows.Scan(&event.ID, &event.AggregateType, &event.AggregateID, &event.Type, &event.Payload,
			&headers, &event.Traceparent, &event.CreatedAt, &event.RetryCount, &event.LastError); err != nil {
			return nil, err
		}
		event.Headers = headers
		event.Status = outbox.StatusInProgress
		event.RelayID = relayID
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING does not preserve the claim order.
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, relayID string, ids []int64) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='sent', lease_until=NULL
		WHERE id = ANY($2) AND relay_id=$1 AND status='in_progress'
	`, relayID, ids)
	if err != nil {
		return err
	}
	if n := ct.RowsAffected(); n != int64(len(ids)) {
		return fmt.Errorf("relay %s marked %d of %d events sent, lease lost on the rest", relayID, n, len(ids))
	}
	return nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, relayID string, id int64, errMsg string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox SET status='failed', last_error=$3, retry_count=retry_count+1, lease_until=NULL
		WHERE id=$2 AND relay_id=$1 AND status='in_progress'
	`, relayID, id, errMsg)
	if err != nil {
		s.log.Error("mark outbox event failed", "id", id, "err", err)
		return err
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %d is no longer leased by relay %s", id, relayID)
	}
	return nil
}
