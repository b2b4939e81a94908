package postgres

import (
	"context"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

type ProcessedEventRepository struct {
	db DBTX
}

func NewProcessedEventRepository(db DBTX) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

func (r *ProcessedEventRepository) Get(ctx context.Context, eventID string) (domain.ProcessedEvent, error) {
	var (
		ev      domain.ProcessedEvent
		outcome string
	)
	err := r.db.QueryRow(ctx, `SELECT event_id, order_id, outcome, processed_at FROM processed_events WHERE event_id=$1`, eventID).
		Scan(&ev.EventID, &ev.OrderID, &outcome, &ev.ProcessedAt)
	if err != nil {
		return domain.ProcessedEvent{}, notFound(err, "event", eventID)
	}
	ev.Outcome = domain.EventOutcome(outcome)
	return ev, nil
}

// Insert relies on the primary key: a concurrent delivery of the same event
// blocks on the uncommitted row and then inserts nothing.
func (r *ProcessedEventRepository) Insert(ctx context.Context, ev domain.ProcessedEvent) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		INSERT INTO processed_events (event_id, order_id, outcome, processed_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.OrderID, string(ev.Outcome), ev.ProcessedAt)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
