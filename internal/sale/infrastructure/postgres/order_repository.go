package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

const orderColumns = `id, listing_id, seller_id, buyer_id, amount_cents, currency, status, payment_session_id, failure_reason, created_at, updated_at`

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Insert(ctx context.Context, o domain.Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, o.ID, o.ListingID, o.SellerID, o.BuyerID, o.AmountCents, o.Currency, string(o.Status),
		o.PaymentSessionID, o.FailureReason, o.CreatedAt, o.UpdatedAt)
	return err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return domain.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (r *OrderRepository) Transition(ctx context.Context, id string, from, to domain.OrderStatus, reason *string, now time.Time) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status=$3, failure_reason=COALESCE($4, failure_reason), updated_at=$5
		WHERE id=$1 AND status=$2
	`, id, string(from), string(to), reason, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *OrderRepository) AttachSession(ctx context.Context, id, sessionID string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE orders SET payment_session_id=$2, updated_at=now()
		WHERE id=$1 AND payment_session_id IS NULL
	`, id, sessionID)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	err := row.Scan(&o.ID, &o.ListingID, &o.SellerID, &o.BuyerID, &o.AmountCents, &o.Currency, &status,
		&o.PaymentSessionID, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	return o, nil
}
