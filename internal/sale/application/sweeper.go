package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

type SweepResult struct {
	OrdersFailed        int
	ReservationsCleared int64
}

// Sweeper tidies up after abandoned checkouts. Reservations already expire
// lazily on the next TryReserve, so it only makes state observable; it never
// touches PAID orders or SOLD listings.
type Sweeper struct {
	log          *slog.Logger
	tx           Transactor
	clock        Clock
	abandonAfter time.Duration
	batchSize    int
}

func NewSweeper(log *slog.Logger, tx Transactor, clock Clock, abandonAfter time.Duration, batchSize int) *Sweeper {
	return &Sweeper{log: log, tx: tx, clock: clock, abandonAfter: abandonAfter, batchSize: batchSize}
}

// Run sweeps every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration, onResult func(SweepResult)) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	sw.log.Info("reservation sweeper started", "interval", interval, "abandon_after", sw.abandonAfter)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			res, err := sw.Sweep(ctx)
			if err != nil {
				sw.log.Error("sweep failed", "err", err)
				continue
			}
			if onResult != nil {
				onResult(res)
			}
		}
	}
}

func (sw *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := sw.clock()

	stale, err := sw.tx.Stores().Orders.ListPendingBefore(ctx, now.Add(-sw.abandonAfter), sw.batchSize)
	if err != nil {
		return res, err
	}

	for _, candidate := range stale {
		failed, err := sw.failIfAbandoned(ctx, candidate.ID, now)
		if err != nil {
			sw.log.Error("sweep order failed", "order_id", candidate.ID, "err", err)
			continue
		}
		if failed {
			res.OrdersFailed++
		}
	}

	cleared, err := sw.tx.Stores().Listings.ClearLapsed(ctx, now)
	if err != nil {
		return res, err
	}
	res.ReservationsCleared = cleared

	if res.OrdersFailed > 0 || cleared > 0 {
		sw.log.Info("sweep finished", "orders_failed", res.OrdersFailed, "reservations_cleared", cleared)
	}
	return res, nil
}

func (sw *Sweeper) failIfAbandoned(ctx context.Context, orderID string, now time.Time) (bool, error) {
	var failed bool
	err := sw.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		failed = false

		order, err := s.Orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPending {
			return nil
		}

		listing, err := s.Listings.GetForUpdate(ctx, order.ListingID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err == nil && holdsReservation(listing, order, now) {
			return nil
		}

		if _, _, err := NewLedger(s.Orders, sw.clock, uuid.NewString).MarkFailed(ctx, order.ID, domain.FailureAbandoned); err != nil {
			return err
		}
		failed = true
		return appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventOrderFailed, domain.OrderFailedEvent{
			OrderID: order.ID, ListingID: order.ListingID, Reason: domain.FailureAbandoned,
		})
	})
	return failed, err
}

// holdsReservation reports whether the order's checkout still owns an active hold.
func holdsReservation(l domain.Listing, o domain.Order, now time.Time) bool {
	if l.Status != domain.ListingAvailable || !l.ReservedFor(o.BuyerID, now) {
		return false
	}
	if o.PaymentSessionID == nil || l.ReservedSessionID == nil {
		return true
	}
	return *o.PaymentSessionID == *l.ReservedSessionID
}
