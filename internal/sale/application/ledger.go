package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

type Ledger struct {
	orders OrderStore
	clock  Clock
	newID  func() string
}

func NewLedger(orders OrderStore, clock Clock, newID func() string) *Ledger {
	return &Ledger{orders: orders, clock: clock, newID: newID}
}

func (l *Ledger) CreatePending(ctx context.Context, listingID, sellerID, buyerID string, amount int64, currency string) (domain.Order, error) {
	o, err := domain.NewPendingOrder(l.newID(), listingID, sellerID, buyerID, amount, currency, l.clock())
	if err != nil {
		return domain.Order{}, err
	}
	if err := l.orders.Insert(ctx, o); err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}
	return o, nil
}

// MarkPaid is idempotent: a PAID order is returned unchanged with changed=false.
// A FAILED order cannot be paid and yields ErrIntegrity.
func (l *Ledger) MarkPaid(ctx context.Context, orderID string) (domain.Order, bool, error) {
	return l.transition(ctx, orderID, domain.OrderPaid, nil)
}

// MarkFailed closes a PENDING order. Failing a FAILED order is a no-op and
// failing a PAID one is an integrity violation.
func (l *Ledger) MarkFailed(ctx context.Context, orderID, reason string) (domain.Order, bool, error) {
	return l.transition(ctx, orderID, domain.OrderFailed, &reason)
}

func (l *Ledger) AttachSession(ctx context.Context, orderID, sessionID string) (bool, error) {
	ok, err := l.orders.AttachSession(ctx, orderID, sessionID)
	if err != nil {
		return false, fmt.Errorf("attach session to order %s: %w", orderID, err)
	}
	return ok, nil
}

func (l *Ledger) transition(ctx context.Context, orderID string, to domain.OrderStatus, reason *string) (domain.Order, bool, error) {
	now := l.clock()
	ok, err := l.orders.Transition(ctx, orderID, domain.OrderPending, to, reason, now)
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("transition order %s to %s: %w", orderID, to, err)
	}

	o, err := l.orders.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Order{}, false, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.Order{}, false, err
	}
	if ok {
		return o, true, nil
	}

	if o.Status == to {
		return o, false, nil
	}
	return o, false, fmt.Errorf("%w: order %s is %s, cannot become %s", domain.ErrIntegrity, orderID, o.Status, to)
}
