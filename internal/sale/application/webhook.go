package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

const dedupNamespace = "payment-event"

var (
	errDuplicateEvent = errors.New("event already recorded")
	errRejectEvent    = errors.New("event rejected")
)

// rejection describes a permanent problem with a payment event. The event is
// acknowledged so the provider stops redelivering it, and operators get a
// RefundRequired event when money may have been taken.
type rejection struct {
	reason string
	order  *domain.Order
	refund bool
}

type WebhookProcessor struct {
	log   *slog.Logger
	tx    Transactor
	cache DedupCache
	clock Clock
}

// NewWebhookProcessor builds the processor; cache may be nil.
func NewWebhookProcessor(log *slog.Logger, tx Transactor, cache DedupCache, clock Clock) *WebhookProcessor {
	return &WebhookProcessor{log: log, tx: tx, cache: cache, clock: clock}
}

// Handle routes an event by type. Unknown types are acknowledged and ignored.
func (p *WebhookProcessor) Handle(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error) {
	switch ev.Type {
	case domain.EventPaymentCompleted:
		return p.HandlePaymentCompleted(ctx, ev)
	case domain.EventPaymentExpired:
		return p.HandlePaymentExpired(ctx, ev)
	default:
		p.log.Info("ignoring payment event", "event_id", ev.EventID, "type", ev.Type)
		return domain.OutcomeIgnored, nil
	}
}

// HandlePaymentCompleted finalizes the order and transfers the listing exactly
// once per event id. Only infrastructure failures are returned as errors; every
// other path yields an outcome the provider should treat as delivered.
func (p *WebhookProcessor) HandlePaymentCompleted(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error) {
	if err := ev.Validate(); err != nil {
		p.log.Error("malformed payment event", "event_id", ev.EventID, "err", err)
		return domain.OutcomeRejected, nil
	}
	if done, err := p.alreadyHandled(ctx, ev.EventID); err != nil {
		return "", err
	} else if done {
		return domain.OutcomeAlreadyProcessed, nil
	}

	var (
		outcome domain.EventOutcome
		reject  *rejection
	)
	err := p.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		outcome, reject = "", nil

		order, err := s.Orders.GetForUpdate(ctx, ev.Metadata.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			reject = &rejection{reason: "unknown order", refund: true}
			return errRejectEvent
		}
		if err != nil {
			return err
		}
		if r := matchEvent(order, ev); r != nil {
			reject = r
			return errRejectEvent
		}

		listing, err := s.Listings.GetForUpdate(ctx, order.ListingID)
		if errors.Is(err, domain.ErrNotFound) {
			reject = &rejection{reason: "listing missing for order", order: &order, refund: true}
			return errRejectEvent
		}
		if err != nil {
			return err
		}

		ledger := NewLedger(s.Orders, p.clock, uuid.NewString)

		if listing.Status == domain.ListingSold {
			if order.Status == domain.OrderPaid && listing.OwnerID == order.BuyerID {
				outcome = domain.OutcomeAlreadyProcessed
				_, err := s.Events.Insert(ctx, p.record(ev, outcome))
				return err
			}
			// First completed payment wins; this buyer paid for an item that is gone.
			_, changed, err := ledger.MarkFailed(ctx, order.ID, domain.FailureSoldElsewhere)
			if err != nil {
				if errors.Is(err, domain.ErrIntegrity) {
					reject = &rejection{reason: err.Error(), order: &order, refund: true}
					return errRejectEvent
				}
				return err
			}
			if changed {
				if err := appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventOrderFailed, domain.OrderFailedEvent{
					OrderID: order.ID, ListingID: order.ListingID, Reason: domain.FailureSoldElsewhere,
				}); err != nil {
					return err
				}
			}
			if err := appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventRefundRequired,
				refundFor(ev, order, domain.FailureSoldElsewhere)); err != nil {
				return err
			}
			outcome = domain.OutcomeRejected
			return p.insertRecord(ctx, s, ev, outcome)
		}

		paid, changed, err := ledger.MarkPaid(ctx, order.ID)
		if err != nil {
			if errors.Is(err, domain.ErrIntegrity) {
				reject = &rejection{reason: err.Error(), order: &order, refund: true}
				return errRejectEvent
			}
			return err
		}
		if !changed {
			// Already paid under another event id; the listing may have moved on since.
			outcome = domain.OutcomeAlreadyProcessed
			return p.insertRecord(ctx, s, ev, outcome)
		}

		sold, err := s.Listings.MarkSold(ctx, listing.ID, paid.BuyerID)
		if err != nil {
			return err
		}
		if !sold {
			return fmt.Errorf("%w: listing %s changed while locked", domain.ErrIntegrity, listing.ID)
		}

		if err := appendEvent(ctx, s.Outbox, domain.AggregateOrder, paid.ID, domain.EventOrderPaid, domain.OrderPaidEvent{
			OrderID: paid.ID, ListingID: paid.ListingID, BuyerID: paid.BuyerID, EventID: ev.EventID,
		}); err != nil {
			return err
		}
		if err := appendEvent(ctx, s.Outbox, domain.AggregateListing, listing.ID, domain.EventListingSold, domain.ListingSoldEvent{
			ListingID: listing.ID, PreviousOwner: listing.OwnerID, NewOwner: paid.BuyerID, OrderID: paid.ID,
		}); err != nil {
			return err
		}

		outcome = domain.OutcomeProcessed
		return p.insertRecord(ctx, s, ev, outcome)
	})

	switch {
	case errors.Is(err, errDuplicateEvent):
		outcome = domain.OutcomeAlreadyProcessed
	case errors.Is(err, errRejectEvent):
		return p.reject(ctx, ev, reject)
	case err != nil:
		return "", err
	}

	p.remember(ctx, ev.EventID)
	p.log.Info("payment completed", "event_id", ev.EventID, "order_id", ev.Metadata.OrderID, "outcome", outcome)
	return outcome, nil
}

// HandlePaymentExpired fails the PENDING order and frees the listing if the
// expired session still owns the reservation.
func (p *WebhookProcessor) HandlePaymentExpired(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error) {
	if err := ev.Validate(); err != nil {
		p.log.Error("malformed payment event", "event_id", ev.EventID, "err", err)
		return domain.OutcomeRejected, nil
	}
	if done, err := p.alreadyHandled(ctx, ev.EventID); err != nil {
		return "", err
	} else if done {
		return domain.OutcomeAlreadyProcessed, nil
	}

	var outcome domain.EventOutcome
	err := p.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		outcome = domain.OutcomeIgnored

		order, err := s.Orders.GetForUpdate(ctx, ev.Metadata.OrderID)
		if errors.Is(err, domain.ErrNotFound) {
			return p.insertRecord(ctx, s, ev, outcome)
		}
		if err != nil {
			return err
		}
		if order.Status != domain.OrderPending || !order.SessionMatches(ev.SessionID) {
			return p.insertRecord(ctx, s, ev, outcome)
		}

		if _, _, err := NewLedger(s.Orders, p.clock, uuid.NewString).MarkFailed(ctx, order.ID, domain.FailureSessionExpired); err != nil {
			return err
		}
		sessionID := ev.SessionID
		if sessionID == "" && order.PaymentSessionID != nil {
			sessionID = *order.PaymentSessionID
		}
		released, err := NewReservationManager(s.Listings, p.clock).Release(ctx, order.ListingID, sessionID)
		if err != nil {
			return err
		}
		if err := appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventOrderFailed, domain.OrderFailedEvent{
			OrderID: order.ID, ListingID: order.ListingID, Reason: domain.FailureSessionExpired,
		}); err != nil {
			return err
		}
		p.log.Info("payment session expired", "order_id", order.ID, "listing_id", order.ListingID, "released", released)

		outcome = domain.OutcomeProcessed
		return p.insertRecord(ctx, s, ev, outcome)
	})
	if errors.Is(err, errDuplicateEvent) {
		outcome, err = domain.OutcomeAlreadyProcessed, nil
	}
	if err != nil {
		return "", err
	}
	p.remember(ctx, ev.EventID)
	return outcome, nil
}

// reject records a permanent failure in its own transaction so the event is
// acknowledged once and surfaced to operators.
func (p *WebhookProcessor) reject(ctx context.Context, ev domain.PaymentEvent, r *rejection) (domain.EventOutcome, error) {
	p.log.Error("payment event rejected",
		"event_id", ev.EventID,
		"order_id", ev.Metadata.OrderID,
		"listing_id", ev.Metadata.ListingID,
		"session_id", ev.SessionID,
		"reason", r.reason,
	)

	err := p.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		if err := p.insertRecord(ctx, s, ev, domain.OutcomeRejected); err != nil {
			return err
		}
		if !r.refund {
			return nil
		}
		order := domain.Order{ID: ev.Metadata.OrderID, ListingID: ev.Metadata.ListingID, BuyerID: ev.Metadata.BuyerID}
		if r.order != nil {
			order = *r.order
		}
		return appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventRefundRequired, refundFor(ev, order, r.reason))
	})
	if errors.Is(err, errDuplicateEvent) {
		return domain.OutcomeAlreadyProcessed, nil
	}
	if err != nil {
		return "", err
	}
	p.remember(ctx, ev.EventID)
	return domain.OutcomeRejected, nil
}

func (p *WebhookProcessor) alreadyHandled(ctx context.Context, eventID string) (bool, error) {
	if p.cache != nil {
		seen, err := p.cache.Seen(ctx, p.cache.Key(dedupNamespace, eventID))
		if err != nil {
			p.log.Warn("dedup cache lookup failed", "event_id", eventID, "err", err)
		} else if seen {
			return true, nil
		}
	}

	_, err := p.tx.Stores().Events.Get(ctx, eventID)
	switch {
	case err == nil:
		p.remember(ctx, eventID)
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (p *WebhookProcessor) remember(ctx context.Context, eventID string) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Remember(ctx, p.cache.Key(dedupNamespace, eventID)); err != nil {
		p.log.Warn("dedup cache write failed", "event_id", eventID, "err", err)
	}
}

func (p *WebhookProcessor) record(ev domain.PaymentEvent, outcome domain.EventOutcome) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		EventID:     ev.EventID,
		OrderID:     ev.Metadata.OrderID,
		Outcome:     outcome,
		ProcessedAt: p.clock(),
	}
}

func (p *WebhookProcessor) insertRecord(ctx context.Context, s Stores, ev domain.PaymentEvent, outcome domain.EventOutcome) error {
	inserted, err := s.Events.Insert(ctx, p.record(ev, outcome))
	if err != nil {
		return err
	}
	if !inserted {
		return errDuplicateEvent
	}
	return nil
}

func matchEvent(order domain.Order, ev domain.PaymentEvent) *rejection {
	switch {
	case ev.Metadata.ListingID != "" && ev.Metadata.ListingID != order.ListingID:
		return &rejection{reason: "listing does not match order", order: &order, refund: true}
	case ev.Metadata.BuyerID != "" && ev.Metadata.BuyerID != order.BuyerID:
		return &rejection{reason: "buyer does not match order", order: &order, refund: true}
	case !order.SessionMatches(ev.SessionID):
		return &rejection{reason: "session does not match order", order: &order, refund: true}
	}
	return nil
}

func refundFor(ev domain.PaymentEvent, order domain.Order, reason string) domain.RefundRequiredEvent {
	return domain.RefundRequiredEvent{
		OrderID:     order.ID,
		ListingID:   order.ListingID,
		BuyerID:     order.BuyerID,
		EventID:     ev.EventID,
		SessionID:   ev.SessionID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
		Reason:      reason,
	}
}
