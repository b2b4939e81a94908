package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

type CheckoutConfig struct {
	ReservationTTL time.Duration
	Currency       string
}

type Checkout struct {
	log      *slog.Logger
	tx       Transactor
	payments PaymentCollaborator
	clock    Clock
	newID    func() string
	cfg      CheckoutConfig
}

func NewCheckout(log *slog.Logger, tx Transactor, payments PaymentCollaborator, clock Clock, cfg CheckoutConfig) *Checkout {
	return &Checkout{
		log:      log,
		tx:       tx,
		payments: payments,
		clock:    clock,
		newID:    uuid.NewString,
		cfg:      cfg,
	}
}

// BeginCheckout reserves the listing and opens a PENDING order in one
// transaction, then asks the payment provider for a session outside of it.
// The provider call has unbounded latency and must never hold the transaction.
func (c *Checkout) BeginCheckout(ctx context.Context, listingID, buyerID string) (domain.CheckoutHandle, error) {
	if listingID == "" || buyerID == "" {
		return domain.CheckoutHandle{}, fmt.Errorf("%w: listing and buyer are required", domain.ErrValidation)
	}

	var order domain.Order
	err := c.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		listing, err := s.Listings.Get(ctx, listingID)
		if err != nil {
			return err
		}
		if err := listing.Purchasable(buyerID); err != nil {
			return err
		}

		_, ok, err := NewReservationManager(s.Listings, c.clock).TryReserve(ctx, listingID, buyerID, c.cfg.ReservationTTL)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConflict
		}

		order, err = NewLedger(s.Orders, c.clock, c.newID).
			CreatePending(ctx, listing.ID, listing.OwnerID, buyerID, *listing.Price, c.cfg.Currency)
		if err != nil {
			return err
		}
		return appendEvent(ctx, s.Outbox, domain.AggregateOrder, order.ID, domain.EventOrderCreated, domain.OrderCreatedEvent{
			OrderID:     order.ID,
			ListingID:   order.ListingID,
			BuyerID:     order.BuyerID,
			AmountCents: order.AmountCents,
			Currency:    order.Currency,
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			c.log.Info("checkout conflict", "listing_id", listingID, "buyer_id", buyerID)
		}
		return domain.CheckoutHandle{}, err
	}

	session, err := c.payments.CreateSession(ctx, domain.SessionRequest{
		OrderID:     order.ID,
		ListingID:   order.ListingID,
		BuyerID:     order.BuyerID,
		AmountCents: order.AmountCents,
		Currency:    order.Currency,
	})
	if err != nil {
		// The reservation and PENDING order stay behind and lapse with the TTL.
		c.log.Warn("payment session creation failed", "order_id", order.ID, "listing_id", listingID, "err", err)
		if errors.Is(err, domain.ErrUpstream) {
			return domain.CheckoutHandle{}, err
		}
		return domain.CheckoutHandle{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}

	err = c.tx.WithinTx(ctx, func(ctx context.Context, s Stores) error {
		if _, err := NewLedger(s.Orders, c.clock, c.newID).AttachSession(ctx, order.ID, session.ID); err != nil {
			return err
		}
		attached, err := NewReservationManager(s.Listings, c.clock).AttachSession(ctx, listingID, buyerID, session.ID)
		if err != nil {
			return err
		}
		if !attached {
			c.log.Warn("reservation reclaimed before session attached", "order_id", order.ID, "listing_id", listingID)
		}
		return nil
	})
	if err != nil {
		// Webhooks resolve the order from metadata, so payment can still complete.
		c.log.Error("attach payment session failed", "order_id", order.ID, "session_id", session.ID, "err", err)
	}

	c.log.Info("checkout started", "order_id", order.ID, "listing_id", listingID, "session_id", session.ID)
	return domain.CheckoutHandle{
		OrderID:    order.ID,
		SessionID:  session.ID,
		PaymentURL: session.URL,
		ExpiresAt:  session.ExpiresAt,
	}, nil
}

// Order returns the order only to the buyer who placed it.
func (c *Checkout) Order(ctx context.Context, orderID, buyerID string) (domain.Order, error) {
	o, err := c.tx.Stores().Orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if o.BuyerID != buyerID {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}
