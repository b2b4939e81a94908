package domain

import (
	"fmt"
	"regexp"
	"time"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderPaid    OrderStatus = "PAID"
	OrderFailed  OrderStatus = "FAILED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderFailed
}

// CanTransitionTo encodes the only legal moves: PENDING -> PAID and PENDING -> FAILED.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderPending && next.Terminal()
}

const (
	FailureSessionExpired = "session_expired"
	FailureAbandoned      = "abandoned"
	FailureSoldElsewhere  = "sold_to_another_buyer"
)

type Order struct {
	ID               string
	ListingID        string
	SellerID         string
	BuyerID          string
	AmountCents      int64
	Currency         string
	Status           OrderStatus
	PaymentSessionID *string
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

func NewPendingOrder(id, listingID, sellerID, buyerID string, amount int64, currency string, now time.Time) (Order, error) {
	if amount <= 0 {
		return Order{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !currencyPattern.MatchString(currency) {
		return Order{}, fmt.Errorf("%w: invalid currency %q", ErrValidation, currency)
	}
	if listingID == "" || sellerID == "" || buyerID == "" {
		return Order{}, fmt.Errorf("%w: listing, seller and buyer are required", ErrValidation)
	}
	now = now.UTC()
	return Order{
		ID:          id,
		ListingID:   listingID,
		SellerID:    sellerID,
		BuyerID:     buyerID,
		AmountCents: amount,
		Currency:    currency,
		Status:      OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SessionMatches is true when the order has no session yet or the ids agree.
// A session id is attached after the payment provider answers, so an event can
// legitimately arrive before the second checkout transaction commits.
func (o Order) SessionMatches(sessionID string) bool {
	return o.PaymentSessionID == nil || sessionID == "" || *o.PaymentSessionID == sessionID
}
