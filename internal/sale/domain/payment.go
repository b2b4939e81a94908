package domain

import (
	"fmt"
	"time"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentExpired   = "payment.expired"
)

type PaymentEventMetadata struct {
	OrderID   string `json:"orderId"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
}

// PaymentEvent is the provider envelope, delivered at least once and in no particular order.
type PaymentEvent struct {
	EventID   string               `json:"eventId"`
	Type      string               `json:"type"`
	SessionID string               `json:"sessionId"`
	Metadata  PaymentEventMetadata `json:"metadata"`
}

func (e PaymentEvent) Validate() error {
	if e.EventID == "" || e.Metadata.OrderID == "" {
		return fmt.Errorf("%w: event id and order id are required", ErrValidation)
	}
	return nil
}

type SessionRequest struct {
	OrderID     string
	ListingID   string
	BuyerID     string
	AmountCents int64
	Currency    string
}

type PaymentSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// CheckoutHandle is what a buyer receives after a successful checkout start.
type CheckoutHandle struct {
	OrderID    string
	SessionID  string
	PaymentURL string
	ExpiresAt  time.Time
}

type EventOutcome string

const (
	OutcomeProcessed        EventOutcome = "processed"
	OutcomeAlreadyProcessed EventOutcome = "already_processed"
	OutcomeRejected         EventOutcome = "rejected"
	OutcomeIgnored          EventOutcome = "ignored"
)

type ProcessedEvent struct {
	EventID     string
	OrderID     string
	Outcome     EventOutcome
	ProcessedAt time.Time
}
