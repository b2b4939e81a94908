package domain

import (
	"fmt"
	"time"
)

type ListingStatus string

const (
	ListingAvailable ListingStatus = "AVAILABLE"
	ListingSold      ListingStatus = "SOLD"
)

type Listing struct {
	ID                string
	OwnerID           string
	Price             *int64
	ForSale           bool
	Status            ListingStatus
	ReservedBy        *string
	ReservedUntil     *time.Time
	ReservedSessionID *string
	UpdatedAt         time.Time
}

// ActiveReservation reports whether a buyer currently holds the listing.
func (l Listing) ActiveReservation(now time.Time) bool {
	return l.ReservedBy != nil && l.ReservedUntil != nil && l.ReservedUntil.After(now)
}

// ReservedFor reports whether the active reservation belongs to buyerID.
func (l Listing) ReservedFor(buyerID string, now time.Time) bool {
	return l.ActiveReservation(now) && *l.ReservedBy == buyerID
}

// Purchasable checks everything about the listing itself that checkout needs,
// leaving the reservation window to the conditional update.
func (l Listing) Purchasable(buyerID string) error {
	if l.Status == ListingSold || !l.ForSale {
		return ErrConflict
	}
	if l.Price == nil || *l.Price <= 0 {
		return fmt.Errorf("%w: listing has no valid price", ErrValidation)
	}
	if l.OwnerID == buyerID {
		return fmt.Errorf("%w: cannot purchase your own listing", ErrValidation)
	}
	return nil
}

// Consistent reports whether a SOLD listing carries no sale or reservation state.
func (l Listing) Consistent() bool {
	if l.Status != ListingSold {
		return true
	}
	return !l.ForSale && l.ReservedBy == nil && l.ReservedUntil == nil && l.ReservedSessionID == nil
}

type Reservation struct {
	ListingID string
	BuyerID   string
	Until     time.Time
}
