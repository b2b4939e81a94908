package application

import (
	"context"
	"fmt"
	"time"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

// ReservationManager is the only concurrency gate in the sale flow. It is
// bound to whatever ListingStore it is given, usually one inside a transaction.
type ReservationManager struct {
	listings ListingStore
	clock    Clock
}

func NewReservationManager(listings ListingStore, clock Clock) *ReservationManager {
	return &ReservationManager{listings: listings, clock: clock}
}

// TryReserve claims the listing for buyerID until now+ttl. ok is false when the
// listing is held by another active reservation or is no longer for sale; that
// is an ordinary outcome, not an error. An expired hold is reclaimed here.
func (m *ReservationManager) TryReserve(ctx context.Context, listingID, buyerID string, ttl time.Duration) (domain.Reservation, bool, error) {
	if ttl <= 0 {
		return domain.Reservation{}, false, fmt.Errorf("%w: reservation ttl must be positive", domain.ErrValidation)
	}
	now := m.clock()
	until := now.Add(ttl)

	ok, err := m.listings.Reserve(ctx, listingID, buyerID, now, until)
	if err != nil {
		return domain.Reservation{}, false, fmt.Errorf("reserve listing %s: %w", listingID, err)
	}
	if !ok {
		return domain.Reservation{}, false, nil
	}
	return domain.Reservation{ListingID: listingID, BuyerID: buyerID, Until: until}, true, nil
}

// AttachSession records the payment session owning buyerID's reservation. It
// does not re-check the window, only that the hold was not handed to someone else.
func (m *ReservationManager) AttachSession(ctx context.Context, listingID, buyerID, sessionID string) (bool, error) {
	ok, err := m.listings.AttachSession(ctx, listingID, buyerID, sessionID)
	if err != nil {
		return false, fmt.Errorf("attach session to listing %s: %w", listingID, err)
	}
	return ok, nil
}

// Release drops the reservation if it still belongs to sessionID.
func (m *ReservationManager) Release(ctx context.Context, listingID, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	ok, err := m.listings.Release(ctx, listingID, sessionID)
	if err != nil {
		return false, fmt.Errorf("release listing %s: %w", listingID, err)
	}
	return ok, nil
}
