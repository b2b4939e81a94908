package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestListingPurchasable(t *testing.T) {
	base := Listing{ID: "l1", OwnerID: "seller", Price: ptr(int64(9999)), ForSale: true, Status: ListingAvailable}
	assert.NoError(t, base.Purchasable("buyer"))

	notForSale := base
	notForSale.ForSale = false
	assert.True(t, errors.Is(notForSale.Purchasable("buyer"), ErrConflict))

	sold := base
	sold.Status = ListingSold
	assert.True(t, errors.Is(sold.Purchasable("buyer"), ErrConflict))

	noPrice := base
	noPrice.Price = nil
	assert.True(t, errors.Is(noPrice.Purchasable("buyer"), ErrValidation))

	zeroPrice := base
	zeroPrice.Price = ptr(int64(0))
	assert.True(t, errors.Is(zeroPrice.Purchasable("buyer"), ErrValidation))

	assert.True(t, errors.Is(base.Purchasable("seller"), ErrValidation))
}

func TestListingActiveReservation(t *testing.T) {
	now := time.Now()
	l := Listing{ReservedBy: ptr("a"), ReservedUntil: ptr(now.Add(time.Minute))}
	assert.True(t, l.ActiveReservation(now))
	assert.True(t, l.ReservedFor("a", now))
	assert.False(t, l.ReservedFor("b", now))
	assert.False(t, l.ActiveReservation(now.Add(2*time.Minute)))

	assert.False(t, Listing{}.ActiveReservation(now))
}

func TestListingConsistent(t *testing.T) {
	assert.True(t, Listing{Status: ListingSold}.Consistent())
	assert.False(t, Listing{Status: ListingSold, ForSale: true}.Consistent())
	assert.False(t, Listing{Status: ListingSold, ReservedSessionID: ptr("cs")}.Consistent())
	assert.True(t, Listing{Status: ListingAvailable, ForSale: true, ReservedBy: ptr("a")}.Consistent())
}
