package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tryReserve(db *memDB, clock *testClock, listingID, buyerID string, ttl time.Duration) (bool, error) {
	var ok bool
	err := db.WithinTx(context.Background(), func(ctx context.Context, s Stores) error {
		var err error
		_, ok, err = NewReservationManager(s.Listings, clock.Now).TryReserve(ctx, listingID, buyerID, ttl)
		return err
	})
	return ok, err
}

func TestTryReserveMutualExclusion(t *testing.T) {
	db := newMemDB()
	clock := newTestClock()
	db.putListing(availableListing("l1", "seller", 9999))

	const buyers = 32
	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := tryReserve(db, clock, "l1", fmt.Sprintf("buyer-%d", i), time.Minute)
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			} else {
				losses.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(buyers-1), losses.Load())
}

func TestTryReserveScenario(t *testing.T) {
	db := newMemDB()
	clock := newTestClock()
	db.putListing(availableListing("l1", "seller", 9999))

	ok, err := tryReserve(db, clock, "l1", "A", 60*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", *db.listing("l1").ReservedBy)

	clock.Advance(30 * time.Second)
	ok, err = tryReserve(db, clock, "l1", "B", 60*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "active reservation must reject another buyer")

	clock.Advance(31 * time.Second)
	ok, err = tryReserve(db, clock, "l1", "B", 60*time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired reservation is reclaimed lazily")

	l := db.listing("l1")
	assert.Equal(t, "B", *l.ReservedBy)
	assert.Equal(t, clock.Now().Add(60*time.Second), *l.ReservedUntil)
	assert.Nil(t, l.ReservedSessionID)
}

func TestTryReserveNotForSale(t *testing.T) {
	db := newMemDB()
	clock := newTestClock()
	l := availableListing("l1", "seller", 9999)
	l.ForSale = false
	db.putListing(l)

	ok, err := tryReserve(db, clock, "l1", "A", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tryReserve(db, clock, "missing", "A", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryReserveRejectsNonPositiveTTL(t *testing.T) {
	db := newMemDB()
	db.putListing(availableListing("l1", "seller", 9999))

	_, err := tryReserve(db, newTestClock(), "l1", "A", 0)
	assert.Error(t, err)
}

func TestAttachSessionAndRelease(t *testing.T) {
	db := newMemDB()
	clock := newTestClock()
	db.putListing(availableListing("l1", "seller", 9999))

	ok, err := tryReserve(db, clock, "l1", "A", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	rm := NewReservationManager(db.Stores().Listings, clock.Now)
	attached, err := rm.AttachSession(context.Background(), "l1", "B", "cs_b")
	require.NoError(t, err)
	assert.False(t, attached, "a session cannot attach to someone else's hold")

	attached, err = rm.AttachSession(context.Background(), "l1", "A", "cs_a")
	require.NoError(t, err)
	assert.True(t, attached)
	assert.Equal(t, "cs_a", *db.listing("l1").ReservedSessionID)

	released, err := rm.Release(context.Background(), "l1", "cs_other")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = rm.Release(context.Background(), "l1", "cs_a")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Nil(t, db.listing("l1").ReservedBy)

	ok, err = tryReserve(db, clock, "l1", "B", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
