package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
	"github.com/dmehra2102/storefront-sales/pkg/outbox"
)

// memDB is a test double for the Postgres transactor. Transactions are fully
// serialized and applied copy-on-commit, which is enough to exercise rollback
// and the conditional-update predicates.
type memDB struct {
	mu    sync.Mutex
	state *memState
	// failCommit makes the next n transactions fail just before commit.
	failCommit int
}

type memState struct {
	listings map[string]domain.Listing
	orders   map[string]domain.Order
	events   map[string]domain.ProcessedEvent
	outbox   []outbox.Event
}

func newMemDB() *memDB {
	return &memDB{state: &memState{
		listings: map[string]domain.Listing{},
		orders:   map[string]domain.Order{},
		events:   map[string]domain.ProcessedEvent{},
	}}
}

func (st *memState) clone() *memState {
	c := &memState{
		listings: make(map[string]domain.Listing, len(st.listings)),
		orders:   make(map[string]domain.Order, len(st.orders)),
		events:   make(map[string]domain.ProcessedEvent, len(st.events)),
		outbox:   append([]outbox.Event(nil), st.outbox...),
	}
	for k, v := range st.listings {
		c.listings[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	return c
}

func (db *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	work := db.state.clone()
	if err := fn(ctx, work.stores()); err != nil {
		return err
	}
	if db.failCommit > 0 {
		db.failCommit--
		return fmt.Errorf("commit: connection reset")
	}
	db.state = work
	return nil
}

func (db *memDB) Stores() Stores {
	return (&lockedState{db: db}).stores()
}

// lockedState runs each call against the committed state under the lock.
type lockedState struct{ db *memDB }

func (l *lockedState) stores() Stores {
	return Stores{
		Listings: lockedListings{l},
		Orders:   lockedOrders{l},
		Events:   lockedEvents{l},
		Outbox:   lockedOutbox{l},
	}
}

func (l *lockedState) with(fn func(s Stores)) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	fn(l.db.state.stores())
}

func (st *memState) stores() Stores {
	return Stores{
		Listings: memListings{st},
		Orders:   memOrders{st},
		Events:   memEvents{st},
		Outbox:   memOutbox{st},
	}
}

func (db *memDB) putListing(l domain.Listing) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.state.listings[l.ID] = l
}

func (db *memDB) listing(id string) domain.Listing {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.listings[id]
}

func (db *memDB) order(id string) domain.Order {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.orders[id]
}

func (db *memDB) putOrder(o domain.Order) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.state.orders[o.ID] = o
}

func (db *memDB) eventTypes() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	types := make([]string, 0, len(db.state.outbox))
	for _, e := range db.state.outbox {
		types = append(types, e.Type)
	}
	return types
}

func (db *memDB) countEvents(eventType string) int {
	n := 0
	for _, t := range db.eventTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (db *memDB) processed(id string) (domain.ProcessedEvent, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	ev, ok := db.state.events[id]
	return ev, ok
}

type memListings struct{ st *memState }

func (m memListings) Get(ctx context.Context, id string) (domain.Listing, error) {
	l, ok := m.st.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("listing %s: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

func (m memListings) GetForUpdate(ctx context.Context, id string) (domain.Listing, error) {
	return m.Get(ctx, id)
}

func (m memListings) Reserve(ctx context.Context, id, buyerID string, now, until time.Time) (bool, error) {
	l, ok := m.st.listings[id]
	if !ok || !l.ForSale || l.Status != domain.ListingAvailable {
		return false, nil
	}
	if l.ReservedUntil != nil && !l.ReservedUntil.Before(now) {
		return false, nil
	}
	l.ReservedBy, l.ReservedUntil, l.ReservedSessionID = &buyerID, &until, nil
	l.UpdatedAt = now
	m.st.listings[id] = l
	return true, nil
}

func (m memListings) AttachSession(ctx context.Context, id, buyerID, sessionID string) (bool, error) {
	l, ok := m.st.listings[id]
	if !ok || l.Status != domain.ListingAvailable || l.ReservedBy == nil || *l.ReservedBy != buyerID {
		return false, nil
	}
	l.ReservedSessionID = &sessionID
	m.st.listings[id] = l
	return true, nil
}

func (m memListings) Release(ctx context.Context, id, sessionID string) (bool, error) {
	l, ok := m.st.listings[id]
	if !ok || l.Status != domain.ListingAvailable || l.ReservedSessionID == nil || *l.ReservedSessionID != sessionID {
		return false, nil
	}
	l.ReservedBy, l.ReservedUntil, l.ReservedSessionID = nil, nil, nil
	m.st.listings[id] = l
	return true, nil
}

func (m memListings) MarkSold(ctx context.Context, id, newOwnerID string) (bool, error) {
	l, ok := m.st.listings[id]
	if !ok || l.Status != domain.ListingAvailable {
		return false, nil
	}
	l.Status, l.ForSale, l.OwnerID = domain.ListingSold, false, newOwnerID
	l.ReservedBy, l.ReservedUntil, l.ReservedSessionID = nil, nil, nil
	m.st.listings[id] = l
	return true, nil
}

func (m memListings) ClearLapsed(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, l := range m.st.listings {
		if l.Status == domain.ListingAvailable && l.ReservedUntil != nil && l.ReservedUntil.Before(now) {
			l.ReservedBy, l.ReservedUntil, l.ReservedSessionID = nil, nil, nil
			m.st.listings[id] = l
			n++
		}
	}
	return n, nil
}

type memOrders struct{ st *memState }

func (m memOrders) Insert(ctx context.Context, o domain.Order) error {
	if _, ok := m.st.orders[o.ID]; ok {
		return fmt.Errorf("duplicate order %s", o.ID)
	}
	m.st.orders[o.ID] = o
	return nil
}

func (m memOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	o, ok := m.st.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (m memOrders) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return m.Get(ctx, id)
}

func (m memOrders) Transition(ctx context.Context, id string, from, to domain.OrderStatus, reason *string, now time.Time) (bool, error) {
	o, ok := m.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status, o.UpdatedAt = to, now
	if reason != nil {
		o.FailureReason = reason
	}
	m.st.orders[id] = o
	return true, nil
}

func (m memOrders) AttachSession(ctx context.Context, id, sessionID string) (bool, error) {
	o, ok := m.st.orders[id]
	if !ok || o.PaymentSessionID != nil {
		return false, nil
	}
	o.PaymentSessionID = &sessionID
	m.st.orders[id] = o
	return true, nil
}

func (m memOrders) ListPendingBefore(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range m.st.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memEvents struct{ st *memState }

func (m memEvents) Get(ctx context.Context, eventID string) (domain.ProcessedEvent, error) {
	ev, ok := m.st.events[eventID]
	if !ok {
		return domain.ProcessedEvent{}, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}
	return ev, nil
}

func (m memEvents) Insert(ctx context.Context, ev domain.ProcessedEvent) (bool, error) {
	if _, ok := m.st.events[ev.EventID]; ok {
		return false, nil
	}
	m.st.events[ev.EventID] = ev
	return true, nil
}

type memOutbox struct{ st *memState }

func (m memOutbox) Append(ctx context.Context, e outbox.Event) error {
	e.ID = int64(len(m.st.outbox) + 1)
	m.st.outbox = append(m.st.outbox, e)
	return nil
}

type lockedListings struct{ l *lockedState }

func (x lockedListings) Get(ctx context.Context, id string) (out domain.Listing, err error) {
	x.l.with(func(s Stores) { out, err = s.Listings.Get(ctx, id) })
	return
}

func (x lockedListings) GetForUpdate(ctx context.Context, id string) (domain.Listing, error) {
	return x.Get(ctx, id)
}

func (x lockedListings) Reserve(ctx context.Context, id, buyerID string, now, until time.Time) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Listings.Reserve(ctx, id, buyerID, now, until) })
	return
}

func (x lockedListings) AttachSession(ctx context.Context, id, buyerID, sessionID string) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Listings.AttachSession(ctx, id, buyerID, sessionID) })
	return
}

func (x lockedListings) Release(ctx context.Context, id, sessionID string) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Listings.Release(ctx, id, sessionID) })
	return
}

func (x lockedListings) MarkSold(ctx context.Context, id, newOwnerID string) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Listings.MarkSold(ctx, id, newOwnerID) })
	return
}

func (x lockedListings) ClearLapsed(ctx context.Context, now time.Time) (n int64, err error) {
	x.l.with(func(s Stores) { n, err = s.Listings.ClearLapsed(ctx, now) })
	return
}

type lockedOrders struct{ l *lockedState }

func (x lockedOrders) Insert(ctx context.Context, o domain.Order) (err error) {
	x.l.with(func(s Stores) { err = s.Orders.Insert(ctx, o) })
	return
}

func (x lockedOrders) Get(ctx context.Context, id string) (out domain.Order, err error) {
	x.l.with(func(s Stores) { out, err = s.Orders.Get(ctx, id) })
	return
}

func (x lockedOrders) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return x.Get(ctx, id)
}

func (x lockedOrders) Transition(ctx context.Context, id string, from, to domain.OrderStatus, reason *string, now time.Time) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Orders.Transition(ctx, id, from, to, reason, now) })
	return
}

func (x lockedOrders) AttachSession(ctx context.Context, id, sessionID string) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Orders.AttachSession(ctx, id, sessionID) })
	return
}

func (x lockedOrders) ListPendingBefore(ctx context.Context, createdBefore time.Time, limit int) (out []domain.Order, err error) {
	x.l.with(func(s Stores) { out, err = s.Orders.ListPendingBefore(ctx, createdBefore, limit) })
	return
}

type lockedEvents struct{ l *lockedState }

func (x lockedEvents) Get(ctx context.Context, eventID string) (out domain.ProcessedEvent, err error) {
	x.l.with(func(s Stores) { out, err = s.Events.Get(ctx, eventID) })
	return
}

func (x lockedEvents) Insert(ctx context.Context, ev domain.ProcessedEvent) (ok bool, err error) {
	x.l.with(func(s Stores) { ok, err = s.Events.Insert(ctx, ev) })
	return
}

type lockedOutbox struct{ l *lockedState }

func (x lockedOutbox) Append(ctx context.Context, e outbox.Event) (err error) {
	x.l.with(func(s Stores) { err = s.Outbox.Append(ctx, e) })
	return
}

// testClock is a settable clock shared by a test and the code under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func ptr[T any](v T) *T { return &v }

func availableListing(id, owner string, price int64) domain.Listing {
	return domain.Listing{ID: id, OwnerID: owner, Price: ptr(price), ForSale: true, Status: domain.ListingAvailable}
}
