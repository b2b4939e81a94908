package application

import (
	"context"
	"time"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
	"github.com/dmehra2102/storefront-sales/pkg/outbox"
)

type ListingStore interface {
	Get(ctx context.Context, id string) (domain.Listing, error)
	GetForUpdate(ctx context.Context, id string) (domain.Listing, error)
	// Reserve is the conditional write behind TryReserve; it reports whether exactly one row changed.
	Reserve(ctx context.Context, id, buyerID string, now, until time.Time) (bool, error)
	AttachSession(ctx context.Context, id, buyerID, sessionID string) (bool, error)
	Release(ctx context.Context, id, sessionID string) (bool, error)
	MarkSold(ctx context.Context, id, newOwnerID string) (bool, error)
	ClearLapsed(ctx context.Context, now time.Time) (int64, error)
}

type OrderStore interface {
	Insert(ctx context.Context, o domain.Order) error
	Get(ctx context.Context, id string) (domain.Order, error)
	GetForUpdate(ctx context.Context, id string) (domain.Order, error)
	// Transition moves an order from one status to another only if it is still in from.
	Transition(ctx context.Context, id string, from, to domain.OrderStatus, reason *string, now time.Time) (bool, error)
	AttachSession(ctx context.Context, id, sessionID string) (bool, error)
	ListPendingBefore(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Order, error)
}

type ProcessedEventStore interface {
	Get(ctx context.Context, eventID string) (domain.ProcessedEvent, error)
	// Insert returns false when the event id is already recorded.
	Insert(ctx context.Context, ev domain.ProcessedEvent) (bool, error)
}

type OutboxWriter interface {
	Append(ctx context.Context, e outbox.Event) error
}

type Stores struct {
	Listings ListingStore
	Orders   OrderStore
	Events   ProcessedEventStore
	Outbox   OutboxWriter
}

// Transactor runs fn against stores bound to a single database transaction,
// committing only when fn returns nil.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
	Stores() Stores
}

type PaymentCollaborator interface {
	CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error)
}

// DedupCache short-circuits redelivered events before touching the database.
type DedupCache interface {
	Key(namespace, id string) string
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string) error
}

type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
