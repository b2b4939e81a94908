package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Store interface {
	// LockBatch claims up to batchSize events that are pending, failed with
	// retries left, or stuck in_progress past their lease.
	LockBatch(ctx context.Context, relayID string, batchSize, maxRetries int, lease time.Duration) ([]Event, error)
	// MarkSent and MarkFailed only touch events still leased to relayID.
	MarkSent(ctx context.Context, relayID string, ids []int64) error
	MarkFailed(ctx context.Context, relayID string, id int64, errMsg string) error
}

type Relay struct {
	log        *slog.Logger
	store      Store
	dispatch   *Dispatcher
	relayID    string
	batchSize  int
	maxRetries int
	interval   time.Duration
	lease      time.Duration
	onResult   func(sent, failed int)
}

type Option func(*Relay)

func WithInterval(d time.Duration) Option { return func(r *Relay) { r.interval = d } }

func WithBatchSize(n int) Option { return func(r *Relay) { r.batchSize = n } }

func WithMaxRetries(n int) Option { return func(r *Relay) { r.maxRetries = n } }

// WithResultHook is called after every non-empty batch, for metrics.
func WithResultHook(fn func(sent, failed int)) Option { return func(r *Relay) { r.onResult = fn } }

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...Option) *Relay {
	r := &Relay{
		log:        log,
		store:      store,
		dispatch:   dispatch,
		relayID:    relayID,
		batchSize:  100,
		maxRetries: 10,
		interval:   500 * time.Millisecond,
		lease:      5 * time.Second,
		onResult:   func(int, int) {},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("relay flush error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// Flush dispatches one batch and returns how many events were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.maxRetries, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	failed := 0
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			failed++
			if mErr := r.store.MarkFailed(ctx, r.relayID, e.ID, err.Error()); mErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", mErr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	r.onResult(len(ids), failed)
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, r.relayID, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}
