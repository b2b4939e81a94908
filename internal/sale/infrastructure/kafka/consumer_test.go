package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type scriptedHandler struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (h *scriptedHandler) Handle(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, ev.EventID)
	if h.failures > 0 {
		h.failures--
		return "", errors.New("database unavailable")
	}
	return domain.OutcomeProcessed, nil
}

func (h *scriptedHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func newTestConsumer(reader Reader, handler PaymentEventHandler) *Consumer {
	c := NewConsumer(slog.New(slog.NewTextHandler(io.Discard, nil)), reader, handler)
	c.minBackoff, c.maxBackoff = time.Millisecond, 4*time.Millisecond
	return c
}

func runUntil(t *testing.T, c *Consumer, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, done, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-errCh)
}

func TestConsumerCommitsHandledEvents(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"eventId":"evt_1","type":"payment.completed","metadata":{"orderId":"o1"}}`)},
		{Offset: 2, Value: []byte(`{"eventId":"evt_2","type":"payment.expired","metadata":{"orderId":"o2"}}`)},
	}}
	handler := &scriptedHandler{}
	c := newTestConsumer(reader, handler)

	runUntil(t, c, func() bool { return len(reader.commits()) == 2 })
	assert.Equal(t, []int64{1, 2}, reader.commits())
	assert.Equal(t, []string{"evt_1", "evt_2"}, handler.calls)
	assert.True(t, reader.closed)
}

func TestConsumerRetriesBeforeCommit(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 7, Value: []byte(`{"eventId":"evt_1","type":"payment.completed","metadata":{"orderId":"o1"}}`)},
	}}
	handler := &scriptedHandler{failures: 3}
	c := newTestConsumer(reader, handler)

	runUntil(t, c, func() bool { return len(reader.commits()) == 1 })
	assert.Equal(t, 4, handler.callCount())
	assert.Equal(t, []int64{7}, reader.commits())
}

func TestConsumerSkipsMalformedMessages(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{{Offset: 3, Value: []byte(`not json`)}}}
	handler := &scriptedHandler{}
	c := newTestConsumer(reader, handler)

	runUntil(t, c, func() bool { return len(reader.commits()) == 1 })
	assert.Zero(t, handler.callCount())
}

func TestConsumerStopsRetryingOnCancel(t *testing.T) {
	reader := &fakeReader{msgs: []kafka.Message{
		{Offset: 9, Value: []byte(`{"eventId":"evt_1","type":"payment.completed","metadata":{"orderId":"o1"}}`)},
	}}
	handler := &scriptedHandler{failures: 1 << 30}
	c := newTestConsumer(reader, handler)

	runUntil(t, c, func() bool { return handler.callCount() >= 3 })
	assert.Empty(t, reader.commits())
}
