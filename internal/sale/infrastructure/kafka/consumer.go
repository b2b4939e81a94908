package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
	"github.com/dmehra2102/storefront-sales/pkg/metrics"
	"github.com/dmehra2102/storefront-sales/pkg/tracing"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentEventHandler interface {
	Handle(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error)
}

// Consumer feeds provider events bridged onto Kafka into the webhook processor.
// An offset is committed only once the processor has acknowledged the event.
type Consumer struct {
	log        *slog.Logger
	reader     Reader
	handler    PaymentEventHandler
	tracer     trace.Tracer
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
}

func NewConsumer(log *slog.Logger, reader Reader, handler PaymentEventHandler) *Consumer {
	return &Consumer{
		log:        log,
		reader:     reader,
		handler:    handler,
		tracer:     otel.Tracer("payment-event-consumer"),
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is cancelled, which is reported as a nil error.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := c.process(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
	}
}

// process returns an error only when ctx ends before the handler succeeded.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentEvent")
	defer span.End()

	var ev domain.PaymentEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.log.Error("unmarshal failed", "partition", msg.Partition, "offset", msg.Offset, "err", err)
		metrics.PaymentEventsTotal.WithLabelValues("kafka", "unknown", "malformed").Inc()
		return nil
	}
	span.SetAttributes(attribute.String("event.id", ev.EventID), attribute.String("event.type", ev.Type))

	backoff := c.minBackoff
	for {
		outcome, err := c.handler.Handle(msgCtx, ev)
		if err == nil {
			metrics.PaymentEventsTotal.WithLabelValues("kafka", ev.Type, string(outcome)).Inc()
			c.log.Info("payment event handled", "event_id", ev.EventID, "type", ev.Type, "outcome", outcome)
			return nil
		}

		metrics.PaymentEventsTotal.WithLabelValues("kafka", ev.Type, "error").Inc()
		c.log.Error("payment event failed, retrying", "event_id", ev.EventID, "backoff", backoff, "err", err)
		span.RecordError(err)

		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), err)
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}
