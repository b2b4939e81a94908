package application

import (
	"context"

	"github.com/dmehra2102/storefront-sales/pkg/outbox"
	"github.com/dmehra2102/storefront-sales/pkg/tracing"
)

const eventSource = "sale-service"

func appendEvent(ctx context.Context, w OutboxWriter, aggregateType, aggregateID, eventType string, payload any) error {
	ev, err := outbox.NewEvent(aggregateType, aggregateID, eventType, payload,
		map[string]string{"source": eventSource}, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return w.Append(ctx, ev)
}
