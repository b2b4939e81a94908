package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

// Client opens hosted checkout sessions at the payment provider.
type Client struct {
	log        *slog.Logger
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
}

func NewClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		tracer: otel.Tracer("payment-client"),
	}
}

type sessionMetadata struct {
	OrderID   string `json:"orderId"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
}

type createSessionReq struct {
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Metadata sessionMetadata `json:"metadata"`
}

type createSessionResp struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c *Client) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "CreatePaymentSession", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("order.id", req.OrderID))

	session, err := c.createSession(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.PaymentSession{}, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	return session, nil
}

func (c *Client) createSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	body, err := json.Marshal(createSessionReq{
		Amount:   req.AmountCents,
		Currency: req.Currency,
		Metadata: sessionMetadata{OrderID: req.OrderID, ListingID: req.ListingID, BuyerID: req.BuyerID},
	})
	if err != nil {
		return domain.PaymentSession{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return domain.PaymentSession{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	// One order never opens two sessions, even when a request is retried.
	httpReq.Header.Set("Idempotency-Key", req.OrderID)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.PaymentSession{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("payment provider error", "order_id", req.OrderID, "status", resp.StatusCode, "body", string(msg))
		return domain.PaymentSession{}, fmt.Errorf("provider returned status %s", resp.Status)
	}

	var out createSessionResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("decode session: %w", err)
	}
	if out.ID == "" || out.URL == "" {
		return domain.PaymentSession{}, fmt.Errorf("provider returned an incomplete session")
	}
	return domain.PaymentSession{ID: out.ID, URL: out.URL, ExpiresAt: out.ExpiresAt}, nil
}
