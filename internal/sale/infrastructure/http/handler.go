package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
	"github.com/dmehra2102/storefront-sales/pkg/metrics"
	"github.com/dmehra2102/storefront-sales/pkg/tracing"
)

type CheckoutService interface {
	BeginCheckout(ctx context.Context, listingID, buyerID string) (domain.CheckoutHandle, error)
	Order(ctx context.Context, orderID, buyerID string) (domain.Order, error)
}

type PaymentEventHandler interface {
	Handle(ctx context.Context, ev domain.PaymentEvent) (domain.EventOutcome, error)
}

type Handler struct {
	log      *slog.Logger
	checkout CheckoutService
	events   PaymentEventHandler
	auth     *Authenticator
	verifier *SignatureVerifier
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, checkout CheckoutService, events PaymentEventHandler, auth *Authenticator, verifier *SignatureVerifier) *Handler {
	return &Handler{
		log:      log,
		checkout: checkout,
		events:   events,
		auth:     auth,
		verifier: verifier,
		tracer:   otel.Tracer("sale-http"),
	}
}

type checkoutReq struct {
	ListingID string `json:"listingId"`
}

type checkoutResp struct {
	OrderID    string    `json:"orderId"`
	PaymentURL string    `json:"paymentUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type orderResp struct {
	OrderID       string    `json:"orderId"`
	ListingID     string    `json:"listingId"`
	Status        string    `json:"status"`
	AmountCents   int64     `json:"amountCents"`
	Currency      string    `json:"currency"`
	FailureReason string    `json:"failureReason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Post("/checkout", h.beginCheckout)
		r.Get("/orders/{id}", h.getOrder)
	})
	r.With(h.verifier.Middleware).Post("/payments/webhook", h.paymentWebhook)

	return r
}

func (h *Handler) beginCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "BeginCheckout")
	defer span.End()
	start := time.Now()

	buyerID, _ := BuyerFromContext(ctx)
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ListingID == "" {
		metrics.CheckoutTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "listingId is required"})
		return
	}
	span.SetAttributes(attribute.String("listing.id", req.ListingID))

	handle, err := h.checkout.BeginCheckout(ctx, req.ListingID, buyerID)
	metrics.CheckoutDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CheckoutTotal.WithLabelValues(resultLabel(err)).Inc()
		span.RecordError(err)
		h.writeError(w, err)
		return
	}
	metrics.CheckoutTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("order.id", handle.OrderID))

	writeJSON(w, http.StatusOK, checkoutResp{
		OrderID:    handle.OrderID,
		PaymentURL: handle.PaymentURL,
		ExpiresAt:  handle.ExpiresAt,
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "GetOrder")
	defer span.End()

	buyerID, _ := BuyerFromContext(ctx)
	o, err := h.checkout.Order(ctx, chi.URLParam(r, "id"), buyerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := orderResp{
		OrderID:     o.ID,
		ListingID:   o.ListingID,
		Status:      string(o.Status),
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.FailureReason != nil {
		resp.FailureReason = *o.FailureReason
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "PaymentWebhook")
	defer span.End()

	var ev domain.PaymentEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		// The signature held, so redelivery would carry the same bytes.
		metrics.PaymentEventsTotal.WithLabelValues("webhook", "unknown", string(domain.OutcomeRejected)).Inc()
		h.log.Error("undecodable payment event", "err", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	span.SetAttributes(attribute.String("event.id", ev.EventID), attribute.String("event.type", ev.Type))

	outcome, err := h.events.Handle(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment event failed")
		metrics.PaymentEventsTotal.WithLabelValues("webhook", ev.Type, "error").Inc()
		h.log.Error("payment webhook failed", "event_id", ev.EventID, "type", ev.Type, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	metrics.PaymentEventsTotal.WithLabelValues("webhook", ev.Type, string(outcome)).Inc()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// startSpan continues the caller's trace when it sent a traceparent header.
func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := tracing.FromTraceparent(r.Context(), r.Header.Get(tracing.TraceparentHeader))
	return h.tracer.Start(ctx, name)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "listing no longer available"})
	case errors.Is(err, domain.ErrUpstream):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "payment provider unavailable, try again"})
	default:
		h.log.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrUpstream):
		return "upstream"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
