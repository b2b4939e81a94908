package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/storefront-sales/internal/sale/domain"
)

// MockProvider stands in for the provider in local runs. Sessions are keyed by
// order id the way the real provider honours Idempotency-Key.
type MockProvider struct {
	mu       sync.RWMutex
	baseURL  string
	ttl      time.Duration
	byOrder  map[string]domain.PaymentSession
	requests map[string]domain.SessionRequest
}

func NewMockProvider(baseURL string, ttl time.Duration) *MockProvider {
	return &MockProvider{
		baseURL:  baseURL,
		ttl:      ttl,
		byOrder:  make(map[string]domain.PaymentSession),
		requests: make(map[string]domain.SessionRequest),
	}
}

func (m *MockProvider) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	m.mu.RLock()
	if s, ok := m.byOrder[req.OrderID]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byOrder[req.OrderID]; ok {
		return s, nil
	}
	id := "cs_" + uuid.NewString()
	s := domain.PaymentSession{
		ID:        id,
		URL:       m.baseURL + "/pay/" + id,
		ExpiresAt: time.Now().UTC().Add(m.ttl),
	}
	m.byOrder[req.OrderID] = s
	m.requests[id] = req
	return s, nil
}

// Event builds the provider event for a session, as its webhook would deliver it.
func (m *MockProvider) Event(sessionID, eventType string) (domain.PaymentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[sessionID]
	if !ok {
		return domain.PaymentEvent{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return domain.PaymentEvent{
		EventID:   "evt_" + uuid.NewString(),
		Type:      eventType,
		SessionID: sessionID,
		Metadata: domain.PaymentEventMetadata{
			OrderID:   req.OrderID,
			ListingID: req.ListingID,
			BuyerID:   req.BuyerID,
		},
	}, nil
}
