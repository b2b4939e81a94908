package domain

const (
	AggregateOrder   = "order"
	AggregateListing = "listing"

	EventOrderCreated   = "OrderCreated"
	EventOrderPaid      = "OrderPaid"
	EventOrderFailed    = "OrderFailed"
	EventListingSold    = "ListingSold"
	EventRefundRequired = "RefundRequired"
)

type OrderCreatedEvent struct {
	OrderID     string `json:"orderId"`
	ListingID   string `json:"listingId"`
	BuyerID     string `json:"buyerId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
}

type OrderPaidEvent struct {
	OrderID   string `json:"orderId"`
	ListingID string `json:"listingId"`
	BuyerID   string `json:"buyerId"`
	EventID   string `json:"eventId"`
}

type OrderFailedEvent struct {
	OrderID   string `json:"orderId"`
	ListingID string `json:"listingId"`
	Reason    string `json:"reason"`
}

type ListingSoldEvent struct {
	ListingID     string `json:"listingId"`
	PreviousOwner string `json:"previousOwner"`
	NewOwner      string `json:"newOwner"`
	OrderID       string `json:"orderId"`
}

// RefundRequiredEvent is raised on the operator channel when money was taken for an
// order that can no longer be fulfilled.
type RefundRequiredEvent struct {
	OrderID     string `json:"orderId"`
	ListingID   string `json:"listingId"`
	BuyerID     string `json:"buyerId"`
	EventID     string `json:"eventId"`
	SessionID   string `json:"sessionId"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
}
