package webhook

import (
	"github.com/mkessels/paybridge/app/models"
)

// Kind tags the single classification every inbound payload resolves to.
type Kind string

const (
	KindOrderCreated     Kind = "order_created"
	KindPaymentConfirmed Kind = "payment_confirmed"
	KindIgnored          Kind = "ignored"
	KindMalformed        Kind = "malformed"
	KindNeedsReview      Kind = "needs_review"
)

// OrderCreated is the normalized shape of an accepted shop webhook.
type OrderCreated struct {
	WebhookType string            `validate:"required"`
	OrderID     string            `validate:"required"`
	Items       []models.LineItem `validate:"required,min=1,dive"`
}

// PaymentEvent is the normalized shape of an accepted payment webhook. It is
// never persisted directly; the retry queue carries it inside envelopes.
// OrderRef is empty on the needs-review branch.
type PaymentEvent struct {
	PaymentID  string `json:"payment_id" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	Currency   string `json:"currency" validate:"required"`
	OrderRef   string `json:"order_ref"`
}

// Result is the closed outcome of normalizing one raw delivery. Exactly one
// of Order/Payment is set, matching Kind; Reason explains Ignored and
// Malformed classifications.
type Result struct {
	Kind      Kind
	Order     *OrderCreated
	Payment   *PaymentEvent
	EventID   string
	EventType string
	Reason    string
}

func ignored(eventType, reason string) Result {
	return Result{Kind: KindIgnored, EventType: eventType, Reason: reason}
}

func malformed(eventType, reason string) Result {
	return Result{Kind: KindMalformed, EventType: eventType, Reason: reason}
}
