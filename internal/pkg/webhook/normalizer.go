package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mkessels/paybridge/app/models"
)

// Shop webhook types that represent a billable order. Everything else is
// acknowledged and ignored.
var acceptedOrderTypes = map[string]bool{
	"order_paid":   true,
	"product_paid": true,
	"upsell_paid":  true,
}

// paymentEventCharged is the only payment event type acted on.
const paymentEventCharged = "charge.succeeded"

var validate = validator.New()

// flexID accepts order identifiers delivered as either JSON string or number
// and normalizes them to a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("order id must be string or number, got %s", string(data))
	}
	*f = flexID(n.String())
	return nil
}

type rawOrderItem struct {
	Name      string           `json:"name"`
	ID        flexID           `json:"id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	VAT       *decimal.Decimal `json:"vat"`
}

type rawOrderPayload struct {
	WebhookType string `json:"webhook_type"`
	Order       *struct {
		ID    *flexID        `json:"id"`
		Items []rawOrderItem `json:"items"`
	} `json:"order"`
}

// ParseOrderWebhook classifies one raw shop delivery. Unknown webhook types
// are Ignored (success, no side effect); schema violations are Malformed.
func ParseOrderWebhook(raw []byte) Result {
	var payload rawOrderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return malformed("", fmt.Sprintf("invalid json: %v", err))
	}

	webhookType := strings.TrimSpace(payload.WebhookType)
	if !acceptedOrderTypes[webhookType] {
		return ignored(webhookType, fmt.Sprintf("webhook type %q is not billable", webhookType))
	}

	if payload.Order == nil || payload.Order.ID == nil || strings.TrimSpace(string(*payload.Order.ID)) == "" {
		return malformed(webhookType, "order.id is missing")
	}
	if len(payload.Order.Items) == 0 {
		return malformed(webhookType, "order.items is missing or empty")
	}

	items := make([]models.LineItem, 0, len(payload.Order.Items))
	for i, ri := range payload.Order.Items {
		if strings.TrimSpace(ri.Name) == "" {
			return malformed(webhookType, fmt.Sprintf("order.items[%d].name is missing", i))
		}
		if ri.Quantity <= 0 {
			return malformed(webhookType, fmt.Sprintf("order.items[%d].quantity must be positive", i))
		}
		items = append(items, models.LineItem{
			Name:       ri.Name,
			ExternalID: string(ri.ID),
			Quantity:   ri.Quantity,
			UnitPrice:  ri.UnitPrice,
			VAT:        ri.VAT,
		})
	}

	order := &OrderCreated{
		WebhookType: webhookType,
		OrderID:     strings.TrimSpace(string(*payload.Order.ID)),
		Items:       items,
	}
	if err := validate.Struct(order); err != nil {
		return malformed(webhookType, fmt.Sprintf("order payload failed validation: %v", err))
	}

	return Result{Kind: KindOrderCreated, Order: order, EventType: webhookType}
}

type rawPaymentPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Currency string            `json:"currency"`
			Customer string            `json:"customer"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// ParsePaymentWebhook classifies one raw payment-provider delivery. Only
// charge.succeeded is acted on. A valid charge without metadata.order_number
// is NeedsReview, a distinct terminal outcome routed to the notification
// channel, not an error.
func ParsePaymentWebhook(raw []byte) Result {
	var payload rawPaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return malformed("", fmt.Sprintf("invalid json: %v", err))
	}

	eventType := strings.TrimSpace(payload.Type)
	if eventType != paymentEventCharged {
		res := ignored(eventType, fmt.Sprintf("payment event type %q is not acted on", eventType))
		res.EventID = strings.TrimSpace(payload.ID)
		return res
	}

	charge := payload.Data.Object
	event := &PaymentEvent{
		PaymentID:  strings.TrimSpace(charge.ID),
		CustomerID: strings.TrimSpace(charge.Customer),
		Currency:   strings.ToLower(strings.TrimSpace(charge.Currency)),
		OrderRef:   strings.TrimSpace(charge.Metadata["order_number"]),
	}

	if err := validate.Struct(event); err != nil {
		res := malformed(eventType, fmt.Sprintf("payment payload failed validation: %v", err))
		res.EventID = strings.TrimSpace(payload.ID)
		return res
	}

	kind := KindPaymentConfirmed
	if event.OrderRef == "" {
		kind = KindNeedsReview
	}
	return Result{
		Kind:      kind,
		Payment:   event,
		EventID:   strings.TrimSpace(payload.ID),
		EventType: eventType,
	}
}
