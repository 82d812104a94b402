package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LineItem is one sellable position on an order. UnitPrice is the major-unit
// price as delivered by the shop webhook; minor-unit scaling happens at the
// ledger boundary, not here.
type LineItem struct {
	Name       string           `json:"name"`
	ExternalID string           `json:"external_id"`
	Quantity   int              `json:"quantity"`
	UnitPrice  decimal.Decimal  `json:"unit_price"`
	VAT        *decimal.Decimal `json:"vat,omitempty"`
}

// Equal compares two line items structurally. Decimal fields compare by
// numeric value, not representation.
func (li LineItem) Equal(other LineItem) bool {
	if li.Name != other.Name || li.ExternalID != other.ExternalID || li.Quantity != other.Quantity {
		return false
	}
	if !li.UnitPrice.Equal(other.UnitPrice) {
		return false
	}
	if (li.VAT == nil) != (other.VAT == nil) {
		return false
	}
	if li.VAT != nil && !li.VAT.Equal(*other.VAT) {
		return false
	}
	return true
}

// LineItemsEqual reports structural equality of two item sequences, order
// included.
func LineItemsEqual(a, b []LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// OrderRecord is the durable join state for one shop order. It is created by
// the first OrderCreated delivery and merged on every subsequent one; records
// are never deleted by the reconciliation core.
type OrderRecord struct {
	ID               uint                          `gorm:"primaryKey" json:"id"`
	OrderID          string                        `gorm:"type:varchar(191);not null;uniqueIndex" json:"order_id"`
	Items            datatypes.JSONSlice[LineItem] `gorm:"not null" json:"items"`
	WebhookTypesSeen datatypes.JSONSlice[string]   `gorm:"not null" json:"webhook_types_seen"`
	Version          uint                          `gorm:"not null;default:1" json:"version"`
	CreatedAt        time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	LastUpdated      time.Time                     `gorm:"autoUpdateTime;index" json:"last_updated"`
}

// HasSeenTag reports whether a webhook type already touched this record.
func (r *OrderRecord) HasSeenTag(tag string) bool {
	for _, t := range r.WebhookTypesSeen {
		if t == tag {
			return true
		}
	}
	return false
}

// UnionTag adds tag to WebhookTypesSeen with set semantics. The set only
// grows; tags are never removed.
func (r *OrderRecord) UnionTag(tag string) {
	if r.HasSeenTag(tag) {
		return
	}
	r.WebhookTypesSeen = append(r.WebhookTypesSeen, tag)
}
