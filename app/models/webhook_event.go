package models

import "time"

const (
	WebhookSourceOrders   = "orders"
	WebhookSourcePayments = "payments"
)

// Terminal outcomes recorded on the webhook journal.
const (
	WebhookOutcomeInvoiced    = "invoiced"
	WebhookOutcomeRetryQueued = "retry_queued"
	WebhookOutcomeNotified    = "notified"
	WebhookOutcomeDeadLetter  = "dead_letter"
	WebhookOutcomeIgnored     = "ignored"
	WebhookOutcomeMalformed   = "malformed"
	WebhookOutcomeStored      = "stored"
)

// WebhookEvent journals every inbound delivery with deduplication metadata so
// redeliveries of an already-processed payment event can be acknowledged
// without a second invoice run.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Source          string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_source_event,unique,priority:1;index" json:"source"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_events_source_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	Outcome         string     `gorm:"type:varchar(30);not null;default:''" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
