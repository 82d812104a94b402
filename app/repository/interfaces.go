package repository

import (
	"context"
	"errors"

	"github.com/mkessels/paybridge/app/models"
)

// ErrOrderNotFound is returned by Get when no record exists for an order
// identifier. Callers convert it into a retry decision, never surface it.
var ErrOrderNotFound = errors.New("order record not found")

// ErrStore wraps durable-store read/write failures. These are fatal for the
// current delivery; the transport layer owns redelivery.
var ErrStore = errors.New("order store failure")

// ConflictStrategy decides the stored items when an existing record and an
// incoming delivery disagree. The shipped strategy is last-write-wins with a
// warning log; it is a named decision point so deployments can swap it.
type ConflictStrategy func(existing, incoming []models.LineItem) []models.LineItem

// OrderRepository is the durable join store keyed by order identifier.
type OrderRepository interface {
	// Upsert creates or merges the record for orderID. The webhook-type tag
	// is unioned with set semantics; duplicate deliveries are idempotent.
	Upsert(ctx context.Context, orderID string, items []models.LineItem, tag string) (*models.OrderRecord, error)
	Get(ctx context.Context, orderID string) (*models.OrderRecord, error)
}

// WebhookEventRepository journals inbound deliveries for dedup and audit.
type WebhookEventRepository interface {
	// Record stores a delivery once per (source, provider event id). It
	// reports created=false when the journal already holds the delivery.
	Record(ctx context.Context, event *models.WebhookEvent) (created bool, stored *models.WebhookEvent, err error)
	MarkProcessed(ctx context.Context, id uint, outcome string, procErr error) error
}

// Repositories bundles every repository implementation for injection.
type Repositories struct {
	Orders        OrderRepository
	WebhookEvents WebhookEventRepository
}
