package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/mkessels/paybridge/app/models"
	"github.com/mkessels/paybridge/app/repository"
	"github.com/mkessels/paybridge/internal/pkg/config"
	"github.com/mkessels/paybridge/internal/pkg/ledger"
	"github.com/mkessels/paybridge/internal/pkg/notify"
	"github.com/mkessels/paybridge/internal/pkg/payments"
	"github.com/mkessels/paybridge/internal/pkg/retryqueue"
	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

// Outcome is the single terminal classification of one processed payment
// event. Every valid event resolves to exactly one.
type Outcome string

const (
	OutcomeInvoiced     Outcome = "invoiced"
	OutcomeRetryQueued  Outcome = "retry_queued"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeNotified     Outcome = "notified"
)

// Scheduler is the delay-queue dependency. Implemented by retryqueue.Scheduler.
type Scheduler interface {
	Schedule(ctx context.Context, env *retryqueue.Envelope) (retryqueue.ScheduleResult, error)
}

// LedgerClient is the invoicing dependency. Implemented by ledger.Client.
type LedgerClient interface {
	EnsureContact(ctx context.Context, profile ledger.ContactProfile) (string, error)
	CreateInvoice(ctx context.Context, req ledger.CombinedInvoiceRequest) (string, error)
	SendInvoice(ctx context.Context, invoiceID, message string) error
}

// CustomerLookup resolves payment customer references to profiles.
// Implemented by payments.Client.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (*payments.Customer, error)
}

// Engine joins the two event streams. It holds no per-order state itself;
// everything observable lives in the order store and the retry queue, which
// keeps each invocation stateless and safe to run concurrently across
// different orders.
type Engine struct {
	orders    repository.OrderRepository
	sched     Scheduler
	ledger    LedgerClient
	customers CustomerLookup
	notifier  notify.Notifier
	cfg       *config.Config
}

// NewEngine wires the engine from its explicit dependency bundle.
func NewEngine(
	orders repository.OrderRepository,
	sched Scheduler,
	ledgerClient LedgerClient,
	customers CustomerLookup,
	notifier notify.Notifier,
	cfg *config.Config,
) *Engine {
	return &Engine{
		orders:    orders,
		sched:     sched,
		ledger:    ledgerClient,
		customers: customers,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// ProcessOrder stores or merges the order half of the join. No
// reconciliation decision is taken here; a waiting payment envelope will
// find the record on its next redelivery.
func (e *Engine) ProcessOrder(ctx context.Context, order *webhook.OrderCreated) (*models.OrderRecord, error) {
	rec, err := e.orders.Upsert(ctx, order.OrderID, order.Items, order.WebhookType)
	if err != nil {
		return nil, err
	}
	log.Infof("[Reconcile] Stored order %s (%d items, tags=%v)", rec.OrderID, len(rec.Items), rec.WebhookTypesSeen)
	return rec, nil
}

// ProcessPayment runs the join for one payment event. attempt is 0 for a
// fresh webhook delivery and the envelope's counter on redelivery from the
// retry queue.
func (e *Engine) ProcessPayment(ctx context.Context, event webhook.PaymentEvent, attempt int) (Outcome, error) {
	// Normally enforced upstream by the normalizer's needs-review branch;
	// guarded here because redelivered envelopes bypass the normalizer.
	if event.OrderRef == "" {
		if err := e.notifier.ManualReview(ctx, event, "payment event carries no order reference"); err != nil {
			log.Errorf("[Reconcile] Manual-review notification for payment %s failed: %v", event.PaymentID, err)
		}
		return OutcomeNotified, nil
	}

	record, err := e.orders.Get(ctx, event.OrderRef)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return e.scheduleRetry(ctx, event, attempt)
	}
	if err != nil {
		return "", err
	}

	if err := e.invoice(ctx, record, event); err != nil {
		return "", err
	}
	return OutcomeInvoiced, nil
}

// Redeliver implements retryqueue.Redeliverer.
func (e *Engine) Redeliver(ctx context.Context, payment webhook.PaymentEvent, attempt int) error {
	outcome, err := e.ProcessPayment(ctx, payment, attempt)
	if err != nil {
		return err
	}
	log.Infof("[Reconcile] Redelivery for order %s resolved as %s", payment.OrderRef, outcome)
	return nil
}

func (e *Engine) scheduleRetry(ctx context.Context, event webhook.PaymentEvent, attempt int) (Outcome, error) {
	env := &retryqueue.Envelope{
		OrderRef:   event.OrderRef,
		Payment:    event,
		Attempt:    attempt + 1,
		EnqueuedAt: time.Now(),
	}

	result, err := e.sched.Schedule(ctx, env)
	if err != nil {
		return "", fmt.Errorf("scheduling retry for order %s: %w", event.OrderRef, err)
	}
	if result == retryqueue.ResultDeadLettered {
		return OutcomeDeadLettered, nil
	}
	return OutcomeRetryQueued, nil
}

// invoice builds and submits the combined invoice for a joined order and
// payment. External failures propagate to the caller; the transport layer
// owns redelivery for those.
func (e *Engine) invoice(ctx context.Context, record *models.OrderRecord, event webhook.PaymentEvent) error {
	customer, err := e.customers.GetCustomer(ctx, event.CustomerID)
	if err != nil {
		return fmt.Errorf("customer lookup for payment %s: %w", event.PaymentID, err)
	}

	isDomestic := e.cfg.IsDomestic(customer.Country)
	taxRateID := e.cfg.TaxRateExportID
	if isDomestic {
		taxRateID = e.cfg.TaxRateDomesticID
	}

	lines := make([]ledger.InvoiceLine, 0, len(record.Items))
	for _, item := range record.Items {
		lines = append(lines, ledger.InvoiceLine{
			Description:    item.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: toMinorUnits(item.UnitPrice, record.OrderID),
			TaxRateID:      taxRateID,
		})
	}

	contactID, err := e.ledger.EnsureContact(ctx, ledger.ContactProfile{
		Reference: customer.ID,
		Name:      customer.Name,
		Email:     customer.Email,
		Country:   customer.Country,
	})
	if err != nil {
		return fmt.Errorf("ensuring ledger contact for customer %s: %w", customer.ID, err)
	}

	issueDate := time.Now()
	req := ledger.CombinedInvoiceRequest{
		ContactID: contactID,
		Reference: record.OrderID,
		Currency:  event.Currency,
		IssueDate: issueDate,
		DueDate:   issueDate.AddDate(0, 0, e.cfg.InvoiceDueDays),
		Lines:     lines,
	}

	invoiceID, err := e.ledger.CreateInvoice(ctx, req)
	if err != nil {
		return fmt.Errorf("creating invoice for order %s: %w", record.OrderID, err)
	}
	if err := e.ledger.SendInvoice(ctx, invoiceID, e.cfg.InvoiceMessage); err != nil {
		return fmt.Errorf("sending invoice %s for order %s: %w", invoiceID, record.OrderID, err)
	}

	log.Infof("[Reconcile] Invoiced order %s (invoice=%s, payment=%s, domestic=%t)",
		record.OrderID, invoiceID, event.PaymentID, isDomestic)
	return nil
}

// toMinorUnits scales a major-unit price by 100, exactly once and without
// rounding. A price with sub-cent precision indicates bad upstream data and
// is truncated with a warning.
func toMinorUnits(price decimal.Decimal, orderID string) int64 {
	cents := price.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		log.Warnf("[Reconcile] Order %s has sub-cent unit price %s, truncating", orderID, price)
	}
	return cents.IntPart()
}
