package controllers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/mkessels/paybridge/app/models"
	"github.com/mkessels/paybridge/app/repository"
	"github.com/mkessels/paybridge/internal/pkg/reconcile"
	"github.com/mkessels/paybridge/internal/pkg/webhook"
)

const processTimeout = 30 * time.Second

// WebhookController receives both upstream streams, journals every delivery
// and hands normalized events to the reconciliation engine.
type WebhookController struct {
	engine *reconcile.Engine
	events repository.WebhookEventRepository
}

func NewWebhookController(engine *reconcile.Engine, events repository.WebhookEventRepository) *WebhookController {
	return &WebhookController{engine: engine, events: events}
}

// HandleOrderWebhook ingests shop deliveries. Duplicate deliveries are
// expected and re-run the idempotent upsert.
func (wc *WebhookController) HandleOrderWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	result := webhook.ParseOrderWebhook(rawBody)

	_, stored, err := wc.events.Record(ctx, &models.WebhookEvent{
		Source:          models.WebhookSourceOrders,
		ProviderEventID: payloadDigest(rawBody),
		EventType:       result.EventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to journal order delivery: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "journal failure"})
	}

	switch result.Kind {
	case webhook.KindMalformed:
		_ = wc.events.MarkProcessed(ctx, stored.ID, models.WebhookOutcomeMalformed, errors.New(result.Reason))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": result.Reason})

	case webhook.KindIgnored:
		_ = wc.events.MarkProcessed(ctx, stored.ID, models.WebhookOutcomeIgnored, nil)
		return c.JSON(fiber.Map{"status": "ignored"})

	case webhook.KindOrderCreated:
		record, perr := wc.engine.ProcessOrder(ctx, result.Order)
		if perr != nil {
			_ = wc.events.MarkProcessed(ctx, stored.ID, "", perr)
			log.Errorf("[Webhook] Order upsert failed: %v", perr)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order store failure"})
		}
		_ = wc.events.MarkProcessed(ctx, stored.ID, models.WebhookOutcomeStored, nil)
		return c.JSON(fiber.Map{"status": "stored", "order_id": record.OrderID})

	default:
		_ = wc.events.MarkProcessed(ctx, stored.ID, "", errors.New("unexpected classification"))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "unexpected classification"})
	}
}

// HandlePaymentWebhook ingests payment-provider deliveries. A redelivery of
// an already-invoiced event is acknowledged without a second invoice run.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.Body()...)
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	result := webhook.ParsePaymentWebhook(rawBody)

	providerEventID := result.EventID
	if providerEventID == "" {
		providerEventID = payloadDigest(rawBody)
	}

	created, stored, err := wc.events.Record(ctx, &models.WebhookEvent{
		Source:          models.WebhookSourcePayments,
		ProviderEventID: providerEventID,
		EventType:       result.EventType,
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Webhook] Failed to journal payment delivery: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "journal failure"})
	}
	if !created && stored.ProcessedAt != nil && stored.Outcome == models.WebhookOutcomeInvoiced {
		log.Infof("[Webhook] Duplicate payment event %s already invoiced, acknowledging", providerEventID)
		return c.JSON(fiber.Map{"status": "duplicate", "outcome": stored.Outcome})
	}

	switch result.Kind {
	case webhook.KindMalformed:
		_ = wc.events.MarkProcessed(ctx, stored.ID, models.WebhookOutcomeMalformed, errors.New(result.Reason))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": result.Reason})

	case webhook.KindIgnored:
		_ = wc.events.MarkProcessed(ctx, stored.ID, models.WebhookOutcomeIgnored, nil)
		return c.JSON(fiber.Map{"status": "ignored"})

	case webhook.KindNeedsReview, webhook.KindPaymentConfirmed:
		outcome, perr := wc.engine.ProcessPayment(ctx, *result.Payment, 0)
		if perr != nil {
			_ = wc.events.MarkProcessed(ctx, stored.ID, "", perr)
			log.Errorf("[Webhook] Payment processing failed: %v", perr)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing failure"})
		}
		_ = wc.events.MarkProcessed(ctx, stored.ID, journalOutcome(outcome), nil)
		return c.JSON(fiber.Map{"status": string(outcome)})

	default:
		_ = wc.events.MarkProcessed(ctx, stored.ID, "", errors.New("unexpected classification"))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "unexpected classification"})
	}
}

func journalOutcome(outcome reconcile.Outcome) string {
	switch outcome {
	case reconcile.OutcomeInvoiced:
		return models.WebhookOutcomeInvoiced
	case reconcile.OutcomeRetryQueued:
		return models.WebhookOutcomeRetryQueued
	case reconcile.OutcomeDeadLettered:
		return models.WebhookOutcomeDeadLetter
	case reconcile.OutcomeNotified:
		return models.WebhookOutcomeNotified
	}
	return string(outcome)
}

// payloadDigest is the journal dedup key for deliveries without a provider
// event id.
func payloadDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
