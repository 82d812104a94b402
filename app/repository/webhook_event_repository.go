package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mkessels/paybridge/app/models"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates the inbound-delivery journal.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	err := r.db.WithContext(ctx).Create(event).Error
	if err == nil {
		return true, event, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil, fmt.Errorf("%w: record webhook event: %v", ErrStore, err)
	}

	var existing models.WebhookEvent
	lookupErr := r.db.WithContext(ctx).
		Where("source = ? AND provider_event_id = ?", event.Source, event.ProviderEventID).
		First(&existing).Error
	if lookupErr != nil {
		return false, nil, fmt.Errorf("%w: load duplicate webhook event: %v", ErrStore, lookupErr)
	}
	return false, &existing, nil
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, id uint, outcome string, procErr error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"outcome":      outcome,
		"processed_at": &now,
	}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	} else {
		updates["processing_error"] = ""
	}

	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		return fmt.Errorf("%w: mark webhook event %d processed: %v", ErrStore, id, err)
	}
	return nil
}
