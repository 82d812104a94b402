package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mkessels/paybridge/app/models"
)

// upsertRetries bounds the optimistic-lock retry loop. Contention on a single
// order id is rare (one shop stream per order), so a lost race twice in a row
// already indicates something unusual.
const upsertRetries = 3

type orderRepository struct {
	db         *gorm.DB
	onConflict ConflictStrategy
}

// LastWriteWins is the default conflict strategy: the incoming items replace
// the stored ones.
func LastWriteWins(existing, incoming []models.LineItem) []models.LineItem {
	return incoming
}

// NewOrderRepository creates the MySQL-backed order store. A nil strategy
// selects LastWriteWins.
func NewOrderRepository(db *gorm.DB, onConflict ConflictStrategy) OrderRepository {
	if onConflict == nil {
		onConflict = LastWriteWins
	}
	return &orderRepository{db: db, onConflict: onConflict}
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (*models.OrderRecord, error) {
	var rec models.OrderRecord
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get order %s: %v", ErrStore, orderID, err)
	}
	return &rec, nil
}

// Upsert is a read-compare-write guarded by a version counter. A concurrent
// writer for the same order id makes the conditional update touch zero rows,
// in which case the loop re-reads and merges again instead of losing the
// update.
func (r *orderRepository) Upsert(ctx context.Context, orderID string, items []models.LineItem, tag string) (*models.OrderRecord, error) {
	for attempt := 0; attempt < upsertRetries; attempt++ {
		var rec models.OrderRecord
		err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&rec).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = models.OrderRecord{
				OrderID:          orderID,
				Items:            datatypes.NewJSONSlice(items),
				WebhookTypesSeen: datatypes.NewJSONSlice([]string{tag}),
				Version:          1,
			}
			createErr := r.db.WithContext(ctx).Create(&rec).Error
			if createErr == nil {
				return &rec, nil
			}
			if errors.Is(createErr, gorm.ErrDuplicatedKey) {
				// Lost the insert race; fall through to the merge path.
				continue
			}
			return nil, fmt.Errorf("%w: create order %s: %v", ErrStore, orderID, createErr)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read order %s: %v", ErrStore, orderID, err)
		}

		if !models.LineItemsEqual(rec.Items, items) {
			log.Warnf("[OrderStore] conflicting items for order %s (tag=%s), applying conflict strategy", orderID, tag)
			rec.Items = datatypes.NewJSONSlice(r.onConflict(rec.Items, items))
		} else {
			rec.Items = datatypes.NewJSONSlice(items)
		}
		rec.UnionTag(tag)

		res := r.db.WithContext(ctx).Model(&models.OrderRecord{}).
			Where("order_id = ? AND version = ?", orderID, rec.Version).
			Updates(map[string]interface{}{
				"items":              rec.Items,
				"webhook_types_seen": rec.WebhookTypesSeen,
				"version":            rec.Version + 1,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("%w: update order %s: %v", ErrStore, orderID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Version moved under us; retry against the fresh record.
			continue
		}
		rec.Version++
		return &rec, nil
	}
	return nil, fmt.Errorf("%w: upsert for order %s lost %d consecutive version races", ErrStore, orderID, upsertRetries)
}
