package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkessels/paybridge/app/models"
)

func widgetItems(price string) []models.LineItem {
	vat := decimal.Zero
	return []models.LineItem{{
		Name:       "Widget",
		ExternalID: "w1",
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString(price),
		VAT:        &vat,
	}}
}

func TestOrderRepositoryUpsertCreates(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)
	ctx := context.Background()

	rec, err := repo.Upsert(ctx, "order-create-1", widgetItems("9.99"), "order_paid")
	require.NoError(t, err)

	assert.Equal(t, "order-create-1", rec.OrderID)
	assert.Equal(t, uint(1), rec.Version)
	assert.Equal(t, []string{"order_paid"}, []string(rec.WebhookTypesSeen))
	require.Len(t, rec.Items, 1)
	assert.True(t, rec.Items[0].UnitPrice.Equal(decimal.RequireFromString("9.99")))
}

func TestOrderRepositoryUpsertIdempotent(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, "order-idem-1", widgetItems("4.50"), "order_paid")
	require.NoError(t, err)

	second, err := repo.Upsert(ctx, "order-idem-1", widgetItems("4.50"), "order_paid")
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, models.LineItemsEqual(first.Items, second.Items))
	assert.Equal(t, []string{"order_paid"}, []string(second.WebhookTypesSeen))
	assert.Equal(t, first.Version+1, second.Version)
}

func TestOrderRepositoryTagUnionIsMonotonic(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "order-tags-1", widgetItems("1.00"), "order_paid")
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "order-tags-1", widgetItems("1.00"), "upsell_paid")
	require.NoError(t, err)
	rec, err := repo.Upsert(ctx, "order-tags-1", widgetItems("1.00"), "order_paid")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"order_paid", "upsell_paid"}, []string(rec.WebhookTypesSeen))
}

func TestOrderRepositoryConflictLastWriteWins(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "order-conflict-1", widgetItems("10.00"), "order_paid")
	require.NoError(t, err)

	rec, err := repo.Upsert(ctx, "order-conflict-1", widgetItems("12.00"), "upsell_paid")
	require.NoError(t, err)

	require.Len(t, rec.Items, 1)
	assert.True(t, rec.Items[0].UnitPrice.Equal(decimal.RequireFromString("12.00")))
}

func TestOrderRepositoryConflictCustomStrategy(t *testing.T) {
	db := resolveTestDB(t)
	keepExisting := func(existing, incoming []models.LineItem) []models.LineItem {
		return existing
	}
	repo := NewOrderRepository(db, keepExisting)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "order-conflict-2", widgetItems("10.00"), "order_paid")
	require.NoError(t, err)

	rec, err := repo.Upsert(ctx, "order-conflict-2", widgetItems("12.00"), "upsell_paid")
	require.NoError(t, err)

	require.Len(t, rec.Items, 1)
	assert.True(t, rec.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
}

func TestOrderRepositoryGetNotFound(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)

	_, err := repo.Get(context.Background(), "order-missing")
	assert.True(t, errors.Is(err, ErrOrderNotFound))
}

func TestOrderRepositoryConcurrentUpsertsSameOrder(t *testing.T) {
	db := resolveTestDB(t)
	repo := NewOrderRepository(db, nil)
	ctx := context.Background()

	const writers = 4
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			tag := fmt.Sprintf("tag_%d", n)
			_, errs[n] = repo.Upsert(ctx, "order-race-1", widgetItems("5.00"), tag)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		// A writer may exhaust its version-race budget under contention,
		// but it must fail with a store error instead of corrupting state.
		assert.True(t, errors.Is(err, ErrStore))
	}
	require.GreaterOrEqual(t, successes, 1)

	rec, err := repo.Get(ctx, "order-race-1")
	require.NoError(t, err)
	assert.Equal(t, uint(successes), rec.Version)
	require.Len(t, rec.Items, 1)
	assert.True(t, rec.Items[0].UnitPrice.Equal(decimal.RequireFromString("5.00")))
	assert.Len(t, rec.WebhookTypesSeen, successes)
}
