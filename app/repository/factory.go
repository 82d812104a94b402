package repository

import (
	"gorm.io/gorm"
)

// NewRepositories wires every repository implementation against one DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Orders:        NewOrderRepository(db, nil),
		WebhookEvents: NewWebhookEventRepository(db),
	}
}
