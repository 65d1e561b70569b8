package service

import (
	"context"
	"time"

	"rental-service/internal/models"
)

// EventPublisher publishes rental domain events. Implemented by
// broker.EventPublisher.
type EventPublisher interface {
	PublishOrderConfirmed(ctx context.Context, event *models.RentalOrderConfirmedEvent) error
	PublishStatusChanged(ctx context.Context, event *models.RentalStatusChangedEvent) error
	PublishDefectRegistered(ctx context.Context, event *models.DefectRegisteredEvent) error
	PublishOrderLate(ctx context.Context, event *models.RentalOrderLateEvent) error
}

// PricingCache caches the pricing rules of a template. Implemented by
// redisclient.Client.
type PricingCache interface {
	GetPricingRules(ctx context.Context, templateID int64) ([]models.PricingRule, bool, error)
	SetPricingRules(ctx context.Context, templateID int64, rules []models.PricingRule, ttl time.Duration) error
	InvalidatePricingRules(ctx context.Context, templateID int64) error
}

// IdempotencyKeys deduplicates client retries. Implemented by
// redisclient.Client.
type IdempotencyKeys interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}
