// Package repo implements the data persistence layer for the order store,
// backed by GORM. This file provides repository helpers for the WebhookEvent
// model used to suppress duplicate processing of gateway webhook deliveries.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/resellplug/storefront-backend/internal/domain"
)

// ErrDuplicate indicates that a webhook event id has already been recorded.
var ErrDuplicate = errors.New("duplicate")

// WebhookEventSeen reports whether an event id has already been recorded.
func WebhookEventSeen(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordWebhookEvent inserts the event id and returns ErrDuplicate when the
// gateway redelivers an event that was already processed.
func RecordWebhookEvent(ctx context.Context, db *gorm.DB, eventID, eventType string) error {
	rec := &domain.WebhookEvent{
		EventID:   eventID,
		EventType: eventType,
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
