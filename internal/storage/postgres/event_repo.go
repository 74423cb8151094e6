package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/printglide/renderqueue/internal/models"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Record inserts the event key, reporting false when the key was already
// seen. The unique index plus ON CONFLICT DO NOTHING makes this safe under
// concurrent redelivery.
func (r *WebhookEventRepository) Record(ctx context.Context, eventKey, jobID, status string) (bool, error) {
	event := models.WebhookEvent{
		EventKey: eventKey,
		JobID:    jobID,
		Status:   status,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&event)
	if res.Error != nil {
		return false, fmt.Errorf("record webhook event: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Forget deletes a recorded key so a redelivery of the same event is
// treated as fresh. Used when the transition behind the key failed to
// apply; deleting a key that is absent is a no-op.
func (r *WebhookEventRepository) Forget(ctx context.Context, eventKey string) error {
	if err := r.db.WithContext(ctx).
		Where("event_key = ?", eventKey).
		Delete(&models.WebhookEvent{}).Error; err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}
