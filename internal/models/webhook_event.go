package models

import "time"

// WebhookEvent records one physical provider notification. The unique event
// key makes re-delivered events insert as no-ops, which is what suppresses
// duplicate processing at the ingress.
type WebhookEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	EventKey  string    `gorm:"type:varchar(191);not null;uniqueIndex"`
	JobID     string    `gorm:"type:varchar(36);index"`
	Status    string    `gorm:"type:varchar(32)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}
