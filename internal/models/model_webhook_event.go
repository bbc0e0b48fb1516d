package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventStatus string

const (
	WebhookEventStatusReceived WebhookEventStatus = "received"
	WebhookEventStatusHandled  WebhookEventStatus = "handled"
	WebhookEventStatusIgnored  WebhookEventStatus = "ignored"
	WebhookEventStatusFailed   WebhookEventStatus = "handle_failed"
)

// Done reports whether a redelivery of the event can be acknowledged without work.
func (s WebhookEventStatus) Done() bool {
	return s == WebhookEventStatusHandled || s == WebhookEventStatusIgnored
}

// WebhookEvent is one row per processor event id.
type WebhookEvent struct {
	ID         string             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	EventID    string             `gorm:"column:event_id;type:varchar(128);not null;uniqueIndex" json:"event_id"`
	EventType  string             `gorm:"column:event_type;type:varchar(128);not null" json:"event_type"`
	TraceID    string             `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	OccurredAt time.Time          `gorm:"column:occurred_at" json:"occurred_at"`
	Attempts   int                `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Data       datatypes.JSON     `gorm:"column:data;type:jsonb" json:"data"`
	Result     *datatypes.JSON    `gorm:"column:result;type:jsonb" json:"result"`
	Status     WebhookEventStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (WebhookEvent) TableName() string { return "webhook_event" }
