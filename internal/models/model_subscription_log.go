package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/fanpass/pkg/types"
)

// SubscriptionLog records every committed subscription transition.
// Use case: troubleshooting and reconciliation audits.
type SubscriptionLog struct {
	ID             string                         `gorm:"column:id;type:uuid;primaryKey"`
	AccountID      string                         `gorm:"column:account_id;type:uuid;index:idx_subscription_log_account_id,priority:1;not null"`
	SubscriptionID string                         `gorm:"column:subscription_id;type:uuid;index;not null"`
	Reason         types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb"`
	// After stores subscription data after the change in JSON format.
	After datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb"`
	// Extra stores additional context such as the processor event id and trigger source.
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb"`
	CreatedAt time.Time
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
