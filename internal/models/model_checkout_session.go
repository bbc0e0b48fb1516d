package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/fanpass/pkg/types"
)

// CheckoutSession is persisted before redirecting to the processor and only
// completed by the webhook that confirms it.
type CheckoutSession struct {
	ID             string                                    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ExternalID     string                                    `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex" json:"-"`
	AccountID      string                                    `gorm:"column:account_id;type:uuid;not null;index" json:"account_id"`
	PlanID         string                                    `gorm:"column:plan_id;type:uuid;not null" json:"plan_id"`
	Status         types.CheckoutSessionStatus               `gorm:"column:status;type:varchar(32);not null;index:idx_checkout_status_expires,priority:1" json:"status"`
	Amount         decimal.Decimal                           `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency       string                                    `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	URL            string                                    `gorm:"column:url;type:text" json:"url"`
	ExpiresAt      time.Time                                 `gorm:"column:expires_at;not null;index:idx_checkout_status_expires,priority:2" json:"expires_at"`
	SubscriptionID *string                                   `gorm:"column:subscription_id;type:uuid" json:"subscription_id"`
	Metadata       datatypes.JSONType[*SubscriptionMetadata] `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CompletedAt    *time.Time                                `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt      time.Time                                 `json:"created_at"`
	UpdatedAt      time.Time                                 `json:"updated_at"`
}

func (CheckoutSession) TableName() string {
	return "checkout_session"
}
