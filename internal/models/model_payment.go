package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/fanpass/pkg/types"
)

// Payment is a single charge attempt. Rows are append-only.
type Payment struct {
	ID             string              `gorm:"column:id;type:uuid;primaryKey;index:idx_payment_account_id,priority:2,sort:desc" json:"id"`
	AccountID      string              `gorm:"column:account_id;type:uuid;not null;index:idx_payment_account_id,priority:1" json:"account_id"`
	SubscriptionID string              `gorm:"column:subscription_id;type:uuid;not null;index" json:"subscription_id"`
	ExternalID     string              `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex" json:"-"`
	Kind           types.PaymentKind   `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Status         types.PaymentStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency       string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	PaidAt         *time.Time          `gorm:"column:paid_at" json:"paid_at"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (Payment) TableName() string {
	return "payment"
}
