package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/fatflowers/fanpass/pkg/types"
)

// SubscriptionMetadata keeps the checkout context of a purchase for auditing.
type SubscriptionMetadata struct {
	IsRenewal      bool                     `json:"is_renewal,omitempty"`
	PreviousPlan   types.PlanType           `json:"previous_plan,omitempty"`
	PreviousStatus types.SubscriptionStatus `json:"previous_status,omitempty"`
	OperatorID     string                   `json:"operator_id,omitempty"`
}

// Subscription is one purchased term. Status is only changed through the
// subscription state machine, which guards every write with Version.
type Subscription struct {
	ID        string                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AccountID string                   `gorm:"column:account_id;type:uuid;not null;index:idx_subscription_account_created,priority:1" json:"account_id"`
	PlanID    string                   `gorm:"column:plan_id;type:uuid;not null;index" json:"plan_id"`
	Status    types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscription_status_end,priority:1" json:"status"`
	StartDate time.Time                `gorm:"column:start_date;not null" json:"start_date"`
	EndDate   time.Time                `gorm:"column:end_date;not null;index:idx_subscription_status_end,priority:2" json:"end_date"`
	// GracePeriodEnd is set if and only if Status is grace_period.
	GracePeriodEnd *time.Time          `gorm:"column:grace_period_end" json:"grace_period_end"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null;default:0" json:"amount"`
	Currency       string              `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	PaymentMethod  types.PaymentMethod `gorm:"column:payment_method;type:varchar(32);not null" json:"payment_method"`
	// ExternalID correlates the row with the processor's subscription.
	ExternalID         *string    `gorm:"column:external_id;type:varchar(128);index" json:"-"`
	CheckoutSessionID  *string    `gorm:"column:checkout_session_id;type:varchar(128);uniqueIndex" json:"-"`
	RenewalCount       int        `gorm:"column:renewal_count;not null;default:0" json:"renewal_count"`
	AutoRenewal        bool       `gorm:"column:auto_renewal;not null;default:false" json:"auto_renewal"`
	LastBillingDate    *time.Time `gorm:"column:last_billing_date" json:"last_billing_date"`
	NextBillingDate    *time.Time `gorm:"column:next_billing_date" json:"next_billing_date"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`
	CancellationReason *string    `gorm:"column:cancellation_reason;type:varchar(128)" json:"cancellation_reason"`
	Version            int64      `gorm:"column:version;not null;default:1" json:"version"`
	// LastEventID and LastEventAt record the newest processor event applied.
	LastEventID *string                                   `gorm:"column:last_event_id;type:varchar(128)" json:"-"`
	LastEventAt *time.Time                                `gorm:"column:last_event_at" json:"-"`
	Metadata    datatypes.JSONType[*SubscriptionMetadata] `gorm:"column:metadata;type:jsonb" json:"metadata"`
	CreatedAt   time.Time                                 `json:"created_at"`
	UpdatedAt   time.Time                                 `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// MutableColumns lists every column a transition may change.
func (s *Subscription) MutableColumns() map[string]any {
	return map[string]any{
		"status":              s.Status,
		"end_date":            s.EndDate,
		"grace_period_end":    s.GracePeriodEnd,
		"renewal_count":       s.RenewalCount,
		"auto_renewal":        s.AutoRenewal,
		"last_billing_date":   s.LastBillingDate,
		"next_billing_date":   s.NextBillingDate,
		"cancelled_at":        s.CancelledAt,
		"cancellation_reason": s.CancellationReason,
		"version":             s.Version,
		"last_event_id":       s.LastEventID,
		"last_event_at":       s.LastEventAt,
	}
}
