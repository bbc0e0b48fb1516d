package models

import (
	"time"

	"github.com/fatflowers/fanpass/pkg/types"
)

// Entitlement is the cached snapshot of what an account may do. It is only
// written by committed subscription transitions and can always be rebuilt from
// the current Subscription and its Plan.
type Entitlement struct {
	SubscriptionStatus types.SubscriptionStatus `gorm:"column:subscription_status;type:varchar(32);not null;default:'none'" json:"subscription_status"`
	PlanID             *string                  `gorm:"column:plan_id;type:varchar(64)" json:"plan_id"`
	PlanType           types.PlanType           `gorm:"column:plan_type;type:varchar(64);not null;default:'FREE'" json:"plan_type"`
	SubscriptionExpiry *time.Time               `gorm:"column:subscription_expiry" json:"subscription_expiry"`
	GracePeriodEnd     *time.Time               `gorm:"column:grace_period_end" json:"grace_period_end"`
	AutoRenewal        bool                     `gorm:"column:auto_renewal;not null;default:false" json:"auto_renewal"`
	LastBillingDate    *time.Time               `gorm:"column:last_billing_date" json:"last_billing_date"`
	NextBillingDate    *time.Time               `gorm:"column:next_billing_date" json:"next_billing_date"`
	MaxScreens         int                      `gorm:"column:max_screens;not null;default:1" json:"max_screens"`
	OfflineViewing     bool                     `gorm:"column:offline_viewing;not null;default:false" json:"offline_viewing"`
	GameVaultAccess    bool                     `gorm:"column:game_vault_access;not null;default:false" json:"game_vault_access"`
	AdFree             bool                     `gorm:"column:ad_free;not null;default:false" json:"ad_free"`
	QualityTier        types.QualityTier        `gorm:"column:quality_tier;type:varchar(32);not null;default:'standard'" json:"quality_tier"`
}

// Columns returns the snapshot as an update map so zero values are written too.
func (e Entitlement) Columns() map[string]any {
	return map[string]any{
		"subscription_status": e.SubscriptionStatus,
		"plan_id":             e.PlanID,
		"plan_type":           e.PlanType,
		"subscription_expiry": e.SubscriptionExpiry,
		"grace_period_end":    e.GracePeriodEnd,
		"auto_renewal":        e.AutoRenewal,
		"last_billing_date":   e.LastBillingDate,
		"next_billing_date":   e.NextBillingDate,
		"max_screens":         e.MaxScreens,
		"offline_viewing":     e.OfflineViewing,
		"game_vault_access":   e.GameVaultAccess,
		"ad_free":             e.AdFree,
		"quality_tier":        e.QualityTier,
	}
}

type Account struct {
	ID           string      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Email        string      `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	PasswordHash string      `gorm:"column:password_hash;type:varchar(255)" json:"-"`
	Entitlement  Entitlement `gorm:"embedded" json:"entitlement"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
