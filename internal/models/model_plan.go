package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fatflowers/fanpass/pkg/types"
)

// Plan is a catalog entry. Type is unique across the catalog.
type Plan struct {
	ID               string             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Type             types.PlanType     `gorm:"column:type;type:varchar(64);not null;uniqueIndex" json:"type"`
	Name             string             `gorm:"column:name;type:varchar(128);not null" json:"name"`
	BillingCycle     types.BillingCycle `gorm:"column:billing_cycle;type:varchar(32);not null" json:"billing_cycle"`
	Price            decimal.Decimal    `gorm:"column:price;type:numeric(12,2);not null" json:"price"`
	Currency         string             `gorm:"column:currency;type:varchar(8);not null" json:"currency"`
	DisplayRank      int                `gorm:"column:display_rank;not null;default:0" json:"display_rank"`
	Active           bool               `gorm:"column:active;not null" json:"active"`
	ProcessorPriceID string             `gorm:"column:processor_price_id;type:varchar(128)" json:"processor_price_id"`
	MaxScreens       int                `gorm:"column:max_screens;not null;default:1" json:"max_screens"`
	OfflineViewing   bool               `gorm:"column:offline_viewing;not null;default:false" json:"offline_viewing"`
	AdFree           bool               `gorm:"column:ad_free;not null;default:false" json:"ad_free"`
	GameVaultAccess  bool               `gorm:"column:game_vault_access;not null;default:false" json:"game_vault_access"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func (Plan) TableName() string {
	return "plan"
}

func (p *Plan) IsFree() bool {
	return p != nil && p.Type == types.PlanTypeFree
}
