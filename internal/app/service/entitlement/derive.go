// Package entitlement maps a plan and a subscription status to the concrete
// features an account holds. Everything here is free of side effects.
package entitlement

import (
	"time"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/types"
)

type Bundle struct {
	MaxScreens      int               `json:"max_screens"`
	OfflineViewing  bool              `json:"offline_viewing"`
	GameVaultAccess bool              `json:"game_vault_access"`
	AdFree          bool              `json:"ad_free"`
	QualityTier     types.QualityTier `json:"quality_tier"`
}

// FreeBundle is used when the catalog's FREE plan is unavailable.
var FreeBundle = Bundle{MaxScreens: 1, QualityTier: types.QualityTierStandard}

// Deriver computes bundles against a fixed FREE fallback.
type Deriver struct {
	Free Bundle
}

// NewDeriver uses free as the fallback bundle; a nil plan keeps FreeBundle.
func NewDeriver(free *models.Plan) Deriver {
	if free == nil {
		return Deriver{Free: FreeBundle}
	}
	return Deriver{Free: PlanBundle(free)}
}

// Derive returns plan's bundle while status keeps access, and the FREE bundle otherwise.
func (d Deriver) Derive(plan *models.Plan, status types.SubscriptionStatus) Bundle {
	if plan == nil || !status.Entitled() {
		return d.Free
	}
	return PlanBundle(plan)
}

// Derive uses the built-in FREE bundle.
func Derive(plan *models.Plan, status types.SubscriptionStatus) Bundle {
	return Deriver{Free: FreeBundle}.Derive(plan, status)
}

// PlanBundle is the feature bundle plan grants while it is held.
func PlanBundle(plan *models.Plan) Bundle {
	screens := plan.MaxScreens
	if screens < 1 {
		screens = 1
	}
	return Bundle{
		MaxScreens:      screens,
		OfflineViewing:  plan.OfflineViewing,
		GameVaultAccess: plan.GameVaultAccess,
		AdFree:          plan.AdFree,
		QualityTier:     Quality(plan),
	}
}

// Quality maps FREE to ad supported standard, the multi-screen offline tier to 4K
// and any other paid tier to HD.
func Quality(plan *models.Plan) types.QualityTier {
	switch {
	case plan == nil || plan.IsFree():
		return types.QualityTierStandard
	case plan.OfflineViewing && plan.MaxScreens >= 2:
		return types.QualityTierUHD
	default:
		return types.QualityTierHD
	}
}

// Snapshot projects the account's cached entitlement from its current
// subscription. A nil sub means the account never subscribed.
func (d Deriver) Snapshot(sub *models.Subscription, plan, free *models.Plan) models.Entitlement {
	if sub == nil || !sub.Status.Entitled() {
		e := models.Entitlement{
			SubscriptionStatus: types.SubscriptionStatusNone,
			PlanType:           types.PlanTypeFree,
		}
		if sub != nil {
			e.SubscriptionStatus = sub.Status
		}
		if free != nil {
			e.PlanID = &free.ID
		}
		return withBundle(e, d.Free)
	}

	e := models.Entitlement{
		SubscriptionStatus: sub.Status,
		PlanID:             &plan.ID,
		PlanType:           plan.Type,
		SubscriptionExpiry: timePtr(sub.EndDate),
		GracePeriodEnd:     sub.GracePeriodEnd,
		AutoRenewal:        sub.AutoRenewal,
		LastBillingDate:    sub.LastBillingDate,
		NextBillingDate:    sub.NextBillingDate,
	}
	if !sub.Status.Live() {
		// soft cancelled: access continues but no billing is pending
		e.NextBillingDate = nil
	}
	return withBundle(e, d.Derive(plan, sub.Status))
}

func withBundle(e models.Entitlement, b Bundle) models.Entitlement {
	e.MaxScreens = b.MaxScreens
	e.OfflineViewing = b.OfflineViewing
	e.GameVaultAccess = b.GameVaultAccess
	e.AdFree = b.AdFree
	e.QualityTier = b.QualityTier
	return e
}

// FromSnapshot reads the bundle back out of a cached snapshot.
func FromSnapshot(e models.Entitlement) Bundle {
	return Bundle{
		MaxScreens:      e.MaxScreens,
		OfflineViewing:  e.OfflineViewing,
		GameVaultAccess: e.GameVaultAccess,
		AdFree:          e.AdFree,
		QualityTier:     e.QualityTier,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
