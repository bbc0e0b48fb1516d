package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

// SeedPlans inserts the default catalog and returns it keyed by type.
func SeedPlans(t *testing.T, db *gorm.DB) map[types.PlanType]*models.Plan {
	t.Helper()
	plans := make(map[types.PlanType]*models.Plan, len(config.DefaultPlans))
	for _, seed := range config.DefaultPlans {
		p := &models.Plan{
			ID:               tool.GenerateUUIDV7(),
			Type:             seed.Type,
			Name:             seed.Name,
			BillingCycle:     seed.BillingCycle,
			Price:            seed.PriceDecimal(),
			Currency:         seed.Currency,
			DisplayRank:      seed.DisplayRank,
			Active:           true,
			ProcessorPriceID: "pri_" + string(seed.Type),
			MaxScreens:       seed.MaxScreens,
			OfflineViewing:   seed.OfflineViewing,
			AdFree:           seed.AdFree,
			GameVaultAccess:  seed.GameVaultAccess,
		}
		require.NoError(t, db.Create(p).Error)
		plans[p.Type] = p
	}
	return plans
}

// CreateAccount inserts an account holding the FREE snapshot.
func CreateAccount(t *testing.T, db *gorm.DB, email string) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:    tool.GenerateUUIDV7(),
		Email: email,
		Entitlement: models.Entitlement{
			SubscriptionStatus: types.SubscriptionStatusNone,
			PlanType:           types.PlanTypeFree,
			MaxScreens:         1,
			QualityTier:        types.QualityTierStandard,
		},
	}
	require.NoError(t, db.Create(a).Error)
	return a
}

// ReloadAccount reads the account back from the database.
func ReloadAccount(t *testing.T, db *gorm.DB, id string) *models.Account {
	t.Helper()
	var a models.Account
	require.NoError(t, db.Where("id = ?", id).First(&a).Error)
	return &a
}

// CountRows counts the rows of model matching query.
func CountRows(t *testing.T, db *gorm.DB, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
