package plan

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/testutil"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

func newService(t *testing.T) (*Service, *gorm.DB) {
	db := testutil.NewDB(t)
	svc := NewService(db, zap.NewNop().Sugar())
	require.NoError(t, svc.Seed(context.Background(), config.DefaultPlans))
	return svc, db
}

func addSubscription(t *testing.T, db *gorm.DB, planID string, status types.SubscriptionStatus) {
	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.Subscription{
		ID:            tool.GenerateUUIDV7(),
		AccountID:     tool.GenerateUUIDV7(),
		PlanID:        planID,
		Status:        status,
		StartDate:     now,
		EndDate:       now.Add(time.Hour),
		Currency:      "USD",
		PaymentMethod: types.PaymentMethodProcessor,
		Version:       1,
	}).Error)
}

func TestSeed_IsIdempotent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Seed(ctx, config.DefaultPlans))

	plans, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, len(config.DefaultPlans))

	mega, err := svc.GetByType(ctx, types.PlanTypeMegaFan)
	require.NoError(t, err)
	require.True(t, mega.Price.Equal(decimal.RequireFromString("9.99")))
	require.True(t, mega.OfflineViewing)
}

func TestListActive_OrderedByRank(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, &models.Plan{Type: "LEGACY", Name: "Legacy", BillingCycle: types.BillingCycleAnnually, Price: decimal.RequireFromString("30"), Currency: "USD", DisplayRank: 5, MaxScreens: 1, Active: false})
	require.NoError(t, err)

	plans, err := svc.ListActive(ctx)
	require.NoError(t, err)
	got := make([]types.PlanType, 0, len(plans))
	for _, p := range plans {
		got = append(got, p.Type)
	}
	require.Equal(t, []types.PlanType{types.PlanTypeFree, types.PlanTypeFan, types.PlanTypeMegaFan}, got)
}

func TestCreate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, &models.Plan{Type: "fan", Name: "Dup", BillingCycle: types.BillingCycleMonthly, Price: decimal.NewFromInt(1), Currency: "USD", MaxScreens: 1})
	require.ErrorIs(t, err, ErrPlanTypeTaken)

	_, err = svc.Create(ctx, &models.Plan{Type: "WEEKLY", Name: "Weekly", BillingCycle: "weekly", Price: decimal.NewFromInt(1), Currency: "USD", MaxScreens: 1})
	require.ErrorIs(t, err, ErrInvalidPlan)

	_, err = svc.Create(ctx, &models.Plan{Type: "NEG", Name: "Neg", BillingCycle: types.BillingCycleMonthly, Price: decimal.NewFromInt(-1), Currency: "USD", MaxScreens: 1})
	require.ErrorIs(t, err, ErrInvalidPlan)

	p, err := svc.Create(ctx, &models.Plan{Type: "family", Name: "Family", BillingCycle: types.BillingCycleAnnually, Price: decimal.NewFromInt(99), Currency: "USD", MaxScreens: 4, Active: true})
	require.NoError(t, err)
	require.Equal(t, types.PlanType("FAMILY"), p.Type)

	got, err := svc.GetByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.MaxScreens)
}

func TestGet_NotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.GetByID(context.Background(), tool.GenerateUUIDV7())
	require.ErrorIs(t, err, ErrPlanNotFound)
	_, err = svc.GetByType(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestUpdate(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	free, err := svc.FreePlan(ctx)
	require.NoError(t, err)
	fan, err := svc.GetByType(ctx, types.PlanTypeFan)
	require.NoError(t, err)

	t.Run("free plan cannot be renamed or deactivated", func(t *testing.T) {
		renamed := types.PlanType("BASIC")
		_, err := svc.Update(ctx, free.ID, &UpdateRequest{Type: &renamed})
		require.ErrorIs(t, err, ErrSoleFreePlan)

		off := false
		_, err = svc.Update(ctx, free.ID, &UpdateRequest{Active: &off})
		require.ErrorIs(t, err, ErrSoleFreePlan)
	})

	t.Run("price change allowed while referenced", func(t *testing.T) {
		addSubscription(t, db, fan.ID, types.SubscriptionStatusActive)
		price := decimal.RequireFromString("5.49")
		p, err := svc.Update(ctx, fan.ID, &UpdateRequest{Price: &price})
		require.NoError(t, err)
		require.True(t, p.Price.Equal(price))
	})

	t.Run("rename blocked while referenced by live subscriptions", func(t *testing.T) {
		renamed := types.PlanType("SUPER_FAN")
		_, err := svc.Update(ctx, fan.ID, &UpdateRequest{Type: &renamed})
		require.ErrorIs(t, err, ErrPlanInUse)
	})

	t.Run("rename onto an existing type", func(t *testing.T) {
		p, err := svc.Create(ctx, &models.Plan{Type: "SOLO", Name: "Solo", BillingCycle: types.BillingCycleMonthly, Price: decimal.NewFromInt(3), Currency: "USD", MaxScreens: 1, Active: true})
		require.NoError(t, err)
		taken := types.PlanTypeMegaFan
		_, err = svc.Update(ctx, p.ID, &UpdateRequest{Type: &taken})
		require.ErrorIs(t, err, ErrPlanTypeTaken)

		fresh := types.PlanType("SOLO_PLUS")
		p, err = svc.Update(ctx, p.ID, &UpdateRequest{Type: &fresh})
		require.NoError(t, err)
		require.Equal(t, fresh, p.Type)
	})
}

func TestUpdate_ReprojectsHolders(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	fan, err := svc.GetByType(ctx, types.PlanTypeFan)
	require.NoError(t, err)
	free, err := svc.FreePlan(ctx)
	require.NoError(t, err)

	holder := testutil.CreateAccount(t, db, "holder@example.com")
	bystander := testutil.CreateAccount(t, db, "bystander@example.com")
	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.Subscription{
		ID:            tool.GenerateUUIDV7(),
		AccountID:     holder.ID,
		PlanID:        fan.ID,
		Status:        types.SubscriptionStatusActive,
		StartDate:     now,
		EndDate:       now.AddDate(0, 1, 0),
		Currency:      "USD",
		PaymentMethod: types.PaymentMethodProcessor,
		AutoRenewal:   true,
		Version:       1,
	}).Error)

	screens, offline := 4, true
	_, err = svc.Update(ctx, fan.ID, &UpdateRequest{MaxScreens: &screens, OfflineViewing: &offline})
	require.NoError(t, err)

	got := testutil.ReloadAccount(t, db, holder.ID).Entitlement
	require.Equal(t, types.SubscriptionStatusActive, got.SubscriptionStatus)
	require.Equal(t, types.PlanTypeFan, got.PlanType)
	require.Equal(t, 4, got.MaxScreens)
	require.True(t, got.OfflineViewing)
	require.Equal(t, types.QualityTierUHD, got.QualityTier)

	require.Equal(t, 1, testutil.ReloadAccount(t, db, bystander.ID).Entitlement.MaxScreens)

	adFree := true
	_, err = svc.Update(ctx, free.ID, &UpdateRequest{AdFree: &adFree})
	require.NoError(t, err)
	require.True(t, testutil.ReloadAccount(t, db, bystander.ID).Entitlement.AdFree)
	require.Equal(t, 4, testutil.ReloadAccount(t, db, holder.ID).Entitlement.MaxScreens)
}

func TestDelete(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	free, _ := svc.FreePlan(ctx)
	mega, _ := svc.GetByType(ctx, types.PlanTypeMegaFan)
	fan, _ := svc.GetByType(ctx, types.PlanTypeFan)

	require.ErrorIs(t, svc.Delete(ctx, free.ID), ErrSoleFreePlan)

	// history alone blocks deletion
	addSubscription(t, db, mega.ID, types.SubscriptionStatusExpired)
	require.ErrorIs(t, svc.Delete(ctx, mega.ID), ErrPlanInUse)

	require.NoError(t, svc.Delete(ctx, fan.ID))
	_, err := svc.GetByID(ctx, fan.ID)
	require.ErrorIs(t, err, ErrPlanNotFound)
	require.ErrorIs(t, svc.Delete(ctx, fan.ID), ErrPlanNotFound)
}
