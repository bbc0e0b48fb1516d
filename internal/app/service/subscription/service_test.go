package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/testutil"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

const day = 24 * time.Hour

type fixture struct {
	db     *gorm.DB
	svc    *Service
	plans  map[types.PlanType]*models.Plan
	events *testutil.RecordingPublisher
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	f := &fixture{
		db:     db,
		plans:  testutil.SeedPlans(t, db),
		events: &testutil.RecordingPublisher{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(db, config.Defaults().Billing, f.events, nil, zap.NewNop().Sugar())
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) subscribe(t *testing.T, accountID string, planType types.PlanType) *models.Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), &CreateRequest{
		AccountID:  accountID,
		PlanID:     f.plans[planType].ID,
		ExternalID: "sub_" + tool.GenerateUUIDV7(),
		Payment:    &PaymentInput{ExternalID: "txn_" + tool.GenerateUUIDV7(), Amount: f.plans[planType].Price},
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) reload(t *testing.T, id string) *models.Subscription {
	t.Helper()
	sub, err := f.svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestCreate_ActivatesAndProjectsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	fan := f.plans[types.PlanTypeFan]

	require.NoError(t, f.db.Create(&models.CheckoutSession{
		ID: tool.GenerateUUIDV7(), ExternalID: "chk_1", AccountID: acc.ID, PlanID: fan.ID,
		Status: types.CheckoutSessionStatusPending, Amount: fan.Price, Currency: "USD", ExpiresAt: f.now.Add(day),
	}).Error)

	sub, err := f.svc.Create(ctx, &CreateRequest{
		AccountID:         acc.ID,
		PlanID:            fan.ID,
		ExternalID:        "sub_1",
		CheckoutSessionID: "chk_1",
		Payment:           &PaymentInput{ExternalID: "txn_1", Amount: fan.Price, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, sub.Status)
	assert.True(t, sub.EndDate.Equal(f.now.Add(30*day)))
	require.NotNil(t, sub.NextBillingDate)
	assert.True(t, sub.NextBillingDate.Equal(sub.EndDate))
	assert.True(t, sub.AutoRenewal)
	assert.Nil(t, sub.GracePeriodEnd)

	got := testutil.ReloadAccount(t, f.db, acc.ID).Entitlement
	assert.Equal(t, types.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, types.PlanTypeFan, got.PlanType)
	assert.True(t, got.AdFree)
	assert.Equal(t, types.QualityTierHD, got.QualityTier)
	require.NotNil(t, got.SubscriptionExpiry)
	assert.True(t, got.SubscriptionExpiry.Equal(sub.EndDate))

	var session models.CheckoutSession
	require.NoError(t, f.db.Where("external_id = ?", "chk_1").First(&session).Error)
	assert.Equal(t, types.CheckoutSessionStatusComplete, session.Status)
	require.NotNil(t, session.SubscriptionID)
	assert.Equal(t, sub.ID, *session.SubscriptionID)

	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Payment{}, "subscription_id = ? AND kind = ?", sub.ID, types.PaymentKindInitial))
	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.SubscriptionLog{}, "subscription_id = ?", sub.ID))

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	var evt EntitlementChanged
	require.NoError(t, json.Unmarshal(msgs[0].Body, &evt))
	assert.Equal(t, acc.ID, evt.AccountID)
	assert.Equal(t, types.SubscriptionStatusActive, evt.Status)
}

func TestCreate_ReplayedCheckoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	req := func() *CreateRequest {
		return &CreateRequest{
			AccountID:         acc.ID,
			PlanID:            f.plans[types.PlanTypeMegaFan].ID,
			CheckoutSessionID: "chk_dup",
			Supersede:         true,
			Payment:           &PaymentInput{ExternalID: "txn_dup", Amount: decimal.RequireFromString("9.99")},
		}
	}

	first, err := f.svc.Create(ctx, req())
	require.NoError(t, err)
	second, err := f.svc.Create(ctx, req())
	require.ErrorIs(t, err, ErrDuplicateEvent)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)

	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Subscription{}, "account_id = ?", acc.ID))
	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Payment{}, "account_id = ?", acc.ID))
}

func TestCreate_ExistingActiveSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	old := f.subscribe(t, acc.ID, types.PlanTypeFan)

	_, err := f.svc.Create(ctx, &CreateRequest{AccountID: acc.ID, PlanID: f.plans[types.PlanTypeMegaFan].ID})
	require.ErrorIs(t, err, ErrExistingActiveSubscription)

	f.now = f.now.Add(3 * day)
	sub, err := f.svc.Create(ctx, &CreateRequest{
		AccountID: acc.ID,
		PlanID:    f.plans[types.PlanTypeMegaFan].ID,
		Supersede: true,
		Metadata:  &models.SubscriptionMetadata{IsRenewal: true, PreviousPlan: types.PlanTypeFan, PreviousStatus: types.SubscriptionStatusActive},
	})
	require.NoError(t, err)
	assert.True(t, sub.NextBillingDate.Equal(f.now.Add(30*day)))

	prev := f.reload(t, old.ID)
	assert.Equal(t, types.SubscriptionStatusExpired, prev.Status)
	require.NotNil(t, prev.CancellationReason)
	assert.Equal(t, types.CancellationReasonSuperseded, *prev.CancellationReason)
	assert.True(t, prev.EndDate.Equal(f.now))

	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Subscription{}, "account_id = ? AND status IN ?", acc.ID, types.LiveSubscriptionStatuses))
	snap := testutil.ReloadAccount(t, f.db, acc.ID).Entitlement
	assert.Equal(t, types.PlanTypeMegaFan, snap.PlanType)
	assert.Equal(t, 2, snap.MaxScreens)
	assert.Equal(t, types.QualityTierUHD, snap.QualityTier)
	require.NotNil(t, sub.Metadata.Data())
	assert.Equal(t, types.PlanTypeFan, sub.Metadata.Data().PreviousPlan)
}

func TestCreate_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")

	_, err := f.svc.Create(ctx, &CreateRequest{AccountID: acc.ID, PlanID: f.plans[types.PlanTypeFree].ID})
	require.ErrorIs(t, err, ErrPlanNotPurchasable)

	_, err = f.svc.Create(ctx, &CreateRequest{AccountID: tool.GenerateUUIDV7(), PlanID: f.plans[types.PlanTypeFan].ID})
	require.ErrorIs(t, err, ErrAccountNotFound)
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Subscription{}, ""))
}

func TestRenew_ExtendsFromCurrentEndDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeFan)
	originalEnd := sub.EndDate

	f.now = f.now.Add(29 * day)
	renewed, err := f.svc.Renew(ctx, &RenewRequest{
		SubscriptionID: sub.ID,
		Payment:        &PaymentInput{ExternalID: "txn_renew_1", Amount: decimal.RequireFromString("4.99")},
	})
	require.NoError(t, err)
	assert.True(t, renewed.EndDate.Equal(originalEnd.Add(30*day)))
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.EqualValues(t, 2, renewed.Version)

	_, err = f.svc.Renew(ctx, &RenewRequest{
		SubscriptionID: sub.ID,
		Payment:        &PaymentInput{ExternalID: "txn_renew_1", Amount: decimal.RequireFromString("4.99")},
	})
	require.ErrorIs(t, err, ErrDuplicateEvent)
	assert.True(t, f.reload(t, sub.ID).EndDate.Equal(originalEnd.Add(30*day)))
	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Payment{}, "kind = ?", types.PaymentKindRenewal))
}

func TestGraceThenExpire(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeMegaFan)

	_, err := f.svc.EnterGracePeriod(ctx, &GraceRequest{SubscriptionID: sub.ID, Trigger: GraceTriggerTermElapsed})
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.now = sub.EndDate.Add(time.Second)
	grace, err := f.svc.EnterGracePeriod(ctx, &GraceRequest{SubscriptionID: sub.ID, Trigger: GraceTriggerTermElapsed})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusGracePeriod, grace.Status)
	require.NotNil(t, grace.GracePeriodEnd)
	assert.True(t, grace.GracePeriodEnd.Equal(f.now.Add(5*day)))

	snap := testutil.ReloadAccount(t, f.db, acc.ID).Entitlement
	assert.Equal(t, types.SubscriptionStatusGracePeriod, snap.SubscriptionStatus)
	assert.Equal(t, 2, snap.MaxScreens)
	assert.True(t, snap.OfflineViewing)

	_, err = f.svc.Expire(ctx, &ExpireRequest{SubscriptionID: sub.ID})
	require.ErrorIs(t, err, ErrInvalidTransition)

	f.now = grace.GracePeriodEnd.Add(time.Second)
	expired, err := f.svc.Expire(ctx, &ExpireRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusExpired, expired.Status)
	assert.Nil(t, expired.GracePeriodEnd)
	assert.Nil(t, expired.NextBillingDate)
	require.NotNil(t, expired.CancellationReason)
	assert.Equal(t, types.CancellationReasonNonPayment, *expired.CancellationReason)

	snap = testutil.ReloadAccount(t, f.db, acc.ID).Entitlement
	assert.Equal(t, types.SubscriptionStatusExpired, snap.SubscriptionStatus)
	assert.Equal(t, types.PlanTypeFree, snap.PlanType)
	assert.Equal(t, 1, snap.MaxScreens)
	assert.False(t, snap.OfflineViewing)
	assert.Equal(t, types.QualityTierStandard, snap.QualityTier)
	assert.Nil(t, snap.SubscriptionExpiry)
	assert.Nil(t, snap.NextBillingDate)

	again, err := f.svc.Expire(ctx, &ExpireRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, expired.Version, again.Version)
}

func TestEnterGracePeriod_PaymentFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeFan)

	grace, err := f.svc.EnterGracePeriod(ctx, &GraceRequest{
		SubscriptionID: sub.ID,
		Trigger:        GraceTriggerPaymentFailed,
		Payment:        &PaymentInput{ExternalID: "txn_fail_1", Amount: decimal.RequireFromString("4.99")},
	})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusGracePeriod, grace.Status)

	f.now = f.now.Add(time.Hour)
	again, err := f.svc.EnterGracePeriod(ctx, &GraceRequest{
		SubscriptionID: sub.ID,
		Trigger:        GraceTriggerPaymentFailed,
		Payment:        &PaymentInput{ExternalID: "txn_fail_2", Amount: decimal.RequireFromString("4.99")},
	})
	require.NoError(t, err)
	assert.True(t, again.GracePeriodEnd.Equal(*grace.GracePeriodEnd))
	assert.EqualValues(t, 2, testutil.CountRows(t, f.db, &models.Payment{}, "status = ?", types.PaymentStatusFailed))

	// a payment after the failures restores the active term
	renewed, err := f.svc.Renew(ctx, &RenewRequest{SubscriptionID: sub.ID, Payment: &PaymentInput{ExternalID: "txn_ok", Amount: decimal.RequireFromString("4.99")}})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, renewed.Status)
	assert.Nil(t, renewed.GracePeriodEnd)
}

func TestCancelReactivateRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeMegaFan)

	f.now = f.now.Add(10 * day)
	cancelled, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusCancelled, cancelled.Status)
	assert.False(t, cancelled.AutoRenewal)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, types.CancellationReasonUser, *cancelled.CancellationReason)

	snap := testutil.ReloadAccount(t, f.db, acc.ID).Entitlement
	assert.Equal(t, types.PlanTypeMegaFan, snap.PlanType)
	assert.True(t, snap.GameVaultAccess)
	assert.Nil(t, snap.NextBillingDate)

	_, err = f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)

	reactivated, err := f.svc.Reactivate(ctx, &ReactivateRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, reactivated.Status)
	assert.True(t, reactivated.EndDate.Equal(sub.EndDate))
	assert.True(t, reactivated.AutoRenewal)
	assert.Nil(t, reactivated.CancelledAt)
	assert.Nil(t, reactivated.CancellationReason)
	require.NotNil(t, reactivated.NextBillingDate)
	assert.True(t, reactivated.NextBillingDate.Equal(sub.EndDate))
}

func TestReactivate_AfterEndDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeFan)

	_, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	f.now = sub.EndDate.Add(time.Minute)
	_, err = f.svc.Reactivate(ctx, &ReactivateRequest{SubscriptionID: sub.ID})
	require.ErrorIs(t, err, ErrSubscriptionEnded)
}

func TestEvents_StaleAndDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	t0 := f.now
	sub, err := f.svc.Create(ctx, &CreateRequest{
		AccountID: acc.ID,
		PlanID:    f.plans[types.PlanTypeFan].ID,
		Event:     &Event{ID: "evt_1", OccurredAt: t0},
	})
	require.NoError(t, err)

	_, err = f.svc.Expire(ctx, &ExpireRequest{
		SubscriptionID: sub.ID,
		Immediate:      true,
		Event:          &Event{ID: "evt_3", OccurredAt: t0.Add(2 * time.Hour)},
	})
	require.NoError(t, err)

	_, err = f.svc.Renew(ctx, &RenewRequest{
		SubscriptionID: sub.ID,
		Event:          &Event{ID: "evt_2", OccurredAt: t0.Add(time.Hour)},
	})
	require.ErrorIs(t, err, ErrStaleEvent)
	assert.True(t, IsNoop(err))

	_, err = f.svc.Expire(ctx, &ExpireRequest{
		SubscriptionID: sub.ID,
		Immediate:      true,
		Event:          &Event{ID: "evt_3", OccurredAt: t0.Add(2 * time.Hour)},
	})
	require.ErrorIs(t, err, ErrDuplicateEvent)

	got := f.reload(t, sub.ID)
	assert.Equal(t, types.SubscriptionStatusExpired, got.Status)
	assert.Equal(t, "evt_3", *got.LastEventID)
}

func TestCommit_LosesRaceOnStaleVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	stale := f.subscribe(t, acc.ID, types.PlanTypeFan)

	_, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: stale.ID})
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		next := *stale
		next.Status = types.SubscriptionStatusGracePeriod
		return f.svc.commit(tx, stale, &next, types.SubscriptionChangeReasonTermElapsed, nil)
	})
	require.ErrorIs(t, err, ErrConcurrentTransitionLost)
	assert.Equal(t, types.SubscriptionStatusCancelled, f.reload(t, stale.ID).Status)
}

func TestTransition_RollsBackWhenSnapshotFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeFan)
	require.NoError(t, f.db.Delete(&models.Account{}, "id = ?", acc.ID).Error)

	_, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.ErrorIs(t, err, ErrAccountNotFound)

	got := f.reload(t, sub.ID)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
	assert.EqualValues(t, 1, got.Version)
	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.SubscriptionLog{}, "subscription_id = ?", sub.ID))
}

func TestCreate_ResolvedAccountRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	f.subscribe(t, acc.ID, types.PlanTypeFan)

	_, err := f.svc.Create(ctx, &CreateRequest{
		ResolveAccount: func(tx *gorm.DB) (*models.Account, error) {
			side := &models.Account{ID: tool.GenerateUUIDV7(), Email: "side@example.com"}
			if err := tx.Create(side).Error; err != nil {
				return nil, err
			}
			return acc, nil
		},
		PlanID: f.plans[types.PlanTypeMegaFan].ID,
	})
	require.ErrorIs(t, err, ErrExistingActiveSubscription)
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Account{}, "email = ?", "side@example.com"))

	other := testutil.CreateAccount(t, f.db, "b@example.com")
	sub, err := f.svc.Create(ctx, &CreateRequest{
		ResolveAccount: func(*gorm.DB) (*models.Account, error) { return other, nil },
		PlanID:         f.plans[types.PlanTypeFan].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, other.ID, sub.AccountID)
	assert.Equal(t, types.PlanTypeFan, testutil.ReloadAccount(t, f.db, other.ID).Entitlement.PlanType)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")

	v, err := f.svc.Status(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusNone, v.Status)
	assert.Equal(t, 1, v.Features.MaxScreens)

	sub := f.subscribe(t, acc.ID, types.PlanTypeMegaFan)
	v, err = f.svc.Status(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, v.DaysUntilExpiry)
	assert.False(t, v.InGracePeriod)
	assert.True(t, v.Features.OfflineViewing)

	_, err = f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	f.now = sub.EndDate.Add(time.Hour)

	v, err = f.svc.Status(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusExpired, v.Status)
	assert.Equal(t, types.PlanTypeFree, v.PlanType)
	assert.Equal(t, 0, v.DaysUntilExpiry)
	assert.False(t, v.Features.OfflineViewing)
	require.NotNil(t, f.reload(t, sub.ID).CancellationReason)
	assert.Equal(t, types.CancellationReasonUser, *f.reload(t, sub.ID).CancellationReason)

	_, err = f.svc.Status(ctx, tool.GenerateUUIDV7())
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStatus_ExpiryOnReadLogging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.InfoLevel)
	f.svc = NewService(f.db, config.Defaults().Billing, f.events, nil, zap.New(core).Sugar())
	f.svc.SetClock(func() time.Time { return f.now })

	acc := testutil.CreateAccount(t, f.db, "a@example.com")
	sub := f.subscribe(t, acc.ID, types.PlanTypeFan)
	_, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	f.now = sub.EndDate.Add(time.Hour)

	_, err = f.svc.Status(ctx, acc.ID)
	require.NoError(t, err)
	_, err = f.svc.Status(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("subscription_expired_on_read").Len())

	// a failed expiry is reported as a failure only
	other := testutil.CreateAccount(t, f.db, "b@example.com")
	lapsed := f.subscribe(t, other.ID, types.PlanTypeFan)
	_, err = f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: lapsed.ID})
	require.NoError(t, err)
	f.now = lapsed.EndDate.Add(time.Hour)
	require.NoError(t, f.db.Delete(&models.Account{}, "id = ?", other.ID).Error)

	_, err = f.svc.Status(ctx, other.ID)
	require.ErrorIs(t, err, ErrAccountNotFound)
	assert.Equal(t, 1, logs.FilterMessage("subscription_expired_on_read").Len())
	failed := logs.FilterMessage("subscription_expire_on_read_failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, lapsed.ID, failed[0].ContextMap()["subscription_id"])
	assert.Equal(t, types.SubscriptionStatusCancelled, f.reload(t, lapsed.ID).Status)
}

func TestGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "a@example.com")

	sub, err := f.svc.Grant(ctx, &GrantRequest{AccountID: acc.ID, PlanType: types.PlanTypeFan, OperatorID: "op-1"})
	require.NoError(t, err)
	assert.Equal(t, types.PaymentMethodAdminGift, sub.PaymentMethod)
	assert.False(t, sub.AutoRenewal)
	assert.Nil(t, sub.NextBillingDate)
	assert.True(t, sub.Amount.IsZero())
	assert.Equal(t, "op-1", sub.Metadata.Data().OperatorID)

	_, err = f.svc.Grant(ctx, &GrantRequest{AccountID: acc.ID, PlanType: types.PlanTypeMegaFan})
	require.ErrorIs(t, err, ErrExistingActiveSubscription)

	// a granted term has no billing retry, so it expires without a grace period
	f.now = sub.EndDate.Add(time.Second)
	expired, err := f.svc.Expire(ctx, &ExpireRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusExpired, expired.Status)
}

func TestScanAndPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := testutil.CreateAccount(t, f.db, "a@example.com")
	b := testutil.CreateAccount(t, f.db, "b@example.com")
	f.subscribe(t, a.ID, types.PlanTypeFan)
	subB := f.subscribe(t, b.ID, types.PlanTypeMegaFan)
	_, err := f.svc.Cancel(ctx, &CancelRequest{SubscriptionID: subB.ID})
	require.NoError(t, err)

	res, err := f.svc.Scan(ctx, &ScanRequest{Filters: []*types.CommonFilter{
		{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{string(types.SubscriptionStatusCancelled)}},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
	require.Len(t, res.Items, 1)
	assert.Equal(t, subB.ID, res.Items[0].ID)

	res, err = f.svc.Scan(ctx, &ScanRequest{SortBy: "end_date; drop table plan", SortOrder: "asc"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	payments, err := f.svc.ListPayments(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, types.PaymentKindInitial, payments[0].Kind)
}

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"past", now.Add(-time.Hour), 0},
		{"same instant", now, 0},
		{"partial day rounds up", now.Add(time.Hour), 1},
		{"exact days", now.Add(30 * day), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, daysUntil(now, tt.at))
		})
	}
}
