package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/models"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/internal/testutil"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

type stubProcessor struct {
	calls []processor.CheckoutRequest
	err   error
}

func (p *stubProcessor) CreateCheckout(_ context.Context, req processor.CheckoutRequest) (*processor.CheckoutLink, error) {
	p.calls = append(p.calls, req)
	if p.err != nil {
		return nil, p.err
	}
	return &processor.CheckoutLink{URL: "https://pay.example.com/txn_" + req.PriceID, SessionID: "txn_" + req.PriceID}, nil
}

func newService(t *testing.T, p Processor) (*Service, map[types.PlanType]*models.Plan) {
	db := testutil.NewDB(t)
	plans := testutil.SeedPlans(t, db)
	log := zap.NewNop().Sugar()
	svc := NewService(db, plan.NewService(db, log), p, config.CheckoutConfig{SuccessURL: "https://app.example.com/done", TTL: time.Hour}, log)
	return svc, plans
}

func TestStart_PersistsPendingSession(t *testing.T) {
	proc := &stubProcessor{}
	svc, plans := newService(t, proc)
	now := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	ctx := context.Background()
	acc := testutil.CreateAccount(t, svc.db, "buyer@example.com")
	mega := plans[types.PlanTypeMegaFan]

	session, err := svc.Start(ctx, &StartRequest{AccountID: acc.ID, PlanID: mega.ID})
	require.NoError(t, err)
	assert.Equal(t, types.CheckoutSessionStatusPending, session.Status)
	assert.Equal(t, "txn_pri_MEGA_FAN", session.ExternalID)
	assert.Equal(t, "https://pay.example.com/txn_pri_MEGA_FAN", session.URL)
	assert.True(t, session.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.True(t, session.Amount.Equal(mega.Price))

	require.Len(t, proc.calls, 1)
	call := proc.calls[0]
	assert.Equal(t, "pri_MEGA_FAN", call.PriceID)
	assert.Equal(t, "https://app.example.com/done", call.SuccessURL)
	assert.Equal(t, acc.ID, call.CustomData[processor.CustomDataAccountID])
	assert.Equal(t, mega.ID, call.CustomData[processor.CustomDataPlanID])
	assert.Equal(t, false, call.CustomData[processor.CustomDataIsRenewal])
	assert.Equal(t, "FREE", call.CustomData[processor.CustomDataPreviousPlan])

	got, err := svc.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.AccountID)
	md := got.Metadata.Data()
	require.NotNil(t, md)
	assert.False(t, md.IsRenewal)

	byExternal, err := svc.GetByExternalID(ctx, "txn_pri_MEGA_FAN")
	require.NoError(t, err)
	require.NotNil(t, byExternal)
	assert.Equal(t, session.ID, byExternal.ID)

	missing, err := svc.GetByExternalID(ctx, "txn_other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStart_MarksReturningCustomers(t *testing.T) {
	proc := &stubProcessor{}
	svc, plans := newService(t, proc)
	acc := testutil.CreateAccount(t, svc.db, "back@example.com")
	require.NoError(t, svc.db.Create(&models.Subscription{
		ID: tool.GenerateUUIDV7(), AccountID: acc.ID, PlanID: plans[types.PlanTypeFan].ID,
		Status: types.SubscriptionStatusExpired, StartDate: time.Now().UTC().Add(-60 * 24 * time.Hour),
		EndDate: time.Now().UTC().Add(-30 * 24 * time.Hour), Currency: "USD", PaymentMethod: types.PaymentMethodProcessor, Version: 1,
	}).Error)

	_, err := svc.Start(context.Background(), &StartRequest{AccountID: acc.ID, PlanID: plans[types.PlanTypeFan].ID})
	require.NoError(t, err)
	require.Len(t, proc.calls, 1)
	assert.Equal(t, true, proc.calls[0].CustomData[processor.CustomDataIsRenewal])
}

func TestStart_Rejections(t *testing.T) {
	proc := &stubProcessor{}
	svc, plans := newService(t, proc)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, svc.db, "r@example.com")

	_, err := svc.Start(ctx, &StartRequest{AccountID: "missing", PlanID: plans[types.PlanTypeFan].ID})
	require.ErrorIs(t, err, ErrAccountNotFound)

	_, err = svc.Start(ctx, &StartRequest{AccountID: acc.ID, PlanID: "missing"})
	require.ErrorIs(t, err, plan.ErrPlanNotFound)

	_, err = svc.Start(ctx, &StartRequest{AccountID: acc.ID, PlanID: plans[types.PlanTypeFree].ID})
	require.ErrorIs(t, err, ErrPlanUnavailable)

	require.NoError(t, svc.db.Model(&models.Plan{}).Where("id = ?", plans[types.PlanTypeFan].ID).Update("active", false).Error)
	_, err = svc.Start(ctx, &StartRequest{AccountID: acc.ID, PlanID: plans[types.PlanTypeFan].ID})
	require.ErrorIs(t, err, ErrPlanUnavailable)
	assert.Empty(t, proc.calls)

	proc.err = processor.ErrProcessorUnavailable
	_, err = svc.Start(ctx, &StartRequest{AccountID: acc.ID, PlanID: plans[types.PlanTypeMegaFan].ID})
	require.True(t, errors.Is(err, processor.ErrProcessorUnavailable))
	assert.EqualValues(t, 0, testutil.CountRows(t, svc.db, &models.CheckoutSession{}, ""))

	_, err = svc.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
