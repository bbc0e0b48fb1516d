package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/app/service/statistics"
	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/testutil"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/response"
	"github.com/fatflowers/fanpass/pkg/types"
)

func adminRouter(t *testing.T) (http.Handler, *gorm.DB, map[types.PlanType]*models.Plan) {
	t.Helper()
	db := testutil.NewDB(t)
	plans := testutil.SeedPlans(t, db)
	log := zap.NewNop().Sugar()

	planSvc := plan.NewService(db, log)
	subs := subsvc.NewService(db, config.Defaults().Billing, nil, nil, log)
	store := ratelimit.NewMemoryStore()
	limits := config.LimitConfig{Attempts: 3, Window: time.Minute}
	accounts := account.NewService(db, planSvc,
		ratelimit.NewLimiter(store, "login", limits, nil),
		ratelimit.NewLimiter(store, "password_reset", limits, nil),
		nil, log)

	r := newRouter()
	RegisterAdminRoutes(r.Group("/admin"), planSvc, subs, statistics.NewService(db, log), accounts, log)
	return r, db, plans
}

func TestAdminPlans(t *testing.T) {
	r, _, plans := adminRouter(t)

	w := do(r, http.MethodGet, "/admin/plans", nil, nil)
	listed := decode[[]models.Plan](t, w)
	require.Equal(t, response.APIResponseCodeOK, listed.Code)
	require.Len(t, listed.Data, 3)
	assert.Equal(t, types.PlanTypeFree, listed.Data[0].Type)

	w = do(r, http.MethodPost, "/admin/plans", map[string]any{
		"type": "fan_annual", "name": "Fan Annual", "billing_cycle": "annually", "price": "49.99",
		"currency": "USD", "max_screens": 1, "ad_free": true,
	}, nil)
	created := decode[models.Plan](t, w)
	require.Equal(t, response.APIResponseCodeOK, created.Code, w.Body.String())
	assert.Equal(t, types.PlanType("FAN_ANNUAL"), created.Data.Type)
	assert.True(t, created.Data.Active)
	assert.Equal(t, "49.99", created.Data.Price.StringFixed(2))

	w = do(r, http.MethodPost, "/admin/plans", map[string]any{
		"type": "FAN", "name": "Dup", "billing_cycle": "monthly", "currency": "USD", "max_screens": 1,
	}, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)

	w = do(r, http.MethodPut, "/admin/plans/"+created.Data.ID, map[string]any{"name": "Fan Yearly", "active": false}, nil)
	updated := decode[models.Plan](t, w)
	require.Equal(t, response.APIResponseCodeOK, updated.Code)
	assert.Equal(t, "Fan Yearly", updated.Data.Name)
	assert.False(t, updated.Data.Active)

	w = do(r, http.MethodPut, "/admin/plans/"+plans[types.PlanTypeFree].ID, map[string]any{"active": false}, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)

	w = do(r, http.MethodDelete, "/admin/plans/"+created.Data.ID, nil, nil)
	assert.Equal(t, response.APIResponseCodeOK, decode[any](t, w).Code)
	w = do(r, http.MethodDelete, "/admin/plans/"+created.Data.ID, nil, nil)
	assert.Equal(t, response.APIResponseCodeNotFound, decode[any](t, w).Code)
}

func TestAdminGrantAndReport(t *testing.T) {
	r, db, plans := adminRouter(t)
	acc := testutil.CreateAccount(t, db, "gift@example.com")

	w := do(r, http.MethodPost, "/admin/grant_subscription", map[string]any{
		"account_id": acc.ID, "plan_type": "MEGA_FAN", "operator_id": "ops-1",
	}, nil)
	granted := decode[models.Subscription](t, w)
	require.Equal(t, response.APIResponseCodeOK, granted.Code, w.Body.String())
	assert.Equal(t, types.SubscriptionStatusActive, granted.Data.Status)
	assert.Equal(t, types.PaymentMethodAdminGift, granted.Data.PaymentMethod)

	got := testutil.ReloadAccount(t, db, acc.ID)
	assert.Equal(t, types.PlanTypeMegaFan, got.Entitlement.PlanType)

	w = do(r, http.MethodPost, "/admin/list_subscriptions", map[string]any{
		"filters": []map[string]any{{"field": "account_id", "operator": "eq", "values": []any{acc.ID}}},
	}, nil)
	listed := decode[subsvc.ScanResponse](t, w)
	require.Equal(t, response.APIResponseCodeOK, listed.Code)
	assert.EqualValues(t, 1, listed.Data.Total)

	// the plan is now referenced
	w = do(r, http.MethodDelete, "/admin/plans/"+plans[types.PlanTypeMegaFan].ID, nil, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)

	w = do(r, http.MethodDelete, "/admin/accounts/"+acc.ID, nil, nil)
	assert.Equal(t, response.APIResponseCodeConflict, decode[any](t, w).Code)

	w = do(r, http.MethodPost, "/admin/get_subscription_statistic", map[string]any{
		"data_items": []map[string]any{{"id": "live_subscriptions"}},
	}, nil)
	stats := decode[statistics.StatisticResponse](t, w)
	require.Equal(t, response.APIResponseCodeOK, stats.Code, w.Body.String())
	live := stats.Data.DataItems[statistics.StatisticTypeLiveSubscriptions]
	require.Len(t, live, 1)
	assert.Equal(t, string(types.SubscriptionStatusActive), live[0].Label)
	assert.EqualValues(t, 1, live[0].Value)

	w = do(r, http.MethodPost, "/admin/get_subscription_statistic", map[string]any{
		"data_items": []map[string]any{{"id": "daily_gmv"}},
	}, nil)
	assert.Equal(t, response.APIResponseCodeBadRequest, decode[any](t, w).Code)
}
