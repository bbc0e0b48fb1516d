package account

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/platform/eventbus"
	"github.com/fatflowers/fanpass/internal/testutil"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	plans  map[types.PlanType]*models.Plan
	events *testutil.RecordingPublisher
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	log := zap.NewNop().Sugar()
	f := &fixture{
		db:     db,
		plans:  testutil.SeedPlans(t, db),
		events: &testutil.RecordingPublisher{},
		now:    time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	store := ratelimit.NewMemoryStore()
	login := ratelimit.NewLimiter(store, "login", config.LimitConfig{Attempts: 3, Window: 15 * time.Minute}, nil)
	login.SetClock(clock)
	reset := ratelimit.NewLimiter(store, "password_reset", config.LimitConfig{Attempts: 3, Window: time.Hour}, nil)
	reset.SetClock(clock)
	f.svc = NewService(db, plan.NewService(db, log), login, reset, f.events, log,
		WithBcryptCost(bcrypt.MinCost), WithClock(clock))
	return f
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.svc.Register(ctx, &Credentials{Email: " Viewer@Example.com ", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, "viewer@example.com", acc.Email)
	assert.NotEqual(t, "correct horse", acc.PasswordHash)

	got := testutil.ReloadAccount(t, f.db, acc.ID)
	assert.Equal(t, types.SubscriptionStatusNone, got.Entitlement.SubscriptionStatus)
	assert.Equal(t, types.PlanTypeFree, got.Entitlement.PlanType)
	require.NotNil(t, got.Entitlement.PlanID)
	assert.Equal(t, f.plans[types.PlanTypeFree].ID, *got.Entitlement.PlanID)
	assert.Equal(t, 1, got.Entitlement.MaxScreens)
	assert.Equal(t, types.QualityTierStandard, got.Entitlement.QualityTier)

	cases := []struct {
		name  string
		creds Credentials
		err   error
	}{
		{"duplicate", Credentials{Email: "viewer@example.com", Password: "another pass"}, ErrEmailTaken},
		{"bad email", Credentials{Email: "not-an-email", Password: "long enough"}, ErrInvalidEmail},
		{"display name", Credentials{Email: "Bob <bob@example.com>", Password: "long enough"}, ErrInvalidEmail},
		{"short password", Credentials{Email: "short@example.com", Password: "1234567"}, ErrWeakPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, &tc.creds)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLogin_LimitsPerIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, &Credentials{Email: "x@example.com", Password: "password-x"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, &Credentials{Email: "y@example.com", Password: "password-y"})
	require.NoError(t, err)

	start := f.now
	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, &Credentials{Email: "x@example.com", Password: "wrong"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
		f.now = f.now.Add(time.Minute)
	}

	// the right password does not help while limited
	_, err = f.svc.Login(ctx, &Credentials{Email: "x@example.com", Password: "password-x"})
	le, ok := ratelimit.AsLimited(err)
	require.True(t, ok, "expected rate limit, got %v", err)
	assert.True(t, le.ResetAt.Equal(start.Add(15*time.Minute)))

	acc, err := f.svc.Login(ctx, &Credentials{Email: "y@example.com", Password: "password-y"})
	require.NoError(t, err)
	assert.Equal(t, "y@example.com", acc.Email)

	f.now = start.Add(16 * time.Minute)
	_, err = f.svc.Login(ctx, &Credentials{Email: "x@example.com", Password: "password-x"})
	require.NoError(t, err)
}

func TestLogin_UnparsableEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, email := range []string{"", "   ", "not-an-email", "Bob <bob@example.com>"} {
		for i := 0; i < 5; i++ {
			_, err := f.svc.Login(ctx, &Credentials{Email: email, Password: "whatever"})
			require.ErrorIs(t, err, ErrInvalidCredentials, "email %q attempt %d", email, i)
		}
	}
	require.ErrorIs(t, f.svc.RequestPasswordReset(ctx, "  "), ErrInvalidEmail)
	assert.Empty(t, f.events.Messages())
}

func TestLogin_SuccessResetsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Register(ctx, &Credentials{Email: "z@example.com", Password: "password-z"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = f.svc.Login(ctx, &Credentials{Email: "z@example.com", Password: "nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = f.svc.Login(ctx, &Credentials{Email: "z@example.com", Password: "password-z"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.svc.Login(ctx, &Credentials{Email: "z@example.com", Password: "nope"})
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err = f.svc.Login(ctx, &Credentials{Email: "nobody@example.com", Password: "whatever"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRequestPasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.svc.Register(ctx, &Credentials{Email: "r@example.com", Password: "password-r"})
	require.NoError(t, err)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "R@example.com"))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "unknown@example.com"))

	msgs := f.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, eventbus.KeyPasswordResetRequested, msgs[0].Key)
	var evt PasswordResetRequested
	require.NoError(t, json.Unmarshal(msgs[0].Body, &evt))
	assert.Equal(t, acc.ID, evt.AccountID)
	assert.NotEmpty(t, evt.Token)

	require.NoError(t, f.svc.RequestPasswordReset(ctx, "r@example.com"))
	require.NoError(t, f.svc.RequestPasswordReset(ctx, "r@example.com"))
	err = f.svc.RequestPasswordReset(ctx, "r@example.com")
	_, limited := ratelimit.AsLimited(err)
	assert.True(t, limited)
	assert.Len(t, f.events.Messages(), 3)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "d@example.com")
	fan := f.plans[types.PlanTypeFan]

	sub := &models.Subscription{
		ID: tool.GenerateUUIDV7(), AccountID: acc.ID, PlanID: fan.ID, Status: types.SubscriptionStatusCancelled,
		StartDate: f.now.Add(-time.Hour), EndDate: f.now.Add(time.Hour), Currency: "USD",
		PaymentMethod: types.PaymentMethodProcessor, Version: 1,
	}
	require.NoError(t, f.db.Create(sub).Error)
	require.NoError(t, f.db.Create(&models.Payment{
		ID: tool.GenerateUUIDV7(), AccountID: acc.ID, SubscriptionID: sub.ID, ExternalID: "txn_d",
		Amount: fan.Price, Currency: "USD", Status: types.PaymentStatusCompleted, Kind: types.PaymentKindInitial,
	}).Error)

	require.ErrorIs(t, f.svc.Delete(ctx, acc.ID), ErrHasLiveSubscription)

	require.NoError(t, f.db.Model(sub).Update("status", types.SubscriptionStatusExpired).Error)
	require.NoError(t, f.svc.Delete(ctx, acc.ID))
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Account{}, "id = ?", acc.ID))
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Subscription{}, "account_id = ?", acc.ID))
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Payment{}, "account_id = ?", acc.ID))

	require.ErrorIs(t, f.svc.Delete(ctx, acc.ID), ErrAccountNotFound)
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := testutil.CreateAccount(t, f.db, "known@example.com")

	got, err := f.svc.Resolve(ctx, acc.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	got, err = f.svc.Resolve(ctx, "", "Known@Example.com", false)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	_, err = f.svc.Resolve(ctx, "", "new@example.com", false)
	require.ErrorIs(t, err, ErrAccountNotFound)

	created, err := f.svc.Resolve(ctx, "", "new@example.com", true)
	require.NoError(t, err)
	assert.Empty(t, created.PasswordHash)
	assert.Equal(t, types.PlanTypeFree, created.Entitlement.PlanType)

	again, err := f.svc.Resolve(ctx, "", "new@example.com", true)
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	// passwordless accounts cannot log in
	_, err = f.svc.Login(ctx, &Credentials{Email: "new@example.com", Password: ""})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestResolveTx_RollsBackWithCaller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	errAbort := errors.New("checkout failed")

	err := f.db.Transaction(func(tx *gorm.DB) error {
		acc, err := f.svc.ResolveTx(ctx, tx, "", "Pending@Example.com", true)
		require.NoError(t, err)
		assert.Equal(t, types.PlanTypeFree, acc.Entitlement.PlanType)
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)
	assert.EqualValues(t, 0, testutil.CountRows(t, f.db, &models.Account{}, "email = ?", "pending@example.com"))

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.ResolveTx(ctx, tx, "", "pending@example.com", true)
		return err
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, testutil.CountRows(t, f.db, &models.Account{}, "email = ?", "pending@example.com"))
}
