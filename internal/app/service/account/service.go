// Package account owns sign-up, password login and account removal.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/entitlement"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/platform/eventbus"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/metrics"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

const minPasswordLength = 8

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrInvalidEmail        = errors.New("invalid email address")
	ErrWeakPassword        = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	ErrHasLiveSubscription = errors.New("account still holds a subscription that has not expired")
)

type Service struct {
	db         *gorm.DB
	plans      *plan.Service
	login      *ratelimit.Limiter
	reset      *ratelimit.Limiter
	events     eventbus.Publisher
	log        *zap.SugaredLogger
	bcryptCost int
	now        func() time.Time
}

type Option func(*Service)

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, plans *plan.Service, login, reset *ratelimit.Limiter, events eventbus.Publisher, log *zap.SugaredLogger, opts ...Option) *Service {
	if events == nil {
		events = eventbus.NewNoopPublisher(log)
	}
	s := &Service{
		db:         db,
		plans:      plans,
		login:      login,
		reset:      reset,
		events:     events,
		log:        log,
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register creates an account on the FREE bundle.
func (s *Service) Register(ctx context.Context, req *Credentials) (*models.Account, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	acc, err := s.create(ctx, s.db, email, string(hash))
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("account registered", "account_id", acc.ID)
	return acc, nil
}

// Login checks the limiter before the password so a locked identity learns nothing.
func (s *Service) Login(ctx context.Context, req *Credentials) (*models.Account, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		// no account can hold an unparsable address
		return nil, ErrInvalidCredentials
	}
	if _, err := s.login.Allow(ctx, email); err != nil {
		return nil, err
	}

	acc, err := s.byEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if acc.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)) != nil {
		logctx.FromCtx(ctx, s.log).Infow("login failed", "account_id", acc.ID)
		return nil, ErrInvalidCredentials
	}
	if err := s.login.Reset(ctx, email); err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("failed to reset login limiter", "error", err)
	}
	return acc, nil
}

// PasswordResetRequested is published for the mailer.
type PasswordResetRequested struct {
	AccountID   string    `json:"account_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	RequestedAt time.Time `json:"requested_at"`
}

// RequestPasswordReset is rate limited per email and silent about unknown addresses.
func (s *Service) RequestPasswordReset(ctx context.Context, raw string) error {
	email, err := normalizeEmail(raw)
	if err != nil {
		return err
	}
	if _, err := s.reset.Allow(ctx, email); err != nil {
		return err
	}
	acc, err := s.byEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	now := s.now()
	return eventbus.PublishJSON(ctx, s.events, eventbus.KeyPasswordResetRequested, &PasswordResetRequested{
		AccountID:   acc.ID,
		Email:       acc.Email,
		Token:       tool.GenerateULID(now),
		RequestedAt: now,
	})
}

// Delete removes the account with its billing history. Accounts that still
// hold a current subscription are refused.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc models.Account
		if err := tx.Where("id = ?", id).First(&acc).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		var live int64
		if err := tx.Model(&models.Subscription{}).
			Where("account_id = ? AND status IN ?", id, types.CurrentSubscriptionStatuses).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return ErrHasLiveSubscription
		}
		for _, model := range []any{&models.Payment{}, &models.SubscriptionLog{}, &models.Subscription{}, &models.CheckoutSession{}} {
			if err := tx.Where("account_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete %T: %w", model, err)
			}
		}
		return tx.Delete(&acc).Error
	})
	if err != nil {
		return err
	}
	logctx.FromCtx(ctx, s.log).Infow("account deleted", "account_id", id)
	return nil
}

// Resolve finds an account by id, falling back to email. With create set a
// missing email gets a passwordless account.
func (s *Service) Resolve(ctx context.Context, accountID, email string, create bool) (*models.Account, error) {
	acc, err := s.resolve(ctx, s.db, accountID, email, create)
	if errors.Is(err, ErrEmailTaken) {
		// a concurrent sign-up won, read its row
		return s.resolve(ctx, s.db, accountID, email, false)
	}
	return acc, err
}

// ResolveTx is Resolve within tx. An account it creates is rolled back with
// tx, and losing a sign-up race returns ErrEmailTaken for the caller to retry.
func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, accountID, email string, create bool) (*models.Account, error) {
	return s.resolve(ctx, tx, accountID, email, create)
}

func (s *Service) resolve(ctx context.Context, db *gorm.DB, accountID, email string, create bool) (*models.Account, error) {
	if accountID != "" {
		acc, err := s.first(ctx, db, "id = ?", accountID)
		if err == nil || !errors.Is(err, ErrAccountNotFound) || email == "" {
			return acc, err
		}
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	acc, err := s.first(ctx, db, "email = ?", email)
	if !errors.Is(err, ErrAccountNotFound) || !create {
		return acc, err
	}
	return s.create(ctx, db, email, "")
}

func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.first(ctx, s.db, "id = ?", id)
}

func (s *Service) byEmail(ctx context.Context, email string) (*models.Account, error) {
	return s.first(ctx, s.db, "email = ?", email)
}

func (s *Service) first(ctx context.Context, db *gorm.DB, query string, args ...any) (*models.Account, error) {
	var acc models.Account
	if err := db.WithContext(ctx).Where(query, args...).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return &acc, nil
}

func (s *Service) create(ctx context.Context, db *gorm.DB, email, hash string) (*models.Account, error) {
	free, err := s.plans.FreePlanIn(ctx, db)
	if err != nil && !errors.Is(err, plan.ErrPlanNotFound) {
		return nil, err
	}
	acc := &models.Account{
		ID:           tool.GenerateUUIDV7(),
		Email:        email,
		PasswordHash: hash,
		Entitlement:  entitlement.NewDeriver(free).Snapshot(nil, nil, free),
	}
	if err := db.WithContext(ctx).Create(acc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acc, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func provideService(db *gorm.DB, plans *plan.Service, store ratelimit.Store, events eventbus.Publisher, cfg *config.Config, m *metrics.Business, log *zap.SugaredLogger) *Service {
	return NewService(db, plans,
		ratelimit.NewLimiter(store, "login", cfg.LoginLimit, m),
		ratelimit.NewLimiter(store, "password_reset", cfg.PasswordResetLimit, m),
		events, log)
}

var Module = fx.Options(
	fx.Provide(provideService),
)
