// Package checkout starts hosted processor checkouts. The session row is
// written before the buyer is redirected so a webhook that arrives first can
// still be matched to the account and plan that started it.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/models"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

var (
	ErrSessionNotFound = errors.New("checkout session not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrPlanUnavailable = errors.New("plan is not available for purchase")
)

// Processor opens hosted checkouts.
type Processor interface {
	CreateCheckout(ctx context.Context, req processor.CheckoutRequest) (*processor.CheckoutLink, error)
}

type Service struct {
	db         *gorm.DB
	plans      *plan.Service
	processor  Processor
	successURL string
	ttl        time.Duration
	log        *zap.SugaredLogger
	now        func() time.Time
}

func NewService(db *gorm.DB, plans *plan.Service, p Processor, cfg config.CheckoutConfig, log *zap.SugaredLogger) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:         db,
		plans:      plans,
		processor:  p,
		successURL: cfg.SuccessURL,
		ttl:        ttl,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

type StartRequest struct {
	AccountID string `json:"account_id" binding:"required"`
	PlanID    string `json:"plan_id" binding:"required"`
}

// Start creates a processor checkout for the plan and records it as pending.
func (s *Service) Start(ctx context.Context, req *StartRequest) (*models.CheckoutSession, error) {
	log := logctx.FromCtx(ctx, s.log)

	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", req.AccountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	p, err := s.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !p.Active || p.IsFree() || p.ProcessorPriceID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlanUnavailable, p.Type)
	}

	var held int64
	if err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("account_id = ?", account.ID).Count(&held).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	md := &models.SubscriptionMetadata{
		IsRenewal:      held > 0,
		PreviousPlan:   account.Entitlement.PlanType,
		PreviousStatus: account.Entitlement.SubscriptionStatus,
	}

	link, err := s.processor.CreateCheckout(ctx, processor.CheckoutRequest{
		PriceID:    p.ProcessorPriceID,
		SuccessURL: s.successURL,
		CustomData: map[string]any{
			processor.CustomDataAccountID:      account.ID,
			processor.CustomDataEmail:          account.Email,
			processor.CustomDataPlanID:         p.ID,
			processor.CustomDataIsRenewal:      md.IsRenewal,
			processor.CustomDataPreviousPlan:   string(md.PreviousPlan),
			processor.CustomDataPreviousStatus: string(md.PreviousStatus),
		},
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &models.CheckoutSession{
		ID:         tool.GenerateUUIDV7(),
		ExternalID: link.SessionID,
		AccountID:  account.ID,
		PlanID:     p.ID,
		Status:     types.CheckoutSessionStatusPending,
		Amount:     p.Price,
		Currency:   p.Currency,
		URL:        link.URL,
		ExpiresAt:  now.Add(s.ttl),
		Metadata:   datatypes.NewJSONType(md),
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to save checkout session: %w", err)
	}
	log.Infow("checkout started", "account_id", account.ID, "plan_type", p.Type,
		"session_id", session.ID, "is_renewal", md.IsRenewal)
	return session, nil
}

// Get returns a session for the buyer's return page.
func (s *Service) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	return &session, nil
}

// GetByExternalID returns nil when the processor checkout was not started here.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := s.db.WithContext(ctx).Where("external_id = ?", externalID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	return &session, nil
}

func provideService(db *gorm.DB, plans *plan.Service, client *processor.Client, cfg *config.Config, log *zap.SugaredLogger) *Service {
	return NewService(db, plans, client, cfg.Checkout, log)
}

var Module = fx.Options(
	fx.Provide(provideService),
)
