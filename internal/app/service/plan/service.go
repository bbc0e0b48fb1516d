// Package plan is the catalog of purchasable plans and their feature bundles.
package plan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/entitlement"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

var (
	ErrPlanNotFound  = errors.New("plan not found")
	ErrPlanInUse     = errors.New("plan is referenced by subscriptions")
	ErrPlanTypeTaken = errors.New("plan type already exists")
	ErrSoleFreePlan  = errors.New("the FREE plan cannot be removed, renamed or deactivated")
	ErrInvalidPlan   = errors.New("invalid plan")
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(db *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: db, log: log}
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	return s.first(ctx, s.db, "id = ?", id)
}

func (s *Service) GetByType(ctx context.Context, planType types.PlanType) (*models.Plan, error) {
	return s.first(ctx, s.db, "type = ?", planType)
}

// GetByProcessorPriceID maps a processor price back to its plan.
func (s *Service) GetByProcessorPriceID(ctx context.Context, priceID string) (*models.Plan, error) {
	if priceID == "" {
		return nil, ErrPlanNotFound
	}
	return s.first(ctx, s.db, "processor_price_id = ?", priceID)
}

// FreePlan returns the catalog's FREE plan.
func (s *Service) FreePlan(ctx context.Context) (*models.Plan, error) {
	return s.GetByType(ctx, types.PlanTypeFree)
}

// FreePlanIn reads the FREE plan through db, which may be an open transaction.
func (s *Service) FreePlanIn(ctx context.Context, db *gorm.DB) (*models.Plan, error) {
	return s.first(ctx, db, "type = ?", types.PlanTypeFree)
}

// ListActive returns active plans ordered by display rank.
func (s *Service) ListActive(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("display_rank asc").Order("type asc").
		Find(&plans).Error
	return plans, err
}

// List returns the whole catalog, inactive plans included.
func (s *Service) List(ctx context.Context) ([]*models.Plan, error) {
	var plans []*models.Plan
	err := s.db.WithContext(ctx).Order("display_rank asc").Order("type asc").Find(&plans).Error
	return plans, err
}

func (s *Service) Create(ctx context.Context, p *models.Plan) (*models.Plan, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	p.ID = tool.GenerateUUIDV7()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.first(ctx, tx, "type = ?", p.Type); err == nil {
			return ErrPlanTypeTaken
		} else if !errors.Is(err, ErrPlanNotFound) {
			return err
		}
		if err := tx.Create(p).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPlanTypeTaken
			}
			return fmt.Errorf("failed to create plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("plan_created", "plan_id", p.ID, "type", p.Type)
	return p, nil
}

// UpdateRequest changes only the non-nil fields.
type UpdateRequest struct {
	Type             *types.PlanType     `json:"type"`
	Name             *string             `json:"name"`
	BillingCycle     *types.BillingCycle `json:"billing_cycle"`
	Price            *decimal.Decimal    `json:"price"`
	Currency         *string             `json:"currency"`
	DisplayRank      *int                `json:"display_rank"`
	Active           *bool               `json:"active"`
	ProcessorPriceID *string             `json:"processor_price_id"`
	MaxScreens       *int                `json:"max_screens"`
	OfflineViewing   *bool               `json:"offline_viewing"`
	AdFree           *bool               `json:"ad_free"`
	GameVaultAccess  *bool               `json:"game_vault_access"`
}

func (r *UpdateRequest) apply(p *models.Plan) {
	if r.Type != nil {
		p.Type = *r.Type
	}
	if r.Name != nil {
		p.Name = *r.Name
	}
	if r.BillingCycle != nil {
		p.BillingCycle = *r.BillingCycle
	}
	if r.Price != nil {
		p.Price = *r.Price
	}
	if r.Currency != nil {
		p.Currency = *r.Currency
	}
	if r.DisplayRank != nil {
		p.DisplayRank = *r.DisplayRank
	}
	if r.Active != nil {
		p.Active = *r.Active
	}
	if r.ProcessorPriceID != nil {
		p.ProcessorPriceID = *r.ProcessorPriceID
	}
	if r.MaxScreens != nil {
		p.MaxScreens = *r.MaxScreens
	}
	if r.OfflineViewing != nil {
		p.OfflineViewing = *r.OfflineViewing
	}
	if r.AdFree != nil {
		p.AdFree = *r.AdFree
	}
	if r.GameVaultAccess != nil {
		p.GameVaultAccess = *r.GameVaultAccess
	}
}

func (s *Service) Update(ctx context.Context, id string, req *UpdateRequest) (*models.Plan, error) {
	var updated models.Plan
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.first(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		next := *cur
		req.apply(&next)
		if err := validate(&next); err != nil {
			return err
		}

		renamed := next.Type != cur.Type
		if cur.IsFree() && (renamed || !next.Active) {
			return ErrSoleFreePlan
		}
		if renamed {
			n, err := countSubscriptions(tx, cur.ID, types.CurrentSubscriptionStatuses)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrPlanInUse
			}
			if _, err := s.first(ctx, tx, "type = ?", next.Type); err == nil {
				return ErrPlanTypeTaken
			} else if !errors.Is(err, ErrPlanNotFound) {
				return err
			}
		}

		if err := tx.Model(&models.Plan{}).Where("id = ?", cur.ID).Updates(map[string]any{
			"type":               next.Type,
			"name":               next.Name,
			"billing_cycle":      next.BillingCycle,
			"price":              next.Price,
			"currency":           next.Currency,
			"display_rank":       next.DisplayRank,
			"active":             next.Active,
			"processor_price_id": next.ProcessorPriceID,
			"max_screens":        next.MaxScreens,
			"offline_viewing":    next.OfflineViewing,
			"ad_free":            next.AdFree,
			"game_vault_access":  next.GameVaultAccess,
		}).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrPlanTypeTaken
			}
			return fmt.Errorf("failed to update plan: %w", err)
		}
		updated = next
		return reproject(tx, &next)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a plan no subscription has ever referenced.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := s.first(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		if cur.IsFree() {
			return ErrSoleFreePlan
		}
		n, err := countSubscriptions(tx, cur.ID, nil)
		if err != nil {
			return err
		}
		var pending int64
		if err := tx.Model(&models.CheckoutSession{}).
			Where("plan_id = ? AND status = ?", cur.ID, types.CheckoutSessionStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if n+pending > 0 {
			return ErrPlanInUse
		}
		if err := tx.Delete(&models.Plan{}, "id = ?", cur.ID).Error; err != nil {
			return fmt.Errorf("failed to delete plan: %w", err)
		}
		logctx.FromCtx(ctx, s.log).Infow("plan_deleted", "plan_id", cur.ID, "type", cur.Type)
		return nil
	})
}

// Seed inserts configured plans whose type is not in the catalog yet.
func (s *Service) Seed(ctx context.Context, seeds []config.PlanSeed) error {
	for _, seed := range seeds {
		_, err := s.GetByType(ctx, seed.Type)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return err
		}
		p := &models.Plan{
			Type:             seed.Type,
			Name:             seed.Name,
			BillingCycle:     seed.BillingCycle,
			Price:            seed.PriceDecimal(),
			Currency:         seed.Currency,
			DisplayRank:      seed.DisplayRank,
			Active:           true,
			ProcessorPriceID: seed.ProcessorPriceID,
			MaxScreens:       seed.MaxScreens,
			OfflineViewing:   seed.OfflineViewing,
			AdFree:           seed.AdFree,
			GameVaultAccess:  seed.GameVaultAccess,
		}
		if _, err := s.Create(ctx, p); err != nil && !errors.Is(err, ErrPlanTypeTaken) {
			return fmt.Errorf("seed plan %s: %w", seed.Type, err)
		}
	}
	return nil
}

func (s *Service) first(ctx context.Context, db *gorm.DB, query string, args ...any) (*models.Plan, error) {
	var p models.Plan
	if err := db.WithContext(ctx).Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	return &p, nil
}

// reproject rewrites the cached snapshot of every account whose bundle comes
// from p, so feature edits reach current holders in the same transaction.
func reproject(tx *gorm.DB, p *models.Plan) error {
	var free *models.Plan
	if p.IsFree() {
		free = p
	} else {
		var f models.Plan
		err := tx.Where("type = ?", types.PlanTypeFree).First(&f).Error
		switch {
		case err == nil:
			free = &f
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("failed to load free plan: %w", err)
		}
	}
	d := entitlement.NewDeriver(free)

	var subs []*models.Subscription
	if err := tx.Where("plan_id = ? AND status IN ?", p.ID, types.EntitledSubscriptionStatuses).Find(&subs).Error; err != nil {
		return fmt.Errorf("failed to load plan holders: %w", err)
	}
	for _, sub := range subs {
		snap := d.Snapshot(sub, p, free)
		if err := tx.Model(&models.Account{}).Where("id = ?", sub.AccountID).Updates(snap.Columns()).Error; err != nil {
			return fmt.Errorf("failed to update entitlement snapshot: %w", err)
		}
	}
	if !p.IsFree() {
		return nil
	}

	// everyone without an entitled subscription holds the FREE bundle
	b := entitlement.PlanBundle(p)
	err := tx.Model(&models.Account{}).
		Where("subscription_status NOT IN ?", types.EntitledSubscriptionStatuses).
		Updates(map[string]any{
			"max_screens":       b.MaxScreens,
			"offline_viewing":   b.OfflineViewing,
			"game_vault_access": b.GameVaultAccess,
			"ad_free":           b.AdFree,
			"quality_tier":      b.QualityTier,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update free snapshots: %w", err)
	}
	return nil
}

func countSubscriptions(tx *gorm.DB, planID string, statuses []types.SubscriptionStatus) (int64, error) {
	q := tx.Model(&models.Subscription{}).Where("plan_id = ?", planID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func validate(p *models.Plan) error {
	p.Type = types.PlanType(strings.ToUpper(strings.TrimSpace(string(p.Type))))
	switch {
	case p.Type == "":
		return fmt.Errorf("%w: type is required", ErrInvalidPlan)
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPlan)
	case p.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidPlan)
	case p.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrInvalidPlan)
	case p.MaxScreens < 1:
		return fmt.Errorf("%w: max_screens must be at least 1", ErrInvalidPlan)
	}
	if p.IsFree() {
		if p.BillingCycle == "" {
			p.BillingCycle = types.BillingCycleNone
		}
		return nil
	}
	if p.BillingCycle != types.BillingCycleMonthly && p.BillingCycle != types.BillingCycleAnnually {
		return fmt.Errorf("%w: paid plans bill monthly or annually", ErrInvalidPlan)
	}
	return nil
}

func registerSeed(lc fx.Lifecycle, s *Service, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Seed(ctx, cfg.Plans)
		},
	})
}

var Module = fx.Options(
	fx.Provide(NewService),
	fx.Invoke(registerSeed),
)
