package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/fanpass/internal/app/service/entitlement"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/types"
)

func (s *Service) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	return loadSubscription(s.db.WithContext(ctx), id)
}

// GetByExternalID returns the newest subscription linked to a processor subscription id.
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Order("created_at desc").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// CurrentForAccount returns the subscription the account snapshot is projected from.
func (s *Service) CurrentForAccount(ctx context.Context, accountID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND status IN ?", accountID, types.CurrentSubscriptionStatuses).
		Order("created_at desc").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current subscription: %w", err)
	}
	return &sub, nil
}

// StatusView is the entitlement contract served to the rest of the platform.
// It never carries processor identifiers.
type StatusView struct {
	AccountID       string                   `json:"account_id"`
	Status          types.SubscriptionStatus `json:"status"`
	PlanID          *string                  `json:"plan_id"`
	PlanType        types.PlanType           `json:"plan_type"`
	ExpiresAt       *time.Time               `json:"expires_at"`
	DaysUntilExpiry int                      `json:"days_until_expiry"`
	InGracePeriod   bool                     `json:"in_grace_period"`
	GracePeriodEnd  *time.Time               `json:"grace_period_end"`
	AutoRenewal     bool                     `json:"auto_renewal"`
	LastBillingDate *time.Time               `json:"last_billing_date"`
	NextBillingDate *time.Time               `json:"next_billing_date"`
	Features        entitlement.Bundle       `json:"features"`
}

// Status reads the cached snapshot. A grace period or cancelled term that has
// run out is expired first so the caller never sees stale paid access.
func (s *Service) Status(ctx context.Context, accountID string) (*StatusView, error) {
	sub, err := s.CurrentForAccount(ctx, accountID)
	if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}
	if sub != nil && expirable(sub, s.now(), false) == nil {
		log := logctx.FromCtx(ctx, s.log).With("account_id", accountID, "subscription_id", sub.ID)
		expired, err := s.Expire(ctx, &ExpireRequest{SubscriptionID: sub.ID})
		switch {
		case err == nil && expired != nil && expired.Status == types.SubscriptionStatusExpired:
			log.Infow("subscription_expired_on_read")
		case err == nil, IsNoop(err), errors.Is(err, ErrInvalidTransition):
			// another writer moved the row first, the snapshot below is current
		default:
			log.Errorw("subscription_expire_on_read_failed", "error", err)
			return nil, err
		}
	}

	var account models.Account
	if err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return s.view(&account), nil
}

func (s *Service) view(account *models.Account) *StatusView {
	e := account.Entitlement
	v := &StatusView{
		AccountID:       account.ID,
		Status:          e.SubscriptionStatus,
		PlanID:          e.PlanID,
		PlanType:        e.PlanType,
		ExpiresAt:       e.SubscriptionExpiry,
		InGracePeriod:   e.SubscriptionStatus == types.SubscriptionStatusGracePeriod,
		GracePeriodEnd:  e.GracePeriodEnd,
		AutoRenewal:     e.AutoRenewal,
		LastBillingDate: e.LastBillingDate,
		NextBillingDate: e.NextBillingDate,
		Features:        entitlement.FromSnapshot(e),
	}
	if e.SubscriptionExpiry != nil {
		v.DaysUntilExpiry = daysUntil(s.now(), *e.SubscriptionExpiry)
	}
	return v
}

// daysUntil rounds partial days up and never goes negative.
func daysUntil(now, t time.Time) int {
	d := t.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// ListPayments returns the account's charge attempts, newest first.
func (s *Service) ListPayments(ctx context.Context, accountID string) ([]*models.Payment, error) {
	var rows []*models.Payment
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at desc").Order("id desc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return rows, nil
}

// ScanRequest is the admin listing query.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.Subscription `json:"items"`
	Total int64                  `json:"total"`
}

var sortableColumns = []string{"created_at", "updated_at", "start_date", "end_date", "status", "renewal_count", "amount"}

// Scan implements paginated admin listing with filters.
func (s *Service) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if req.Size <= 0 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}

	tx := s.db.WithContext(ctx).Model(&models.Subscription{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{types.FiltersWhere(req.Filters)}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	q := tx.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := "created_at"
	if lo.Contains(sortableColumns, req.SortBy) {
		sortBy = req.SortBy
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*models.Subscription
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}
