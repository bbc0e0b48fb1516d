// Package subscription is the only writer of subscription rows and of the
// entitlement snapshot cached on accounts.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/entitlement"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/internal/platform/eventbus"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/metrics"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

type Service struct {
	db      *gorm.DB
	billing config.BillingConfig
	events  eventbus.Publisher
	metrics *metrics.Business
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewService(db *gorm.DB, billing config.BillingConfig, events eventbus.Publisher, m *metrics.Business, log *zap.SugaredLogger) *Service {
	if events == nil {
		events = eventbus.NewNoopPublisher(log)
	}
	return &Service{
		db:      db,
		billing: billing,
		events:  events,
		metrics: m,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the wall clock used for every transition.
func (s *Service) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Now returns the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// Event identifies the processor event that drives a transition.
type Event struct {
	ID         string
	OccurredAt time.Time
}

func (e *Event) check(sub *models.Subscription) error {
	if e == nil || sub == nil {
		return nil
	}
	if sub.LastEventID != nil && *sub.LastEventID == e.ID {
		return ErrDuplicateEvent
	}
	if sub.LastEventAt != nil && e.OccurredAt.Before(*sub.LastEventAt) {
		return fmt.Errorf("%w: event %s at %s, last applied at %s", ErrStaleEvent, e.ID, e.OccurredAt.Format(time.RFC3339), sub.LastEventAt.Format(time.RFC3339))
	}
	return nil
}

func (e *Event) apply(sub *models.Subscription) {
	if e == nil {
		return
	}
	id, at := e.ID, e.OccurredAt.UTC()
	sub.LastEventID = &id
	if sub.LastEventAt == nil || at.After(*sub.LastEventAt) {
		sub.LastEventAt = &at
	}
}

// PaymentInput is the charge attempt recorded alongside a transition.
type PaymentInput struct {
	ExternalID string
	Amount     decimal.Decimal
	Currency   string
	PaidAt     *time.Time
}

// change is what a transition decided to write.
type change struct {
	next    *models.Subscription
	reason  types.SubscriptionChangeReason
	payment *models.Payment
}

type decideFunc func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error)

// transition runs load, precondition, compare-and-swap, snapshot refresh and
// audit log in one database transaction. A nil change from decide is a no-op.
func (s *Service) transition(ctx context.Context, name, id string, ev *Event, decide decideFunc) (*models.Subscription, error) {
	now := s.now()
	var (
		result  *models.Subscription
		before  *models.Subscription
		applied *change
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := loadSubscription(tx, id)
		if err != nil {
			return err
		}
		result = cur
		if err := ev.check(cur); err != nil {
			return err
		}
		c, err := decide(tx, cur, now)
		if err != nil || c == nil {
			return err
		}
		ev.apply(c.next)
		if err := s.commit(tx, cur, c.next, c.reason, ev); err != nil {
			return err
		}
		if c.payment != nil {
			if err := insertPayment(tx, c.payment); err != nil {
				return err
			}
		}
		if err := s.refreshAccount(tx, c.next); err != nil {
			return err
		}
		result, before, applied = c.next, cur, c
		return nil
	})
	s.observe(ctx, name, applied != nil, err, "subscription_id", id)
	if err != nil {
		return result, err
	}
	if applied != nil {
		s.afterCommit(ctx, before, result, applied.reason)
	}
	return result, nil
}

// commit writes next over cur only if nobody moved cur since it was read.
func (s *Service) commit(tx *gorm.DB, cur, next *models.Subscription, reason types.SubscriptionChangeReason, ev *Event) error {
	next.Version = cur.Version + 1
	res := tx.Model(&models.Subscription{}).
		Where("id = ? AND status = ? AND version = ?", cur.ID, cur.Status, cur.Version).
		Updates(next.MutableColumns())
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrExistingActiveSubscription
		}
		return fmt.Errorf("failed to update subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentTransitionLost
	}
	return writeLog(tx, cur, next, reason, ev)
}

// refreshAccount projects sub onto the owning account's cached snapshot.
func (s *Service) refreshAccount(tx *gorm.DB, sub *models.Subscription) error {
	var p models.Plan
	if err := tx.Where("id = ?", sub.PlanID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return plan.ErrPlanNotFound
		}
		return fmt.Errorf("failed to load plan: %w", err)
	}
	free, err := freePlan(tx)
	if err != nil {
		return err
	}
	snap := entitlement.NewDeriver(free).Snapshot(sub, &p, free)
	res := tx.Model(&models.Account{}).Where("id = ?", sub.AccountID).Updates(snap.Columns())
	if res.Error != nil {
		return fmt.Errorf("failed to update entitlement snapshot: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *Service) observe(ctx context.Context, name string, applied bool, err error, kv ...any) {
	log := logctx.FromCtx(ctx, s.log).With(kv...).With("transition", name)
	switch {
	case err == nil && applied:
		s.metrics.Transition(name, "applied")
	case err == nil:
		s.metrics.Transition(name, "noop")
		log.Info("subscription_transition_noop")
	case errors.Is(err, ErrConcurrentTransitionLost):
		s.metrics.Transition(name, "lost")
		log.Info("subscription_transition_lost")
	case errors.Is(err, ErrDuplicateEvent), errors.Is(err, ErrStaleEvent):
		s.metrics.Transition(name, "noop")
		log.Infow("subscription_event_skipped", "reason", err.Error())
	case isBusinessError(err):
		s.metrics.Transition(name, "rejected")
		log.Infow("subscription_transition_rejected", "reason", err.Error())
	default:
		s.metrics.Transition(name, "error")
		log.Errorw("subscription_transition_failed", "error", err)
	}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrSubscriptionNotFound, ErrAccountNotFound, ErrExistingActiveSubscription,
		ErrInvalidTransition, ErrSubscriptionEnded, ErrPlanNotPurchasable, plan.ErrPlanNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// EntitlementChanged is published after every committed transition.
type EntitlementChanged struct {
	AccountID      string                         `json:"account_id"`
	SubscriptionID string                         `json:"subscription_id"`
	PlanID         string                         `json:"plan_id"`
	Status         types.SubscriptionStatus       `json:"status"`
	PreviousStatus types.SubscriptionStatus       `json:"previous_status,omitempty"`
	Reason         types.SubscriptionChangeReason `json:"reason"`
	EndDate        time.Time                      `json:"end_date"`
	OccurredAt     time.Time                      `json:"occurred_at"`
}

func (s *Service) afterCommit(ctx context.Context, before, after *models.Subscription, reason types.SubscriptionChangeReason) {
	msg := EntitlementChanged{
		AccountID:      after.AccountID,
		SubscriptionID: after.ID,
		PlanID:         after.PlanID,
		Status:         after.Status,
		Reason:         reason,
		EndDate:        after.EndDate,
		OccurredAt:     s.now(),
	}
	if before != nil {
		msg.PreviousStatus = before.Status
	}
	logctx.FromCtx(ctx, s.log).Infow("subscription_transition_applied",
		"subscription_id", after.ID, "account_id", after.AccountID,
		"from", msg.PreviousStatus, "to", after.Status, "reason", reason, "version", after.Version)
	if err := eventbus.PublishJSON(ctx, s.events, eventbus.KeyEntitlementChanged, msg); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("failed to publish entitlement change", "subscription_id", after.ID, "error", err)
	}
}

func writeLog(tx *gorm.DB, before, after *models.Subscription, reason types.SubscriptionChangeReason, ev *Event) error {
	extra := datatypes.JSONMap{"version": after.Version}
	if ev != nil {
		extra["event_id"] = ev.ID
		extra["event_at"] = ev.OccurredAt
	}
	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		AccountID:      after.AccountID,
		SubscriptionID: after.ID,
		Reason:         reason,
		Before:         datatypes.NewJSONType(before),
		After:          datatypes.NewJSONType(after),
		Extra:          extra,
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}
	return nil
}

func insertPayment(tx *gorm.DB, p *models.Payment) error {
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if err := tx.Create(p).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

func paymentExists(tx *gorm.DB, externalID string) (*models.Payment, error) {
	if externalID == "" {
		return nil, nil
	}
	var p models.Payment
	err := tx.Where("external_id = ?", externalID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	}
	return &p, nil
}

func loadSubscription(tx *gorm.DB, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := tx.Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func loadPlan(tx *gorm.DB, query string, args ...any) (*models.Plan, error) {
	var p models.Plan
	if err := tx.Where(query, args...).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, plan.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	return &p, nil
}

// freePlan may return nil; the built-in free bundle is used then.
func freePlan(tx *gorm.DB) (*models.Plan, error) {
	p, err := loadPlan(tx, "type = ?", types.PlanTypeFree)
	if errors.Is(err, plan.ErrPlanNotFound) {
		return nil, nil
	}
	return p, err
}
