package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/tool"
	"github.com/fatflowers/fanpass/pkg/types"
)

// CreateRequest starts a new paid term for an account.
type CreateRequest struct {
	AccountID string
	// ResolveAccount, when set, supplies the owning account inside the create
	// transaction and replaces AccountID. An account it creates is rolled back
	// together with the subscription.
	ResolveAccount func(tx *gorm.DB) (*models.Account, error)
	PlanID         string
	PaymentMethod  types.PaymentMethod
	// ExternalID is the processor's subscription id.
	ExternalID string
	// CheckoutSessionID is the processor correlation id of the confirming checkout.
	CheckoutSessionID string
	// Amount defaults to the plan price.
	Amount   *decimal.Decimal
	Currency string
	// Supersede expires a live subscription instead of failing.
	Supersede bool
	Payment   *PaymentInput
	Event     *Event
	Metadata  *models.SubscriptionMetadata
	Reason    types.SubscriptionChangeReason
}

// Create opens an ACTIVE subscription. Replaying the same checkout session or
// initial payment returns the existing row with ErrDuplicateEvent.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*models.Subscription, error) {
	if req == nil || (req.AccountID == "" && req.ResolveAccount == nil) || req.PlanID == "" {
		return nil, fmt.Errorf("invalid params: account_id and plan_id required")
	}
	if req.Reason == "" {
		req.Reason = types.SubscriptionChangeReasonPurchase
	}
	now := s.now()

	var (
		created    *models.Subscription
		superseded []*models.Subscription
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if existing, err := s.findReplay(tx, req); err != nil || existing != nil {
			created = existing
			return err
		}

		p, err := loadPlan(tx, "id = ?", req.PlanID)
		if err != nil {
			return err
		}
		period := s.billing.Period(p.BillingCycle)
		if p.IsFree() || period <= 0 {
			return fmt.Errorf("%w: %s", ErrPlanNotPurchasable, p.Type)
		}

		if req.ResolveAccount != nil {
			acc, err := req.ResolveAccount(tx)
			if err != nil {
				return err
			}
			req.AccountID = acc.ID
		}
		var account models.Account
		if err := tx.Where("id = ?", req.AccountID).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("failed to load account: %w", err)
		}

		var current []*models.Subscription
		if err := tx.Where("account_id = ? AND status IN ?", req.AccountID, types.CurrentSubscriptionStatuses).
			Find(&current).Error; err != nil {
			return fmt.Errorf("failed to load current subscriptions: %w", err)
		}
		for _, cur := range current {
			if cur.Status.Live() && !req.Supersede {
				return ErrExistingActiveSubscription
			}
		}
		for _, cur := range current {
			next := supersede(cur, now)
			if err := s.commit(tx, cur, next, types.SubscriptionChangeReasonSuperseded, req.Event); err != nil {
				return err
			}
			superseded = append(superseded, next)
		}

		sub := newSubscription(req, p, now, period)
		req.Event.apply(sub)
		if err := tx.Create(sub).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrConcurrentTransitionLost
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		if err := writeLog(tx, nil, sub, req.Reason, req.Event); err != nil {
			return err
		}
		if req.Payment != nil {
			if err := insertPayment(tx, newPayment(sub, req.Payment, types.PaymentKindInitial, types.PaymentStatusCompleted, now)); err != nil {
				return err
			}
		}
		if req.CheckoutSessionID != "" {
			if err := completeCheckout(tx, req.CheckoutSessionID, sub.ID, now); err != nil {
				return err
			}
		}
		if err := s.refreshAccount(tx, sub); err != nil {
			return err
		}
		created = sub
		return nil
	})
	s.observe(ctx, "create", err == nil, err, "account_id", req.AccountID, "plan_id", req.PlanID)
	if err != nil {
		return created, err
	}
	for _, old := range superseded {
		s.afterCommit(ctx, nil, old, types.SubscriptionChangeReasonSuperseded)
	}
	s.afterCommit(ctx, nil, created, req.Reason)
	return created, nil
}

// findReplay returns the subscription an already applied checkout or payment produced.
func (s *Service) findReplay(tx *gorm.DB, req *CreateRequest) (*models.Subscription, error) {
	if req.CheckoutSessionID != "" {
		var sub models.Subscription
		err := tx.Where("checkout_session_id = ?", req.CheckoutSessionID).First(&sub).Error
		if err == nil {
			return &sub, ErrDuplicateEvent
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up checkout subscription: %w", err)
		}
	}
	if req.Payment != nil {
		p, err := paymentExists(tx, req.Payment.ExternalID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			sub, err := loadSubscription(tx, p.SubscriptionID)
			if err != nil {
				return nil, err
			}
			return sub, ErrDuplicateEvent
		}
	}
	return nil, nil
}

func newSubscription(req *CreateRequest, p *models.Plan, now time.Time, period time.Duration) *models.Subscription {
	end := now.Add(period)
	amount := p.Price
	if req.Amount != nil {
		amount = *req.Amount
	}
	currency := p.Currency
	if req.Currency != "" {
		currency = req.Currency
	}
	method := req.PaymentMethod
	if method == "" {
		method = types.PaymentMethodProcessor
	}
	autoRenewal := method != types.PaymentMethodAdminGift
	sub := &models.Subscription{
		ID:              tool.GenerateUUIDV7(),
		AccountID:       req.AccountID,
		PlanID:          p.ID,
		Status:          types.SubscriptionStatusActive,
		StartDate:       now,
		EndDate:         end,
		Amount:          amount,
		Currency:        currency,
		PaymentMethod:   method,
		AutoRenewal:     autoRenewal,
		LastBillingDate: &now,
		Version:         1,
		Metadata:        datatypes.NewJSONType(req.Metadata),
	}
	if autoRenewal {
		sub.NextBillingDate = &end
	}
	if req.ExternalID != "" {
		id := req.ExternalID
		sub.ExternalID = &id
	}
	if req.CheckoutSessionID != "" {
		id := req.CheckoutSessionID
		sub.CheckoutSessionID = &id
	}
	return sub
}

// supersede ends cur at now because a new term replaces it.
func supersede(cur *models.Subscription, now time.Time) *models.Subscription {
	next := *cur
	next.Status = types.SubscriptionStatusExpired
	next.GracePeriodEnd = nil
	next.NextBillingDate = nil
	next.AutoRenewal = false
	if next.EndDate.After(now) {
		next.EndDate = now
	}
	if next.CancelledAt == nil {
		next.CancelledAt = &now
	}
	if next.CancellationReason == nil {
		reason := types.CancellationReasonSuperseded
		next.CancellationReason = &reason
	}
	return &next
}

func newPayment(sub *models.Subscription, in *PaymentInput, kind types.PaymentKind, status types.PaymentStatus, now time.Time) *models.Payment {
	amount := in.Amount
	currency := in.Currency
	if currency == "" {
		currency = sub.Currency
	}
	p := &models.Payment{
		ID:             tool.GenerateUUIDV7(),
		AccountID:      sub.AccountID,
		SubscriptionID: sub.ID,
		ExternalID:     in.ExternalID,
		Kind:           kind,
		Status:         status,
		Amount:         amount,
		Currency:       currency,
	}
	if status == types.PaymentStatusCompleted {
		paidAt := now
		if in.PaidAt != nil {
			paidAt = in.PaidAt.UTC()
		}
		p.PaidAt = &paidAt
	}
	if p.ExternalID == "" {
		p.ExternalID = p.ID
	}
	return p
}

// completeCheckout marks the local checkout session as confirmed by the processor.
func completeCheckout(tx *gorm.DB, externalID, subscriptionID string, now time.Time) error {
	err := tx.Model(&models.CheckoutSession{}).
		Where("external_id = ? AND status <> ?", externalID, types.CheckoutSessionStatusComplete).
		Updates(map[string]any{
			"status":          types.CheckoutSessionStatusComplete,
			"subscription_id": subscriptionID,
			"completed_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete checkout session: %w", err)
	}
	return nil
}

// RenewRequest records a successful recurring charge.
type RenewRequest struct {
	SubscriptionID string
	Payment        *PaymentInput
	Event          *Event
}

// Renew extends the term by one billing period counted from the current end date.
func (s *Service) Renew(ctx context.Context, req *RenewRequest) (*models.Subscription, error) {
	return s.transition(ctx, "renew", req.SubscriptionID, req.Event, func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error) {
		if req.Payment != nil {
			if p, err := paymentExists(tx, req.Payment.ExternalID); err != nil {
				return nil, err
			} else if p != nil {
				return nil, ErrDuplicateEvent
			}
		}
		if !cur.Status.Live() {
			return nil, fmt.Errorf("%w: renew from %s", ErrInvalidTransition, cur.Status)
		}
		p, err := loadPlan(tx, "id = ?", cur.PlanID)
		if err != nil {
			return nil, err
		}
		period := s.billing.Period(p.BillingCycle)
		if period <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotPurchasable, p.Type)
		}

		next := *cur
		next.Status = types.SubscriptionStatusActive
		next.EndDate = cur.EndDate.Add(period)
		next.GracePeriodEnd = nil
		next.RenewalCount = cur.RenewalCount + 1
		next.LastBillingDate = &now
		end := next.EndDate
		next.NextBillingDate = &end

		c := &change{next: &next, reason: types.SubscriptionChangeReasonRenewal}
		if req.Payment != nil {
			c.payment = newPayment(&next, req.Payment, types.PaymentKindRenewal, types.PaymentStatusCompleted, now)
			c.next.LastBillingDate = c.payment.PaidAt
		}
		return c, nil
	})
}

// GraceTrigger names what moved a subscription into its grace period.
type GraceTrigger string

const (
	GraceTriggerTermElapsed   GraceTrigger = "term_elapsed"
	GraceTriggerPaymentFailed GraceTrigger = "payment_failed"
)

type GraceRequest struct {
	SubscriptionID string
	Trigger        GraceTrigger
	// Payment is the failed charge, if the processor reported one.
	Payment *PaymentInput
	Event   *Event
}

// EnterGracePeriod keeps every feature while the processor retries the charge.
// A subscription already in its grace period is left as is.
func (s *Service) EnterGracePeriod(ctx context.Context, req *GraceRequest) (*models.Subscription, error) {
	return s.transition(ctx, "enter_grace_period", req.SubscriptionID, req.Event, func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error) {
		var failed *models.Payment
		if req.Payment != nil {
			if p, err := paymentExists(tx, req.Payment.ExternalID); err != nil {
				return nil, err
			} else if p != nil {
				return nil, ErrDuplicateEvent
			}
			failed = newPayment(cur, req.Payment, types.PaymentKindFailedRenewal, types.PaymentStatusFailed, now)
		}

		switch cur.Status {
		case types.SubscriptionStatusGracePeriod:
			if failed != nil {
				return nil, insertPayment(tx, failed)
			}
			return nil, nil
		case types.SubscriptionStatusActive:
		default:
			return nil, fmt.Errorf("%w: grace period from %s", ErrInvalidTransition, cur.Status)
		}
		if req.Trigger != GraceTriggerPaymentFailed && cur.EndDate.After(now) {
			return nil, fmt.Errorf("%w: term ends at %s", ErrInvalidTransition, cur.EndDate.Format(time.RFC3339))
		}

		next := *cur
		graceEnd := now.Add(s.billing.GracePeriod)
		next.Status = types.SubscriptionStatusGracePeriod
		next.GracePeriodEnd = &graceEnd

		reason := types.SubscriptionChangeReasonTermElapsed
		if req.Trigger == GraceTriggerPaymentFailed {
			reason = types.SubscriptionChangeReasonPaymentFailed
		}
		return &change{next: &next, reason: reason, payment: failed}, nil
	})
}

type ExpireRequest struct {
	SubscriptionID string
	// Immediate ends the term now, skipping the grace period.
	Immediate bool
	// CancellationReason is recorded unless the row already carries one.
	CancellationReason string
	Event              *Event
}

// Expire ends access and downgrades the account to the FREE bundle.
func (s *Service) Expire(ctx context.Context, req *ExpireRequest) (*models.Subscription, error) {
	return s.transition(ctx, "expire", req.SubscriptionID, req.Event, func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error) {
		if cur.Status == types.SubscriptionStatusExpired {
			return nil, nil
		}
		if err := expirable(cur, now, req.Immediate); err != nil {
			return nil, err
		}

		next := *cur
		next.Status = types.SubscriptionStatusExpired
		next.GracePeriodEnd = nil
		next.NextBillingDate = nil
		next.AutoRenewal = false
		if next.EndDate.After(now) {
			next.EndDate = now
		}
		if next.CancelledAt == nil {
			next.CancelledAt = &now
		}
		if next.CancellationReason == nil {
			reason := req.CancellationReason
			if reason == "" {
				reason = types.CancellationReasonNonPayment
			}
			next.CancellationReason = &reason
		}

		changeReason := types.SubscriptionChangeReasonExpired
		if req.Immediate {
			changeReason = types.SubscriptionChangeReasonProcessorEnd
		}
		return &change{next: &next, reason: changeReason}, nil
	})
}

func expirable(cur *models.Subscription, now time.Time, immediate bool) error {
	switch cur.Status {
	case types.SubscriptionStatusActive:
		if immediate {
			return nil
		}
		// only terms without a billing retry path skip the grace period
		if !cur.AutoRenewal && !cur.EndDate.After(now) {
			return nil
		}
	case types.SubscriptionStatusGracePeriod:
		if immediate || (cur.GracePeriodEnd != nil && !cur.GracePeriodEnd.After(now)) {
			return nil
		}
	case types.SubscriptionStatusCancelled:
		if immediate || !cur.EndDate.After(now) {
			return nil
		}
	case types.SubscriptionStatusPending:
		if immediate {
			return nil
		}
	}
	return fmt.Errorf("%w: expire %s subscription", ErrInvalidTransition, cur.Status)
}

type CancelRequest struct {
	SubscriptionID string
	Reason         string
	Event          *Event
}

// Cancel stops renewal but keeps access until the paid end date.
func (s *Service) Cancel(ctx context.Context, req *CancelRequest) (*models.Subscription, error) {
	return s.transition(ctx, "cancel", req.SubscriptionID, req.Event, func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error) {
		switch cur.Status {
		case types.SubscriptionStatusCancelled:
			return nil, nil
		case types.SubscriptionStatusActive, types.SubscriptionStatusGracePeriod:
		default:
			return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, cur.Status)
		}
		reason := req.Reason
		if reason == "" {
			reason = types.CancellationReasonUser
		}
		next := *cur
		next.Status = types.SubscriptionStatusCancelled
		next.AutoRenewal = false
		next.CancelledAt = &now
		next.CancellationReason = &reason
		next.GracePeriodEnd = nil
		next.NextBillingDate = nil
		return &change{next: &next, reason: types.SubscriptionChangeReasonCancel}, nil
	})
}

type ReactivateRequest struct {
	SubscriptionID string
	Event          *Event
}

// Reactivate undoes a cancellation while the paid term is still running.
func (s *Service) Reactivate(ctx context.Context, req *ReactivateRequest) (*models.Subscription, error) {
	return s.transition(ctx, "reactivate", req.SubscriptionID, req.Event, func(tx *gorm.DB, cur *models.Subscription, now time.Time) (*change, error) {
		switch cur.Status {
		case types.SubscriptionStatusActive:
			return nil, nil
		case types.SubscriptionStatusCancelled:
		default:
			return nil, fmt.Errorf("%w: reactivate from %s", ErrInvalidTransition, cur.Status)
		}
		if !cur.EndDate.After(now) {
			return nil, ErrSubscriptionEnded
		}
		next := *cur
		next.Status = types.SubscriptionStatusActive
		next.AutoRenewal = true
		next.CancelledAt = nil
		next.CancellationReason = nil
		end := cur.EndDate
		next.NextBillingDate = &end
		return &change{next: &next, reason: types.SubscriptionChangeReasonReactivate}, nil
	})
}

type GrantRequest struct {
	AccountID  string         `json:"account_id" binding:"required"`
	PlanType   types.PlanType `json:"plan_type" binding:"required"`
	OperatorID string         `json:"operator_id"`
}

// Grant gives an account one term of a paid plan without a charge.
func (s *Service) Grant(ctx context.Context, req *GrantRequest) (*models.Subscription, error) {
	p, err := loadPlan(s.db.WithContext(ctx), "type = ?", req.PlanType)
	if err != nil {
		return nil, err
	}
	zero := decimal.Zero
	return s.Create(ctx, &CreateRequest{
		AccountID:     req.AccountID,
		PlanID:        p.ID,
		PaymentMethod: types.PaymentMethodAdminGift,
		Amount:        &zero,
		Currency:      p.Currency,
		Metadata:      &models.SubscriptionMetadata{OperatorID: req.OperatorID},
		Reason:        types.SubscriptionChangeReasonGift,
	})
}
