// Package reconciler turns verified payment processor notifications into
// subscription state machine transitions. Every delivery is recorded by event
// id so redeliveries are acknowledged without repeating side effects.
package reconciler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/app/service/webhook_log"
	"github.com/fatflowers/fanpass/internal/models"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/metrics"
	"github.com/fatflowers/fanpass/pkg/types"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	// ErrUnresolvable marks a checkout that names no usable account or plan.
	ErrUnresolvable = errors.New("checkout cannot be matched to an account and plan")
)

type Verifier interface {
	Verify(r *http.Request) (bool, error)
}

type PlanLookup interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	GetByProcessorPriceID(ctx context.Context, priceID string) (*models.Plan, error)
}

// AccountResolver finds the account a checkout paid for within tx. With
// create set an unknown email gets a new passwordless account.
type AccountResolver interface {
	ResolveTx(ctx context.Context, tx *gorm.DB, accountID, email string, create bool) (*models.Account, error)
}

// CheckoutLookup returns the locally initiated session for a processor
// transaction, or nil when the checkout did not start here.
type CheckoutLookup interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.CheckoutSession, error)
}

// Outcome is what one delivery did. It is stored as the webhook row result.
type Outcome struct {
	EventID        string                    `json:"event_id"`
	EventType      string                    `json:"event_type"`
	Kind           string                    `json:"kind,omitempty"`
	Status         models.WebhookEventStatus `json:"status"`
	SubscriptionID string                    `json:"subscription_id,omitempty"`
	Detail         string                    `json:"detail,omitempty"`
}

type Service struct {
	verifier  Verifier
	subs      *subscription.Service
	plans     PlanLookup
	accounts  AccountResolver
	checkouts CheckoutLookup
	events    *webhook_log.Service
	timeout   time.Duration
	metrics   *metrics.Business
	log       *zap.SugaredLogger
}

type Deps struct {
	Verifier  Verifier
	Subs      *subscription.Service
	Plans     PlanLookup
	Accounts  AccountResolver
	Checkouts CheckoutLookup
	Events    *webhook_log.Service
	Timeout   time.Duration
	Metrics   *metrics.Business
	Log       *zap.SugaredLogger
}

func NewService(d Deps) *Service {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{
		verifier:  d.Verifier,
		subs:      d.Subs,
		plans:     d.Plans,
		accounts:  d.Accounts,
		checkouts: d.Checkouts,
		events:    d.Events,
		timeout:   timeout,
		metrics:   d.Metrics,
		log:       d.Log.Named("reconciler"),
	}
}

// result is what a handler reports back to Process.
type result struct {
	sub     *models.Subscription
	ignored string
}

// Process verifies, records and applies one delivery. The returned error is
// ErrInvalidSignature for deliveries that must be rejected, ErrMalformedEvent
// for ones that can never be decoded, and anything else for deliveries the
// processor should retry.
// Events that are acknowledged without effect return an Outcome and no error.
func (s *Service) Process(ctx context.Context, body []byte, signature string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	log := logctx.FromCtx(ctx, s.log)

	if err := s.verify(ctx, body, signature); err != nil {
		log.Warnw("webhook rejected", "error", err)
		s.metrics.WebhookEvent("unverified", "rejected")
		return nil, err
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.metrics.WebhookEvent("undecodable", "rejected")
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.EventID == "" || env.EventType == "" {
		s.metrics.WebhookEvent("undecodable", "rejected")
		return nil, fmt.Errorf("%w: event_id and event_type required", ErrMalformedEvent)
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = s.subs.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	log = log.With("event_id", env.EventID, "event_type", env.EventType)

	row, done, err := s.events.Begin(ctx, &models.WebhookEvent{
		EventID:    env.EventID,
		EventType:  env.EventType,
		TraceID:    logctx.TraceID(ctx),
		OccurredAt: env.OccurredAt,
		Data:       datatypes.JSON(body),
	})
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventID: env.EventID, EventType: env.EventType}
	if done {
		out.Status = row.Status
		out.Detail = "already processed"
		log.Infow("webhook redelivery acknowledged", "attempts", row.Attempts+1)
		s.metrics.WebhookEvent(metricType(env.EventType), "duplicate")
		return out, nil
	}

	payload, err := Decode(&env)
	if err != nil {
		out.Status = models.WebhookEventStatusFailed
		out.Detail = err.Error()
		s.events.Finish(ctx, env.EventID, out.Status, out)
		s.metrics.WebhookEvent(metricType(env.EventType), "rejected")
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	out.Kind = Kind(payload)

	ev := &subscription.Event{ID: env.EventID, OccurredAt: env.OccurredAt}
	res, err := s.dispatch(ctx, ev, payload)
	if res != nil && res.sub != nil {
		out.SubscriptionID = res.sub.ID
	}

	var retry error
	switch {
	case err == nil && res != nil && res.ignored != "":
		out.Status = models.WebhookEventStatusIgnored
		out.Detail = res.ignored
	case err == nil:
		out.Status = models.WebhookEventStatusHandled
	case subscription.IsNoop(err),
		errors.Is(err, subscription.ErrInvalidTransition),
		errors.Is(err, subscription.ErrSubscriptionEnded):
		out.Status = models.WebhookEventStatusIgnored
		out.Detail = err.Error()
	case permanent(err):
		// retrying cannot fix these, acknowledge and leave them for an operator
		out.Status = models.WebhookEventStatusFailed
		out.Detail = err.Error()
		log.Errorw("webhook could not be applied", "kind", out.Kind, "error", err)
	default:
		out.Status = models.WebhookEventStatusFailed
		out.Detail = err.Error()
		retry = err
	}

	s.events.Finish(ctx, env.EventID, out.Status, out)
	s.metrics.WebhookEvent(metricType(env.EventType), string(out.Status))
	if retry != nil {
		log.Errorw("webhook handling failed", "kind", out.Kind, "error", retry)
		return out, retry
	}
	log.Infow("webhook processed", "kind", out.Kind, "status", out.Status,
		"subscription_id", out.SubscriptionID, "detail", out.Detail)
	return out, nil
}

func (s *Service) verify(ctx context.Context, body []byte, signature string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, processor.SignatureHeader)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(processor.SignatureHeader, signature)
	ok, err := s.verifier.Verify(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

func (s *Service) dispatch(ctx context.Context, ev *subscription.Event, p Payload) (*result, error) {
	switch p := p.(type) {
	case CheckoutCompleted:
		return s.onCheckoutCompleted(ctx, ev, &p)
	case InvoicePaymentSucceeded:
		return s.onInvoicePaid(ctx, ev, &p)
	case InvoicePaymentFailed:
		return s.onInvoiceFailed(ctx, ev, &p)
	case SubscriptionUpdated:
		return s.onSubscriptionUpdated(ctx, ev, &p)
	case SubscriptionDeleted:
		return s.onSubscriptionDeleted(ctx, ev, &p)
	case Unhandled:
		return &result{ignored: p.Reason.Error()}, nil
	default:
		return nil, fmt.Errorf("no handler for %T", p)
	}
}

func (s *Service) onCheckoutCompleted(ctx context.Context, ev *subscription.Event, p *CheckoutCompleted) (*result, error) {
	session, err := s.checkouts.GetByExternalID(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	accountID, planID, md := p.AccountID, p.PlanID, p.Metadata
	if session != nil {
		accountID, planID = session.AccountID, session.PlanID
		if sm := session.Metadata.Data(); sm != nil {
			md = sm
		}
	}

	var target *models.Plan
	switch {
	case planID != "":
		target, err = s.plans.GetByID(ctx, planID)
	case p.PriceID != "":
		target, err = s.plans.GetByProcessorPriceID(ctx, p.PriceID)
	default:
		err = fmt.Errorf("%w: no plan on transaction %s", ErrUnresolvable, p.TransactionID)
	}
	if err != nil {
		return nil, err
	}

	if accountID == "" && p.Email == "" {
		return nil, fmt.Errorf("%w: no account on transaction %s", ErrUnresolvable, p.TransactionID)
	}
	// a renewal checkout must land on the account that started it
	renewal := md != nil && md.IsRenewal

	amount := p.Amount
	sub, err := s.subs.Create(ctx, &subscription.CreateRequest{
		ResolveAccount: func(tx *gorm.DB) (*models.Account, error) {
			return s.accounts.ResolveTx(ctx, tx, accountID, p.Email, !renewal)
		},
		PlanID:            target.ID,
		PaymentMethod:     types.PaymentMethodProcessor,
		ExternalID:        p.SubscriptionID,
		CheckoutSessionID: p.TransactionID,
		Amount:            &amount,
		Currency:          p.Currency,
		Supersede:         true,
		Payment: &subscription.PaymentInput{
			ExternalID: p.TransactionID,
			Amount:     p.Amount,
			Currency:   p.Currency,
			PaidAt:     p.PaidAt,
		},
		Event:    ev,
		Metadata: md,
	})
	return &result{sub: sub}, err
}

func (s *Service) onInvoicePaid(ctx context.Context, ev *subscription.Event, p *InvoicePaymentSucceeded) (*result, error) {
	cur, err := s.subs.GetByExternalID(ctx, p.SubscriptionID)
	if err != nil {
		// the checkout that creates it may still be in flight
		return nil, err
	}
	sub, err := s.subs.Renew(ctx, &subscription.RenewRequest{
		SubscriptionID: cur.ID,
		Payment: &subscription.PaymentInput{
			ExternalID: p.TransactionID,
			Amount:     p.Amount,
			Currency:   p.Currency,
			PaidAt:     p.PaidAt,
		},
		Event: ev,
	})
	return &result{sub: orCurrent(sub, cur)}, err
}

func (s *Service) onInvoiceFailed(ctx context.Context, ev *subscription.Event, p *InvoicePaymentFailed) (*result, error) {
	cur, err := s.subs.GetByExternalID(ctx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.EnterGracePeriod(ctx, &subscription.GraceRequest{
		SubscriptionID: cur.ID,
		Trigger:        subscription.GraceTriggerPaymentFailed,
		Payment: &subscription.PaymentInput{
			ExternalID: p.TransactionID,
			Amount:     p.Amount,
			Currency:   p.Currency,
		},
		Event: ev,
	})
	return &result{sub: orCurrent(sub, cur)}, err
}

func (s *Service) onSubscriptionUpdated(ctx context.Context, ev *subscription.Event, p *SubscriptionUpdated) (*result, error) {
	cur, err := s.subs.GetByExternalID(ctx, p.SubscriptionID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return &result{ignored: "unknown subscription"}, nil
	}
	if err != nil {
		return nil, err
	}

	var sub *models.Subscription
	switch {
	case p.Status == "past_due":
		sub, err = s.subs.EnterGracePeriod(ctx, &subscription.GraceRequest{
			SubscriptionID: cur.ID,
			Trigger:        subscription.GraceTriggerPaymentFailed,
			Event:          ev,
		})
	case p.Status == "canceled" || p.ScheduledCancel:
		sub, err = s.subs.Cancel(ctx, &subscription.CancelRequest{
			SubscriptionID: cur.ID,
			Reason:         types.CancellationReasonProcessor,
			Event:          ev,
		})
	case p.Status == "active" && cur.Status == types.SubscriptionStatusCancelled:
		sub, err = s.subs.Reactivate(ctx, &subscription.ReactivateRequest{SubscriptionID: cur.ID, Event: ev})
	default:
		return &result{sub: cur, ignored: "no local change for status " + p.Status}, nil
	}
	return &result{sub: orCurrent(sub, cur)}, err
}

func (s *Service) onSubscriptionDeleted(ctx context.Context, ev *subscription.Event, p *SubscriptionDeleted) (*result, error) {
	cur, err := s.subs.GetByExternalID(ctx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subs.Expire(ctx, &subscription.ExpireRequest{
		SubscriptionID:     cur.ID,
		Immediate:          true,
		CancellationReason: types.CancellationReasonProcessor,
		Event:              ev,
	})
	return &result{sub: orCurrent(sub, cur)}, err
}

func permanent(err error) bool {
	return errors.Is(err, ErrUnresolvable) ||
		errors.Is(err, plan.ErrPlanNotFound) ||
		errors.Is(err, subscription.ErrAccountNotFound) ||
		errors.Is(err, account.ErrAccountNotFound) ||
		errors.Is(err, subscription.ErrPlanNotPurchasable)
}

func orCurrent(sub, cur *models.Subscription) *models.Subscription {
	if sub != nil {
		return sub
	}
	return cur
}

// metricType keeps the metric label set closed.
func metricType(eventType string) string {
	switch eventType {
	case EventTransactionCompleted, EventTransactionPaymentSucceeded, EventTransactionPaymentFailed,
		EventSubscriptionUpdated, EventSubscriptionCanceled:
		return eventType
	}
	return "other"
}
