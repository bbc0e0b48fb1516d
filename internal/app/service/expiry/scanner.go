// Package expiry periodically moves elapsed subscriptions forward: ACTIVE
// terms past their end date into the grace period, and elapsed grace periods
// or cancelled terms to EXPIRED.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/metrics"
	"github.com/fatflowers/fanpass/pkg/types"
)

// Result counts what one sweep did.
type Result struct {
	Grace            int   `json:"grace"`
	Expired          int   `json:"expired"`
	Lost             int   `json:"lost"`
	Failed           int   `json:"failed"`
	CheckoutsExpired int64 `json:"checkouts_expired"`
}

type Scanner struct {
	db       *gorm.DB
	subs     *subscription.Service
	interval time.Duration
	batch    int
	metrics  *metrics.Business
	log      *zap.SugaredLogger

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func NewScanner(db *gorm.DB, subs *subscription.Service, cfg *config.Config, m *metrics.Business, log *zap.SugaredLogger) *Scanner {
	batch := cfg.Expiry.BatchSize
	if batch <= 0 {
		batch = 200
	}
	interval := cfg.Expiry.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		db:       db,
		subs:     subs,
		interval: interval,
		batch:    batch,
		metrics:  m,
		log:      log.Named("expiry"),
	}
}

// Sweep runs one pass. Rows another writer advanced first are counted as lost.
func (s *Scanner) Sweep(ctx context.Context) (*Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Infow("expiry sweep already running, skipping")
		return &Result{}, nil
	}
	defer s.running.Store(false)

	now := s.subs.Now()
	res := &Result{}

	err := s.each(ctx, "status = ? AND end_date <= ?", []any{types.SubscriptionStatusActive, now}, func(sub *models.Subscription) {
		if sub.AutoRenewal {
			_, err := s.subs.EnterGracePeriod(ctx, &subscription.GraceRequest{SubscriptionID: sub.ID, Trigger: subscription.GraceTriggerTermElapsed})
			s.record(res, "grace", sub, err, &res.Grace)
			return
		}
		_, err := s.subs.Expire(ctx, &subscription.ExpireRequest{SubscriptionID: sub.ID})
		s.record(res, "expire", sub, err, &res.Expired)
	})
	if err != nil {
		return res, err
	}

	err = s.each(ctx, "status = ? AND grace_period_end <= ?", []any{types.SubscriptionStatusGracePeriod, now}, func(sub *models.Subscription) {
		_, err := s.subs.Expire(ctx, &subscription.ExpireRequest{SubscriptionID: sub.ID})
		s.record(res, "expire", sub, err, &res.Expired)
	})
	if err != nil {
		return res, err
	}

	err = s.each(ctx, "status = ? AND end_date <= ?", []any{types.SubscriptionStatusCancelled, now}, func(sub *models.Subscription) {
		_, err := s.subs.Expire(ctx, &subscription.ExpireRequest{SubscriptionID: sub.ID})
		s.record(res, "expire", sub, err, &res.Expired)
	})
	if err != nil {
		return res, err
	}

	n, err := s.expireCheckouts(ctx, now)
	if err != nil {
		return res, err
	}
	res.CheckoutsExpired = n
	s.metrics.Sweep("checkout_expire", "applied", int(n))

	s.log.Infow("expiry sweep finished",
		"grace", res.Grace, "expired", res.Expired, "lost", res.Lost,
		"failed", res.Failed, "checkouts_expired", res.CheckoutsExpired)
	return res, nil
}

// each walks matching subscriptions in id order, one batch at a time.
func (s *Scanner) each(ctx context.Context, query string, args []any, fn func(*models.Subscription)) error {
	lastID := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var batch []*models.Subscription
		if err := s.db.WithContext(ctx).
			Where(query, args...).
			Where("id > ?", lastID).
			Order("id asc").
			Limit(s.batch).
			Find(&batch).Error; err != nil {
			return fmt.Errorf("failed to load expiry candidates: %w", err)
		}
		for _, sub := range batch {
			fn(sub)
		}
		if len(batch) < s.batch {
			return nil
		}
		lastID = batch[len(batch)-1].ID
	}
}

func (s *Scanner) record(res *Result, action string, sub *models.Subscription, err error, applied *int) {
	switch {
	case err == nil:
		*applied++
		s.metrics.Sweep(action, "applied", 1)
	case subscription.IsNoop(err), errors.Is(err, subscription.ErrInvalidTransition):
		// a webhook or an overlapping sweep got there first
		res.Lost++
		s.metrics.Sweep(action, "lost", 1)
	default:
		res.Failed++
		s.metrics.Sweep(action, "failed", 1)
		s.log.Errorw("expiry transition failed", "action", action, "subscription_id", sub.ID, "error", err)
	}
}

func (s *Scanner) expireCheckouts(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("status = ? AND expires_at <= ?", types.CheckoutSessionStatusPending, now).
		Update("status", types.CheckoutSessionStatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire checkout sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Start runs Sweep on every interval tick until Stop.
func (s *Scanner) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), s.interval)
				if _, err := s.Sweep(ctx); err != nil {
					s.log.Errorw("expiry sweep failed", "error", err)
				}
				cancel()
			}
		}
	}()
	s.log.Infow("expiry scanner started", "interval", s.interval, "batch_size", s.batch)
}

func (s *Scanner) Stop(ctx context.Context) error {
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func registerScanner(lc fx.Lifecycle, s *Scanner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}

// Module provides the scanner without scheduling it.
var Module = fx.Options(
	fx.Provide(NewScanner),
)

// Schedule runs the scanner for the lifetime of the fx app.
var Schedule = fx.Invoke(registerScanner)
