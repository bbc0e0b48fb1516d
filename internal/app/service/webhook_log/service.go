package webhook_log

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/models"
	"github.com/fatflowers/fanpass/pkg/logctx"
	"github.com/fatflowers/fanpass/pkg/tool"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Begin records a delivery of ev. done is true when an earlier delivery of
// the same event id was already handled or ignored.
func (s *Service) Begin(ctx context.Context, ev *models.WebhookEvent) (row *models.WebhookEvent, done bool, err error) {
	if ev == nil || ev.EventID == "" {
		return nil, false, fmt.Errorf("invalid params: event_id required")
	}
	existing, err := s.Get(ctx, ev.EventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		if ev.ID == "" {
			ev.ID = tool.GenerateUUIDV7()
		}
		ev.Attempts = 1
		ev.Status = models.WebhookEventStatusReceived
		err := s.db.WithContext(ctx).Create(ev).Error
		if err == nil {
			return ev, false, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, fmt.Errorf("failed to save webhook event: %w", err)
		}
		// a concurrent delivery inserted it first
		if existing, err = s.Get(ctx, ev.EventID); err != nil || existing == nil {
			return nil, false, fmt.Errorf("failed to reload webhook event %s: %w", ev.EventID, err)
		}
	}
	if existing.Status.Done() {
		return existing, true, nil
	}

	existing.Attempts++
	existing.Status = models.WebhookEventStatusReceived
	if err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", existing.ID).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "status": existing.Status}).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update webhook event: %w", err)
	}
	return existing, false, nil
}

// Finish stores the outcome of a delivery. Failures are logged, not returned,
// so they never change the response sent to the processor.
func (s *Service) Finish(ctx context.Context, eventID string, status models.WebhookEventStatus, result any) {
	updates := map[string]any{"status": status}
	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to marshal webhook result: %v", err)
		} else {
			updates["result"] = datatypes.JSON(body)
		}
	}
	if err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error; err != nil {
		logctx.FromCtx(ctx, s.log).Errorf("failed to save webhook event result: %v", err)
	}
}

func (s *Service) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var row models.WebhookEvent
	err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook event: %w", err)
	}
	return &row, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
