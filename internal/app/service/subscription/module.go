package subscription

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/fanpass/internal/platform/eventbus"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

func provideService(db *gorm.DB, cfg *config.Config, events eventbus.Publisher, m *metrics.Business, log *zap.SugaredLogger) *Service {
	return NewService(db, cfg.Billing, events, m, log)
}

// Module exposes the subscription state machine via Fx.
var Module = fx.Options(
	fx.Provide(provideService),
)
