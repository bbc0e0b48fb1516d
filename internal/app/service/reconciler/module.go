package reconciler

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/checkout"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/app/service/webhook_log"
	processor "github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

type params struct {
	fx.In

	Verifier  *processor.Verifier
	Subs      *subscription.Service
	Plans     *plan.Service
	Accounts  *account.Service
	Checkouts *checkout.Service
	Events    *webhook_log.Service
	Config    *config.Config
	Metrics   *metrics.Business
	Log       *zap.SugaredLogger
}

func provideService(p params) *Service {
	return NewService(Deps{
		Verifier:  p.Verifier,
		Subs:      p.Subs,
		Plans:     p.Plans,
		Accounts:  p.Accounts,
		Checkouts: p.Checkouts,
		Events:    p.Events,
		Timeout:   p.Config.Webhook.Timeout,
		Metrics:   p.Metrics,
		Log:       p.Log,
	})
}

var Module = fx.Options(
	fx.Provide(provideService),
)
