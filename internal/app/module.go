package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/fanpass/internal/app/api/server"
	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/checkout"
	"github.com/fatflowers/fanpass/internal/app/service/expiry"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/ratelimit"
	"github.com/fatflowers/fanpass/internal/app/service/reconciler"
	"github.com/fatflowers/fanpass/internal/app/service/statistics"
	"github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/app/service/videogate"
	"github.com/fatflowers/fanpass/internal/app/service/webhook_log"
	"github.com/fatflowers/fanpass/internal/platform/db"
	"github.com/fatflowers/fanpass/internal/platform/eventbus"
	"github.com/fatflowers/fanpass/internal/platform/objectstore"
	"github.com/fatflowers/fanpass/internal/platform/paddle"
	"github.com/fatflowers/fanpass/internal/platform/redis"
	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/logger"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// Base is the infrastructure every command needs.
var Base = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	eventbus.Module,
	metrics.Module,
	subscription.Module,
	expiry.Module,
)

// Module runs the HTTP API with the periodic expiry scanner.
var Module = fx.Options(
	Base,
	redis.Module,
	paddle.Module,
	objectstore.Module,
	plan.Module,
	webhook_log.Module,
	ratelimit.Module,
	account.Module,
	checkout.Module,
	reconciler.Module,
	videogate.Module,
	statistics.Module,
	server.Module,
	expiry.Schedule,
)
