package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/docs"
	"github.com/fatflowers/fanpass/internal/app/api/handlers"
	mw "github.com/fatflowers/fanpass/internal/app/api/middleware"
	"github.com/fatflowers/fanpass/internal/app/service/account"
	"github.com/fatflowers/fanpass/internal/app/service/checkout"
	"github.com/fatflowers/fanpass/internal/app/service/plan"
	"github.com/fatflowers/fanpass/internal/app/service/reconciler"
	"github.com/fatflowers/fanpass/internal/app/service/statistics"
	subsvc "github.com/fatflowers/fanpass/internal/app/service/subscription"
	"github.com/fatflowers/fanpass/internal/app/service/videogate"
	cfgpkg "github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	if cfg.Env == cfgpkg.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	// request logger and access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

type routeParams struct {
	fx.In

	Engine     *gin.Engine
	Config     *cfgpkg.Config
	Log        *zap.SugaredLogger
	Reconciler *reconciler.Service
	Checkouts  *checkout.Service
	Subs       *subsvc.Service
	Plans      *plan.Service
	Accounts   *account.Service
	Gate       *videogate.Gate
	Stats      *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Config

	if cfg.MetricsAddr != "" {
		prom, err := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			URLLabel: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		if err != nil {
			log.Errorw("metrics disabled", "error", err)
		} else {
			prom.SetListenAddress(cfg.MetricsAddr)
			prom.Use(r)
			log.Infow("metrics started", "addr", cfg.MetricsAddr)
		}
	}

	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	handlers.RegisterBillingRoutes(apiV1.Group("/billing"), p.Reconciler, p.Checkouts, log)
	handlers.RegisterSubscriptionRoutes(apiV1.Group("/subscription"), p.Subs, log)
	handlers.RegisterAuthRoutes(apiV1.Group("/auth"), p.Accounts, log)
	handlers.RegisterVideoRoutes(apiV1.Group("/video"), p.Gate, log)
	handlers.RegisterAdminRoutes(apiV1.Group("/admin"), p.Plans, p.Subs, p.Stats, p.Accounts, log)
}

func runServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server error", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
