// Package redis provides the shared Redis client used for cross-instance counters.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/fanpass/pkg/config"
)

var ErrRedisNotReady = errors.New("redis is not ready")

const (
	connectAttempts = 3
	retryInterval   = time.Second
	connectTimeout  = 10 * time.Second
)

// Connect parses url and pings the server, retrying a few times before giving up.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	var lastErr error
	for range connectAttempts {
		client := redis.NewClient(opt)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(retryInterval):
		}
	}
	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

// New returns nil when no URL is configured.
func New(lc fx.Lifecycle, cfg *config.Config, log *zap.SugaredLogger) (*redis.Client, error) {
	if cfg.Redis.URL == "" {
		log.Infow("redis url is empty, using in-process counters")
		return nil, nil
	}
	client, err := Connect(context.Background(), cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Infow("closing redis client")
			return client.Close()
		},
	})
	return client, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
