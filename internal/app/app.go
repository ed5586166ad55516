// Package app assembles the engine's collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vanshika/fintrace/txnengine/internal/balancer"
	"github.com/vanshika/fintrace/txnengine/internal/cache"
	"github.com/vanshika/fintrace/txnengine/internal/config"
	"github.com/vanshika/fintrace/txnengine/internal/manager"
	"github.com/vanshika/fintrace/txnengine/internal/processor"
	"github.com/vanshika/fintrace/txnengine/internal/queue"
	"github.com/vanshika/fintrace/txnengine/internal/store"
)

// App owns every long-lived connection the manager depends on.
type App struct {
	Manager *manager.Manager
	Cache   *cache.Cache
	Store   store.Store
	Queue   queue.Queue

	redis  redis.UniversalClient
	logger *zap.Logger
}

// Build connects to the configured backends and wires a Manager. The cache
// is required; the queue and store backends follow cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	a.redis = cache.NewClient(cfg.Redis)
	a.Cache = cache.New(a.redis, cfg.Processor.StatusTTL)
	if err := a.Cache.Ping(ctx); err != nil {
		_ = a.redis.Close()
		return nil, fmt.Errorf("connect cache at %s: %w", cfg.Redis.Addr, err)
	}

	q, err := queue.New(cfg, a.redis)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open %s queue: %w", cfg.Queue.Backend, err)
	}
	a.Queue = q

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	a.Store = st

	var counter balancer.Counter = balancer.NewLocalCounter()
	if cfg.Balancer.Counter == "redis" {
		counter = balancer.NewRedisCounter(a.Cache)
	}
	strategy, err := balancer.NewStrategy(cfg.Balancer.Strategy, counter)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts := []balancer.Option{balancer.WithStaleAfter(cfg.Balancer.StaleAfter)}
	if cfg.Balancer.MirrorToCache {
		opts = append(opts, balancer.WithMirror(a.Cache))
	}
	lb := balancer.New(strategy, logger, opts...)

	gateway := processor.NewBreakerGateway(
		processor.NewSimulatedGateway(cfg.Processor.DownstreamLatency),
		processor.DefaultBreakerSettings(),
		logger,
	)

	a.Manager, err = manager.New(cfg, manager.Deps{
		Queue:    a.Queue,
		Store:    a.Store,
		Cache:    a.Cache,
		Balancer: lb,
		Gateway:  gateway,
		Logger:   logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	logger.Info("engine assembled",
		zap.String("queue", cfg.Queue.Backend),
		zap.String("store", cfg.Store.Backend),
		zap.String("strategy", strategy.Name()),
		zap.String("counter", cfg.Balancer.Counter))
	return a, nil
}

// Close releases the queue, store and cache connections.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close queue: %w", err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
