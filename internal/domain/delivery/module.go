package delivery

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/domain/registry"
)

var Module = fx.Module("delivery",
	fx.Provide(func(hub registry.Hubber, cfg *config.Config, logger *slog.Logger, mp metric.MeterProvider) (*Engine, error) {
		return NewEngine(hub,
			WithPolicy(Policy{
				MaxAttempts:  cfg.Delivery.MaxAttempts,
				BaseInterval: cfg.Delivery.BaseInterval,
			}),
			WithLogger(logger.With("component", "delivery")),
			WithMeterProvider(mp),
			WithSendTimeout(cfg.WS.SendTimeout),
			WithMaxInFlight(cfg.Delivery.MaxInFlight),
			WithPendingTTL(cfg.Delivery.PendingTTL),
			WithPruneInterval(cfg.Delivery.PruneInterval),
			WithSettledCacheSize(cfg.Delivery.SettledCache),
		)
	}),
	fx.Invoke(func(lc fx.Lifecycle, e *Engine) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				e.Close() // [GRACEFUL_SHUTDOWN] cancel backoff waits
				return nil
			},
		})
	}),
)
