package service

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/internal/domain/delivery"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Narrow views over shared collaborators
		func(e *delivery.Engine) Courier { return e },
		func(s Storage) ChatStore { return s },
		func(s Storage) StatusStore { return s },

		// Domain services
		NewPresence,
		NewRouter,
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
	),

	// [DECORATION_LAYER] Intercept Storage to add cross-cutting concerns
	fx.Decorate(func(orig Storage, logger *slog.Logger) Storage {
		return NewStorageMiddleware(orig, logger)
	}),
)
