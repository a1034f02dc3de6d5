package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
	"github.com/webitel/im-relay-service/internal/service"
)

var Module = fx.Module("event-export",
	fx.Provide(
		NewPublisherProvider,
		func(lc fx.Lifecycle, pp *PublisherProvider, cfg *config.Config) (message.Publisher, error) {
			pub, err := pp.Build(cfg.PubSub.Exchange)
			if err != nil {
				return nil, err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return pub.Close() },
			})
			return pub, nil
		},
		NewEventDispatcher,
		func(d EventDispatcher) service.EventExporter { return d },
	),
	fx.Invoke(func(message.Publisher) {}),
)
