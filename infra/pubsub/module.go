package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(func(cfg *config.Config, logger watermill.LoggerAdapter) (Factory, error) {
		return NewFactory(cfg.PubSub, logger)
	}),
)
