package pubsub

import (
	"github.com/ThreeDotsLabs/watermill/message"

	infrapubsub "github.com/webitel/im-relay-service/infra/pubsub"
)

type PublisherProvider struct {
	factory infrapubsub.Factory
}

func NewPublisherProvider(f infrapubsub.Factory) *PublisherProvider {
	return &PublisherProvider{factory: f}
}

func (pp *PublisherProvider) Build(exchange string) (message.Publisher, error) {
	return pp.factory.BuildPublisher(&infrapubsub.PublisherConfig{
		Exchange: infrapubsub.ExchangeConfig{
			Name:    exchange,
			Type:    "topic",
			Durable: true,
		},
	})
}
