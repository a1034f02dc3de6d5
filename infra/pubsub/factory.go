// Package pubsub builds watermill publishers for the configured broker.
package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/webitel/im-relay-service/config"
)

const (
	DriverGoChannel = "gochannel"
	DriverAMQP      = "amqp"
)

type ExchangeConfig struct {
	Name    string
	Type    string
	Durable bool
}

type PublisherConfig struct {
	Exchange ExchangeConfig
}

// Factory creates publishers bound to one broker connection setting.
type Factory interface {
	BuildPublisher(cfg *PublisherConfig) (message.Publisher, error)
}

// NewFactory picks the driver named in cfg.
func NewFactory(cfg config.PubSubConfig, logger watermill.LoggerAdapter) (Factory, error) {
	switch cfg.Driver {
	case DriverGoChannel:
		return &goChannelFactory{
			bus: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger),
		}, nil
	case DriverAMQP:
		return &amqpFactory{uri: cfg.AMQPURI, logger: logger}, nil
	default:
		return nil, fmt.Errorf("pubsub: unsupported driver %q", cfg.Driver)
	}
}

// goChannelFactory hands out one in-process bus; every publisher shares it
// so in-process subscribers see all exported events.
type goChannelFactory struct {
	bus *gochannel.GoChannel
}

func (f *goChannelFactory) BuildPublisher(*PublisherConfig) (message.Publisher, error) {
	return f.bus, nil
}

// Subscriber exposes the in-process bus for local consumers.
func (f *goChannelFactory) Subscriber() message.Subscriber {
	return f.bus
}

type amqpFactory struct {
	uri    string
	logger watermill.LoggerAdapter
}

func (f *amqpFactory) BuildPublisher(cfg *PublisherConfig) (message.Publisher, error) {
	ac := amqp.NewDurablePubSubConfig(f.uri, amqp.GenerateQueueNameTopicNameWithSuffix("im-relay"))

	// [TOPIC_EXCHANGE] one exchange for every event; the watermill topic becomes the routing key
	exchange := cfg.Exchange
	ac.Exchange.GenerateName = func(string) string { return exchange.Name }
	ac.Exchange.Type = exchange.Type
	ac.Exchange.Durable = exchange.Durable
	ac.Publish.GenerateRoutingKey = func(topic string) string { return topic }

	pub, err := amqp.NewPublisher(ac, f.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher for %s: %w", exchange.Name, err)
	}
	return pub, nil
}
