package app

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-order-bus/adapters/inmemory"
	"github.com/next-trace/scg-order-bus/adapters/kafka"
	"github.com/next-trace/scg-order-bus/adapters/nats"
	"github.com/next-trace/scg-order-bus/adapters/rabbitmq"
	"github.com/next-trace/scg-order-bus/adapters/watermill"
	"github.com/next-trace/scg-order-bus/config"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// pair joins independently built halves into one cbus.Transport.
type pair struct {
	cbus.Sender
	cbus.Receiver
}

// InMemoryTransport returns a transport over broker consuming topic as consumer group service.
func InMemoryTransport(broker *inmemory.Broker, topic, service string) cbus.Transport { //nolint:ireturn
	return pair{Sender: broker, Receiver: broker.Receiver(topic, service)}
}

// openTransport connects the broker named by cfg. The returned cleanup releases the connection.
func openTransport(cfg config.Config, logger *slog.Logger) (cbus.Transport, func(), error) { //nolint:ireturn
	policy := cbus.DeliveryPolicy{MaxDeliveries: cfg.MaxDeliveries}
	nop := func() {}

	switch cfg.Broker {
	case config.BrokerInMemory:
		broker := inmemory.New(inmemory.WithDeliveryPolicy(policy))
		return InMemoryTransport(broker, cfg.Topic, cfg.ServiceName), nop, nil
	case config.BrokerWatermill:
		ad, cleanup := watermill.NewGoChannel(logger, cfg.Topic, policy)
		return ad, cleanup, nil
	case config.BrokerNATS:
		ad, cleanup, err := nats.NewWithNATS(nats.Config{
			URL:     cfg.NATSURL,
			Name:    cfg.ServiceName,
			Stream:  cfg.NATSStream,
			Topic:   cfg.Topic,
			Durable: cfg.ServiceName,
			Policy:  policy,
		})

		return ad, cleanup, err
	case config.BrokerRabbitMQ:
		ad, cleanup, err := rabbitmq.NewWithAMQPConn(rabbitmq.Config{
			URL:           cfg.RabbitMQURL,
			Queue:         cfg.RabbitMQQueue,
			Topic:         cfg.Topic,
			DeliveryLimit: cfg.DeliveryLimit(),
		})

		return ad, cleanup, err
	case config.BrokerKafka:
		ad, cleanup, err := kafka.NewWithKgo(kafka.Config{
			Brokers:  cfg.KafkaBrokers,
			Group:    cfg.KafkaGroup,
			Topic:    cfg.Topic,
			Policy:   policy,
			ClientID: cfg.ServiceName,
		})

		return ad, cleanup, err
	default:
		return nil, nil, fmt.Errorf("broker %q: %w", cfg.Broker, berr.ErrAsyncNotConfigured)
	}
}
