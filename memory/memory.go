// Package memory builds a complete order service that keeps everything in process memory:
// map-backed repositories and an in-memory broker. It suits tests and local experiments.
package memory

import (
	"github.com/next-trace/scg-order-bus/adapters/inmemory"
	"github.com/next-trace/scg-order-bus/app"
	"github.com/next-trace/scg-order-bus/config"
)

// New constructs an in-memory App named service over broker. Several apps may share a broker
// to simulate services talking over one topic: each service name is its own consumer group
// and receives every event the others raise. A nil broker gets a private one and an empty
// service the default name. The cleanup function releases the app.
func New(broker *inmemory.Broker, service string, opts ...app.Option) (*app.App, func(), error) {
	env := map[string]string{
		"ORDERBUS_BROKER":  config.BrokerInMemory,
		"ORDERBUS_STORAGE": config.StorageMemory,
	}
	if service != "" {
		env["ORDERBUS_SERVICE_NAME"] = service
	}

	cfg, err := config.LoadFrom(env)
	if err != nil {
		return nil, nil, err
	}

	if broker == nil {
		broker = inmemory.New()
	}

	opts = append([]app.Option{app.WithTransport(app.InMemoryTransport(broker, cfg.Topic, cfg.ServiceName))}, opts...)

	a, err := app.New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	return a, a.Close, nil
}
