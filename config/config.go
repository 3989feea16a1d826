// Package config loads process settings from ORDERBUS_* environment variables.
//
// ORDERBUS_SERVICE_NAME identifies the process on the broker: it stamps the origin of every
// outgoing event and names the in-memory consumer group. Replicas of one service share it.
//
// Durable delivery to the broker needs ORDERBUS_STORAGE=sqlite. Events then go through the
// transactional outbox and are retried until sent. With memory storage events are forwarded
// directly after commit, and one that still fails after ORDERBUS_FORWARD_ATTEMPTS is logged and
// dropped.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Broker names.
const (
	BrokerInMemory  = "inmemory"
	BrokerNATS      = "nats"
	BrokerRabbitMQ  = "rabbitmq"
	BrokerKafka     = "kafka"
	BrokerWatermill = "watermill"
)

// Storage names.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config is the full process configuration.
type Config struct {
	ServiceName string     `env:"ORDERBUS_SERVICE_NAME" envDefault:"orderbus"  validate:"required"`
	LogLevel    slog.Level `env:"ORDERBUS_LOG_LEVEL"    envDefault:"INFO"`

	Broker        string `env:"ORDERBUS_BROKER"         envDefault:"inmemory"      validate:"oneof=inmemory nats rabbitmq kafka watermill"`
	Topic         string `env:"ORDERBUS_TOPIC"          envDefault:"orders.events" validate:"required"`
	MaxDeliveries int    `env:"ORDERBUS_MAX_DELIVERIES" envDefault:"5"             validate:"gte=0"`

	NATSURL    string `env:"ORDERBUS_NATS_URL"    validate:"required_if=Broker nats"`
	NATSStream string `env:"ORDERBUS_NATS_STREAM" envDefault:"ORDERS"`

	RabbitMQURL           string `env:"ORDERBUS_RABBITMQ_URL"            validate:"required_if=Broker rabbitmq"`
	RabbitMQQueue         string `env:"ORDERBUS_RABBITMQ_QUEUE"          envDefault:"orderbus"`
	RabbitMQDeliveryLimit int    `env:"ORDERBUS_RABBITMQ_DELIVERY_LIMIT" validate:"gte=0"`

	KafkaBrokers []string `env:"ORDERBUS_KAFKA_BROKERS" envSeparator:","        validate:"required_if=Broker kafka"`
	KafkaGroup   string   `env:"ORDERBUS_KAFKA_GROUP"   envDefault:"orderbus"`

	Storage    string `env:"ORDERBUS_STORAGE"     envDefault:"memory"      validate:"oneof=memory sqlite"`
	SQLitePath string `env:"ORDERBUS_SQLITE_PATH" envDefault:"orderbus.db" validate:"required_if=Storage sqlite"`

	ListenerWorkers   int           `env:"ORDERBUS_LISTENER_WORKERS"    envDefault:"4"   validate:"gte=1"`
	OutboxInterval    time.Duration `env:"ORDERBUS_OUTBOX_INTERVAL"     envDefault:"1s"  validate:"gt=0"`
	OutboxBatch       int           `env:"ORDERBUS_OUTBOX_BATCH"        envDefault:"100" validate:"gte=1"`
	OutboxMaxAttempts int           `env:"ORDERBUS_OUTBOX_MAX_ATTEMPTS" envDefault:"0"   validate:"gte=0"`
	ForwardAttempts   uint          `env:"ORDERBUS_FORWARD_ATTEMPTS"    envDefault:"3"   validate:"gte=1"`
	ForwardDelay      time.Duration `env:"ORDERBUS_FORWARD_DELAY"       envDefault:"100ms"`
	ShutdownTimeout   time.Duration `env:"ORDERBUS_SHUTDOWN_TIMEOUT"    envDefault:"10s" validate:"gt=0"`
}

// Load parses the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

// LoadFrom parses environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks enums and the settings each broker and storage requires. Failures unwrap to
// berr.ErrValidationFailed.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}

	ve := &berr.ValidationError{Request: "config"}
	for _, fe := range verrs {
		ve.Failures = append(ve.Failures, berr.FieldFailure{Field: fe.Field(), Rule: fe.Tag(), Message: fe.Error()})
	}

	return ve
}

// Durable reports whether cross-process events survive a broker outage, which only the sqlite
// outbox provides.
func (c Config) Durable() bool { return c.Storage == StorageSQLite }

// DeliveryLimit is the RabbitMQ x-delivery-limit, defaulting to MaxDeliveries.
func (c Config) DeliveryLimit() int {
	if c.RabbitMQDeliveryLimit > 0 {
		return c.RabbitMQDeliveryLimit
	}

	return c.MaxDeliveries
}
