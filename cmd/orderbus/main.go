// Command orderbus runs the order service: it consumes the broker topic, relays the outbox and
// serves requests until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/next-trace/scg-order-bus/app"
	"github.com/next-trace/scg-order-bus/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("orderbus failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, app.WithLogger(logger), app.WithTracer(tp.Tracer(cfg.ServiceName)))
	if err != nil {
		return err
	}

	// only Stop ends consumption, so an early Done means the broker gave up
	if err := a.Start(context.WithoutCancel(ctx)); err != nil {
		a.Close()
		return err
	}

	logger.InfoContext(ctx, "orderbus running",
		slog.String("broker", cfg.Broker),
		slog.String("storage", cfg.Storage),
		slog.String("topic", cfg.Topic))

	if !cfg.Durable() && cfg.Broker != config.BrokerInMemory {
		logger.WarnContext(ctx, "events are forwarded without an outbox; set ORDERBUS_STORAGE=sqlite for durable delivery")
	}

	var stopped error

	select {
	case <-ctx.Done():
	case <-a.Done():
		stopped = errors.New("listener stopped unexpectedly")
	}

	shutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return errors.Join(stopped, a.Stop(shutdown))
}
