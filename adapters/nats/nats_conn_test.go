package nats_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-order-bus/adapters/nats"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

func TestNewWithNATS_EmptyURL(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{})
	if err == nil {
		t.Fatalf("expected error")
	}

	if !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}
}

func TestNewWithNATS_MissingStream(t *testing.T) {
	_, _, err := nats.NewWithNATS(nats.Config{URL: "nats://127.0.0.1:4222", Topic: "orders.events"})
	if !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}
}
