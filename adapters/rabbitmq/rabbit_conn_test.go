package rabbitmq_test

import (
	"errors"
	"testing"

	"github.com/next-trace/scg-order-bus/adapters/rabbitmq"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

func TestNewWithAMQPConn_RequiresURL(t *testing.T) {
	cases := map[string]rabbitmq.Config{
		"send only": {Exchange: "orders"},
		"consumer":  {Queue: "orderbus", Topic: "orders.events", DeliveryLimit: 3},
	}

	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			a, cleanup, err := rabbitmq.NewWithAMQPConn(cfg)
			if !errors.Is(err, berr.ErrAsyncNotConfigured) {
				t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
			}

			if a != nil || cleanup != nil {
				t.Fatalf("nothing should be returned without a url")
			}
		})
	}
}
