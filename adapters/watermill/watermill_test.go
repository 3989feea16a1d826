package watermill_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	wmadapter "github.com/next-trace/scg-order-bus/adapters/watermill"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

func receiveOne(t *testing.T, ch <-chan cbus.Delivery) cbus.Delivery {
	t.Helper()

	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed")
		}

		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
		return nil
	}
}

func TestGoChannel_SendReceiveAck(t *testing.T) {
	ad, cleanup := wmadapter.NewGoChannel(nil, "orders.events", cbus.DeliveryPolicy{})
	defer cleanup()

	env := cbus.Envelope{
		Type:       "catalog.product_created",
		Payload:    []byte(`{"productId":1}`),
		Properties: map[string]string{cbus.PropMessageID: "m-1", "traceparent": "tp"},
	}

	if err := ad.Send(t.Context(), "orders.events", env); err != nil {
		t.Fatalf("send: %v", err)
	}

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	d := receiveOne(t, ch)

	got := d.Envelope()
	if got.Type != "catalog.product_created" || string(got.Payload) != `{"productId":1}` {
		t.Fatalf("envelope: %+v", got)
	}

	if got.Property("traceparent") != "tp" || got.Property(cbus.PropDeliveries) != "1" {
		t.Fatalf("properties: %v", got.Properties)
	}

	if err := d.Ack(t.Context()); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestGoChannel_NackRedeliversThenDeadLetters(t *testing.T) {
	ad, cleanup := wmadapter.NewGoChannel(nil, "orders.events", cbus.DeliveryPolicy{MaxDeliveries: 2})
	defer cleanup()

	if err := ad.Send(t.Context(), "orders.events", cbus.Envelope{Type: "x", Payload: []byte("{}")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	first := receiveOne(t, ch)
	_ = first.Nack(t.Context())

	second := receiveOne(t, ch)
	if second.Envelope().Property(cbus.PropDeliveries) != "2" {
		t.Fatalf("deliveries: %v", second.Envelope().Properties)
	}

	if err := second.Nack(t.Context()); err != nil {
		t.Fatalf("dead-letter nack: %v", err)
	}

	select {
	case d := <-ch:
		t.Fatalf("exhausted message redelivered: %+v", d.Envelope())
	case <-time.After(100 * time.Millisecond):
	}
}

type stubPublisher struct{ err error }

func (p stubPublisher) Publish(string, ...*message.Message) error { return p.err }
func (p stubPublisher) Close() error                              { return nil }

func TestSender_Errors(t *testing.T) {
	if err := wmadapter.NewSender(nil).Send(t.Context(), "t", cbus.Envelope{}); !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}

	s := wmadapter.NewSender(stubPublisher{err: errors.New("down")})
	if err := s.Send(t.Context(), "t", cbus.Envelope{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := s.Send(ctx, "t", cbus.Envelope{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestReceiver_CloseIsIdempotent(t *testing.T) {
	ad, cleanup := wmadapter.NewGoChannel(nil, "orders.events", cbus.DeliveryPolicy{})
	defer cleanup()

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	_ = ad.Close()
	_ = ad.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed")
	}

	if _, err := ad.Receive(t.Context()); !errors.Is(err, berr.ErrListenerClosed) {
		t.Fatalf("want ErrListenerClosed, got %v", err)
	}
}
