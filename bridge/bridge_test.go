package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/next-trace/scg-order-bus/adapters/inmemory"
	"github.com/next-trace/scg-order-bus/bridge"
	"github.com/next-trace/scg-order-bus/cart"
	"github.com/next-trace/scg-order-bus/catalog"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/domain"
	"github.com/next-trace/scg-order-bus/servicebus"
)

const (
	topic = "orders.events"
	group = "inventory"
)

func newCodec(t *testing.T) *bridge.Codec {
	t.Helper()

	c, err := bridge.NewCodec(
		bridge.Event[cart.CartItemAdded](),
		bridge.Event[cart.CartItemRemoved](),
		bridge.Event[catalog.ProductCreated](),
		bridge.Event[catalog.ProductStockChanged](),
		bridge.Event[catalog.ProductDeleted](),
	)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newCodec(t)

	in := cart.CartItemAdded{
		Meta:      domain.NewMeta(),
		CartID:    uuid.New(),
		ProductID: 1,
		Name:      "Widget",
		Price:     10.99,
		Quantity:  2,
	}

	env, err := c.Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if env.Type != cart.EventItemAdded || env.Property(cbus.PropEventType) != cart.EventItemAdded {
		t.Fatalf("type tag: %+v", env)
	}

	if env.Property(cbus.PropMessageID) != in.ID.String() || env.Property(cbus.PropContentType) != bridge.ContentType {
		t.Fatalf("properties: %+v", env.Properties)
	}

	out, err := c.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	got, ok := out.(cart.CartItemAdded)
	if !ok {
		t.Fatalf("decoded %T", out)
	}

	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("createdAt %v != %v", got.CreatedAt, in.CreatedAt)
	}

	got.CreatedAt = in.CreatedAt
	if got != in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
	}
}

func TestCodec_EachVariantKeepsItsShape(t *testing.T) {
	c := newCodec(t)

	env, _ := c.Encode(catalog.ProductDeleted{Meta: domain.NewMeta(), ProductID: 3, Name: "Widget", Stock: 4})

	out, err := c.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	del, ok := out.(catalog.ProductDeleted)
	if !ok || del.Name != "Widget" || del.Stock != 4 {
		t.Fatalf("want ProductDeleted, got %#v", out)
	}
}

func TestCodec_Rejections(t *testing.T) {
	c := newCodec(t)

	if _, err := c.Decode(cbus.Envelope{Type: "cart.teleported", Payload: []byte(`{}`)}); !errors.Is(err, berr.ErrUnknownEventType) {
		t.Fatalf("want unknown type, got %v", err)
	}

	if _, err := c.Decode(cbus.Envelope{Type: cart.EventItemAdded, Payload: []byte(`{"productId":`)}); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want serialization failure, got %v", err)
	}

	if _, err := c.Encode(unbound{}); !errors.Is(err, berr.ErrUnknownEventType) {
		t.Fatalf("want unknown type on encode, got %v", err)
	}

	if _, err := bridge.NewCodec(bridge.Event[cart.CartItemAdded](), bridge.Event[cart.CartItemAdded]()); !errors.Is(err, berr.ErrHandlerExists) {
		t.Fatalf("duplicate binding accepted: %v", err)
	}

	names := c.Names()
	if len(names) != 5 || names[0] != cart.EventItemAdded {
		t.Fatalf("names: %v", names)
	}

	if !c.Knows(catalog.EventProductCreated) || c.Knows("nope") {
		t.Fatalf("Knows mismatch")
	}
}

type unbound struct{}

func (unbound) EventName() string { return "unbound" }

type failingSender struct {
	calls atomic.Int32
	err   error
}

func (f *failingSender) Send(context.Context, string, cbus.Envelope) error {
	f.calls.Add(1)
	return f.err
}

func TestPublisher(t *testing.T) {
	broker := inmemory.New()
	pub := bridge.NewPublisher(broker, newCodec(t), topic)

	if err := pub.Publish(t.Context(), catalog.ProductCreated{Meta: domain.NewMeta(), ProductID: 1, Name: "Widget"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sent := broker.Sent(topic)
	if len(sent) != 1 || sent[0].Type != catalog.EventProductCreated {
		t.Fatalf("sent: %+v", sent)
	}

	failing := bridge.NewPublisher(&failingSender{err: errors.New("broker down")}, newCodec(t), topic)
	if err := failing.Publish(t.Context(), catalog.ProductCreated{}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want publish failed, got %v", err)
	}

	cancelled := bridge.NewPublisher(&failingSender{err: context.Canceled}, newCodec(t), topic)
	if err := cancelled.Publish(t.Context(), catalog.ProductCreated{}); !errors.Is(err, context.Canceled) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("context error must pass through unwrapped, got %v", err)
	}

	none := bridge.NewPublisher(nil, newCodec(t), topic)
	if err := none.Publish(t.Context(), catalog.ProductCreated{}); !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want async not configured, got %v", err)
	}
}

func TestForwarder_RetriesAndSkipsInbound(t *testing.T) {
	sender := &failingSender{err: errors.New("broker down")}
	fwd := bridge.NewForwarder(bridge.NewPublisher(sender, newCodec(t), topic), nil,
		bridge.WithRetry(3, time.Millisecond))

	ev := catalog.ProductCreated{Meta: domain.NewMeta(), ProductID: 1}

	if err := fwd.Forward(t.Context(), ev); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want publish failed, got %v", err)
	}

	if got := sender.calls.Load(); got != 3 {
		t.Fatalf("want 3 attempts, got %d", got)
	}

	if err := fwd.Forward(bridge.WithInbound(t.Context(), ev.ID.String()), ev); err != nil {
		t.Fatalf("inbound: %v", err)
	}

	if err := fwd.Forward(t.Context(), cart.CartCreated{}); err != nil {
		t.Fatalf("local-only event: %v", err)
	}

	if got := sender.calls.Load(); got != 3 {
		t.Fatalf("inbound or local event was sent: %d", got)
	}

	// raised while handling the inbound event: a new event that must be forwarded
	follow := catalog.ProductStockChanged{Meta: domain.NewMeta(), ProductID: 1, OldStock: 1, NewStock: 0}
	_ = fwd.Forward(bridge.WithInbound(t.Context(), ev.ID.String()), follow)

	if got := sender.calls.Load(); got != 6 {
		t.Fatalf("follow-up event was not forwarded: %d calls", got)
	}
}

func TestForwardAll_OnlyCrossProcessTypes(t *testing.T) {
	broker := inmemory.New()
	codec := newCodec(t)
	reg := servicebus.NewRegistry()

	if err := bridge.ForwardAll(reg, codec, bridge.NewForwarder(bridge.NewPublisher(broker, codec, topic), nil)); err != nil {
		t.Fatalf("forward all: %v", err)
	}

	if reg.SubscriberCount(cart.CartItemAdded{}) != 1 || reg.SubscriberCount(cart.CartCreated{}) != 0 {
		t.Fatalf("forwarder bound to wrong types")
	}

	b := servicebus.New(reg, nil)
	_ = b.Publish(t.Context(), cart.CartItemAdded{Meta: domain.NewMeta(), ProductID: 1})
	_ = b.Publish(t.Context(), cart.CartCreated{Meta: domain.NewMeta()})

	if len(broker.Sent(topic)) != 1 {
		t.Fatalf("sent=%d", len(broker.Sent(topic)))
	}
}

type localBus struct {
	mu     sync.Mutex
	got    []cbus.Notification
	inbnd  []bool
	err    error
	block  chan struct{}
	called chan struct{}
}

func (l *localBus) Publish(ctx context.Context, n cbus.Notification) error {
	if l.called != nil {
		l.called <- struct{}{}
	}

	if l.block != nil {
		<-l.block
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.got = append(l.got, n)
	l.inbnd = append(l.inbnd, bridge.Inbound(ctx))

	return l.err
}

func (l *localBus) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func TestListener_RepublishesAndAcks(t *testing.T) {
	broker := inmemory.New()
	codec := newCodec(t)
	local := &localBus{}

	l := bridge.NewListener(broker.Receiver(topic, group), codec, local, nil, bridge.WithWorkers(2))
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	t.Cleanup(func() { _ = l.Stop(context.Background()) })

	pub := bridge.NewPublisher(broker, codec, topic)
	in := catalog.ProductStockChanged{Meta: domain.NewMeta(), ProductID: 1, OldStock: 3, NewStock: 1}

	if err := pub.Publish(t.Context(), in); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitFor(t, func() bool { return local.count() == 1 })

	local.mu.Lock()
	got := local.got[0].(catalog.ProductStockChanged)
	inbound := local.inbnd[0]
	local.mu.Unlock()

	if got.ID != in.ID || got.NewStock != 1 || !inbound {
		t.Fatalf("republished %+v inbound=%v", got, inbound)
	}

	if broker.Pending(topic, group) != 0 {
		t.Fatalf("message not acked")
	}
}

func TestListener_UnknownTypeAckedWithoutPublish(t *testing.T) {
	broker := inmemory.New()
	local := &localBus{}

	l := bridge.NewListener(broker.Receiver(topic, group), newCodec(t), local, nil)
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = broker.Send(t.Context(), topic, cbus.Envelope{Type: "cart.teleported", Payload: []byte(`{}`)})
	_ = broker.Send(t.Context(), topic, cbus.Envelope{Type: catalog.EventProductDeleted, Payload: []byte(`{"productId":2}`)})

	waitFor(t, func() bool { return local.count() == 1 })

	if err := l.Stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, ok := local.got[0].(catalog.ProductDeleted); !ok {
		t.Fatalf("unknown type was published: %T", local.got[0])
	}

	if broker.Pending(topic, group) != 0 || len(broker.DeadLetters(topic)) != 0 {
		t.Fatalf("unknown type not acked")
	}
}

func TestListener_FailuresAreNacked(t *testing.T) {
	broker := inmemory.New(inmemory.WithDeliveryPolicy(cbus.DeliveryPolicy{MaxDeliveries: 2}))
	local := &localBus{err: errors.New("projection down")}

	l := bridge.NewListener(broker.Receiver(topic, group), newCodec(t), local, nil)
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	t.Cleanup(func() { _ = l.Stop(context.Background()) })

	_ = broker.Send(t.Context(), topic, cbus.Envelope{Type: catalog.EventProductDeleted, Payload: []byte(`{"productId":2}`)})
	_ = broker.Send(t.Context(), topic, cbus.Envelope{Type: catalog.EventProductDeleted, Payload: []byte(`{"productId":`)})

	waitFor(t, func() bool { return len(broker.DeadLetters(topic)) == 2 })

	if local.count() != 2 {
		t.Fatalf("want 2 publish attempts for the valid message, got %d", local.count())
	}
}

func TestListener_StopWaitsForInFlight(t *testing.T) {
	broker := inmemory.New()
	local := &localBus{block: make(chan struct{}), called: make(chan struct{}, 1)}

	l := bridge.NewListener(broker.Receiver(topic, group), newCodec(t), local, nil)
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	_ = broker.Send(t.Context(), topic, cbus.Envelope{Type: catalog.EventProductDeleted, Payload: []byte(`{"productId":2}`)})

	select {
	case <-local.called:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery not picked up")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatalf("Stop returned while a delivery was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(local.block)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return")
	}

	if local.count() != 1 || broker.Pending(topic, group) != 0 {
		t.Fatalf("in-flight delivery not completed and acked")
	}
}

func TestListener_StartStopIdempotent(t *testing.T) {
	broker := inmemory.New()
	l := bridge.NewListener(broker.Receiver(topic, group), newCodec(t), &localBus{}, nil)

	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	if err := l.Stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if err := l.Stop(t.Context()); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	if err := l.Start(t.Context()); !errors.Is(err, berr.ErrListenerClosed) {
		t.Fatalf("restart after stop: %v", err)
	}

	select {
	case <-l.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestListener_StopBeforeStartReleasesReceiver(t *testing.T) {
	broker := inmemory.New()
	r := broker.Receiver(topic, group)
	l := bridge.NewListener(r, newCodec(t), &localBus{}, nil)

	if err := l.Stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := r.Receive(t.Context()); !errors.Is(err, berr.ErrListenerClosed) {
		t.Fatalf("receiver not closed: %v", err)
	}

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("Done not closed by Stop before Start")
	}
}

func TestListener_EndsWhenContextDone(t *testing.T) {
	broker := inmemory.New()
	ctx, cancel := context.WithCancel(t.Context())

	l := bridge.NewListener(broker.Receiver(topic, group), newCodec(t), &localBus{}, nil)
	if err := l.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not end with its context")
	}
}

func TestListener_SkipsOwnOrigin(t *testing.T) {
	broker := inmemory.New()
	codec := newCodec(t)
	local := &localBus{}

	l := bridge.NewListener(broker.Receiver(topic, group), codec, local, nil, bridge.SkipOrigin("inventory"))
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("start: %v", err)
	}

	t.Cleanup(func() { _ = l.Stop(context.Background()) })

	own := bridge.NewPublisher(broker, codec, topic, bridge.WithOrigin("inventory"))
	peer := bridge.NewPublisher(broker, codec, topic, bridge.WithOrigin("shop"))

	if err := own.Publish(t.Context(), catalog.ProductDeleted{Meta: domain.NewMeta(), ProductID: 1}); err != nil {
		t.Fatalf("publish own: %v", err)
	}

	if err := peer.Publish(t.Context(), catalog.ProductDeleted{Meta: domain.NewMeta(), ProductID: 2}); err != nil {
		t.Fatalf("publish peer: %v", err)
	}

	waitFor(t, func() bool { return local.count() == 1 && broker.Pending(topic, group) == 0 })

	if err := l.Stop(t.Context()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if got := local.got[0].(catalog.ProductDeleted); got.ProductID != 2 || local.count() != 1 {
		t.Fatalf("want only the peer event, got %d events, first %+v", local.count(), got)
	}

	if sent := broker.Sent(topic); sent[0].Property(cbus.PropOrigin) != "inventory" {
		t.Fatalf("origin not stamped: %+v", sent[0].Properties)
	}
}
