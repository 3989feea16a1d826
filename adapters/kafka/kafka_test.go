package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-order-bus/adapters/kafka"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

type written struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

type fakeWriter struct {
	mu    sync.Mutex
	calls []written
	err   error
}

func (f *fakeWriter) Write(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, written{topic, key, value, headers})

	return f.err
}

func (f *fakeWriter) snapshot() []written {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]written(nil), f.calls...)
}

type fakePoller struct {
	batches chan []*kgo.Record

	mu        sync.Mutex
	committed []*kgo.Record
	closed    bool
}

func newFakePoller(batches ...[]*kgo.Record) *fakePoller {
	p := &fakePoller{batches: make(chan []*kgo.Record, len(batches))}
	for _, b := range batches {
		p.batches <- b
	}

	return p
}

func (p *fakePoller) Poll(ctx context.Context) ([]*kgo.Record, error) {
	select {
	case b := <-p.batches:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *fakePoller) Commit(_ context.Context, recs ...*kgo.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.committed = append(p.committed, recs...)

	return nil
}

func (p *fakePoller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
}

func (p *fakePoller) commits() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.committed)
}

func record(typ string, headers ...kgo.RecordHeader) *kgo.Record {
	return &kgo.Record{
		Topic:   "orders.events",
		Key:     []byte("id-1"),
		Value:   []byte(`{"x":1}`),
		Headers: append([]kgo.RecordHeader{{Key: cbus.PropEventType, Value: []byte(typ)}}, headers...),
	}
}

func receiveOne(t *testing.T, ch <-chan cbus.Delivery) cbus.Delivery {
	t.Helper()

	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
		return nil
	}
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

func TestSender_Send(t *testing.T) {
	fw := &fakeWriter{}
	s := kafka.NewSender(fw)

	env := cbus.Envelope{
		Type:       "cart.item_added",
		Payload:    []byte(`{"a":1}`),
		Properties: map[string]string{cbus.PropMessageID: "m-1", "traceparent": "tp"},
	}

	if err := s.Send(t.Context(), "orders.events", env); err != nil {
		t.Fatalf("send: %v", err)
	}

	calls := fw.snapshot()
	if len(calls) != 1 {
		t.Fatalf("want 1 write, got %d", len(calls))
	}

	c := calls[0]
	if c.topic != "orders.events" || string(c.key) != "m-1" || string(c.value) != `{"a":1}` {
		t.Fatalf("unexpected write: %+v", c)
	}

	if c.headers[cbus.PropEventType] != "cart.item_added" || c.headers["traceparent"] != "tp" {
		t.Fatalf("headers: %v", c.headers)
	}

	if _, ok := env.Properties[cbus.PropEventType]; ok {
		t.Fatalf("send mutated the caller's envelope")
	}
}

func TestSender_Errors(t *testing.T) {
	if err := kafka.NewSender(nil).Send(t.Context(), "t", cbus.Envelope{}); !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}

	fw := &fakeWriter{err: errors.New("broker down")}
	if err := kafka.NewSender(fw).Send(t.Context(), "t", cbus.Envelope{Type: "x"}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	fw = &fakeWriter{err: context.DeadlineExceeded}
	if err := kafka.NewSender(fw).Send(t.Context(), "t", cbus.Envelope{}); !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("context errors must pass through, got %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := kafka.NewSender(&fakeWriter{}).Send(ctx, "t", cbus.Envelope{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestReceiver_AckCommitsBatch(t *testing.T) {
	fp := newFakePoller([]*kgo.Record{record("a"), record("b")})
	ad := kafka.New(&fakeWriter{}, fp, "orders.events", cbus.DeliveryPolicy{})

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	d1 := receiveOne(t, ch)
	if d1.Envelope().Type != "a" || d1.Envelope().Property(cbus.PropDeliveries) != "1" {
		t.Fatalf("envelope: %+v", d1.Envelope())
	}

	_ = d1.Ack(t.Context())

	if fp.commits() != 0 {
		t.Fatalf("committed before the batch settled")
	}

	d2 := receiveOne(t, ch)
	_ = d2.Ack(t.Context())

	waitFor(t, func() bool { return fp.commits() == 2 })

	_ = ad.Close()
}

func TestReceiver_NackRepublishesWithCount(t *testing.T) {
	fw := &fakeWriter{}
	fp := newFakePoller([]*kgo.Record{record("a")})
	ad := kafka.New(fw, fp, "orders.events", cbus.DeliveryPolicy{MaxDeliveries: 3})

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if err := receiveOne(t, ch).Nack(t.Context()); err != nil {
		t.Fatalf("nack: %v", err)
	}

	calls := fw.snapshot()
	if len(calls) != 1 || calls[0].topic != "orders.events" || calls[0].headers[cbus.PropDeliveries] != "1" {
		t.Fatalf("unexpected republish: %+v", calls)
	}

	waitFor(t, func() bool { return fp.commits() == 1 })

	_ = ad.Close()
}

func TestReceiver_ExhaustedGoesToDeadLetter(t *testing.T) {
	fw := &fakeWriter{}
	rec := record("a", kgo.RecordHeader{Key: cbus.PropDeliveries, Value: []byte("2")})
	fp := newFakePoller([]*kgo.Record{rec})
	ad := kafka.New(fw, fp, "orders.events", cbus.DeliveryPolicy{MaxDeliveries: 3})

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	d := receiveOne(t, ch)
	if d.Envelope().Property(cbus.PropDeliveries) != "3" {
		t.Fatalf("deliveries: %s", d.Envelope().Property(cbus.PropDeliveries))
	}

	_ = d.Nack(t.Context())

	calls := fw.snapshot()
	if len(calls) != 1 || calls[0].topic != "orders.events.dlq" || calls[0].headers[cbus.PropDeliveries] != "3" {
		t.Fatalf("unexpected dead letter: %+v", calls)
	}

	_ = ad.Close()
}

func TestReceiver_FailedNackLeavesBatchUncommitted(t *testing.T) {
	fw := &fakeWriter{err: errors.New("broker down")}
	fp := newFakePoller([]*kgo.Record{record("a")})
	ad := kafka.New(fw, fp, "orders.events", cbus.DeliveryPolicy{})

	ch, err := ad.Receive(t.Context())
	if err != nil {
		t.Fatalf("receive: %v", err)
	}

	if err := receiveOne(t, ch).Nack(t.Context()); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stream not closed after a failed nack")
	}

	if fp.commits() != 0 {
		t.Fatalf("failed batch was committed")
	}
}

func TestReceiver_CloseStopsStream(t *testing.T) {
	fp := newFakePoller()
	ad := kafka.New(&fakeWriter{}, fp, "orders.events", cbus.DeliveryPolicy{})

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

func TestNewWithKgo_RequiresBrokers(t *testing.T) {
	if _, _, err := kafka.NewWithKgo(kafka.Config{}); !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("want ErrAsyncNotConfigured, got %v", err)
	}

	if _, _, err := kafka.NewWithKgo(kafka.Config{Brokers: []string{"127.0.0.1:9092"}}); !errors.Is(err, berr.ErrAsyncNotConfigured) {
		t.Fatalf("missing topic: want ErrAsyncNotConfigured, got %v", err)
	}
}
