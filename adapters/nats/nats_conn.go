package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

// Concrete JetStream-backed Client, Fetcher and constructor.

type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
	// Stream captures Topic and its dead-letter subject. It is created when missing.
	Stream string
	Topic  string
	// Durable is the pull consumer name shared by every listener instance.
	Durable   string
	Policy    cbus.DeliveryPolicy
	FetchWait time.Duration
}

type jsClient struct{ js nats.JetStreamContext }

func (c jsClient) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := &nats.Msg{Subject: subject, Data: data}

	if len(headers) > 0 {
		msg.Header = nats.Header{}
		for k, v := range headers {
			msg.Header.Set(k, v)
		}

		if id := headers[cbus.PropMessageID]; id != "" {
			msg.Header.Set(nats.MsgIdHdr, id)
		}
	}

	_, err := c.js.PublishMsg(msg, nats.Context(ctx))

	return err
}

type jsMsg struct{ m *nats.Msg }

func (j jsMsg) Data() []byte { return j.m.Data }

func (j jsMsg) Headers() map[string]string {
	out := make(map[string]string, len(j.m.Header))
	for k := range j.m.Header {
		out[k] = j.m.Header.Get(k)
	}

	return out
}

func (j jsMsg) Delivered() int {
	md, err := j.m.Metadata()
	if err != nil {
		return 1
	}

	return int(md.NumDelivered)
}

func (j jsMsg) Ack() error { return j.m.Ack() }

func (j jsMsg) Nak() error { return j.m.Nak() }

func (j jsMsg) Term() error { return j.m.Term() }

type jsFetcher struct {
	sub  *nats.Subscription
	wait time.Duration
}

func (f jsFetcher) Fetch(ctx context.Context, batch int) ([]Msg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs, err := f.sub.Fetch(batch, nats.MaxWait(f.wait))
	if errors.Is(err, nats.ErrTimeout) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	out := make([]Msg, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, jsMsg{m: m})
	}

	return out, nil
}

func (f jsFetcher) Close() error {
	return f.sub.Unsubscribe()
}

func ensureStream(js nats.JetStreamContext, cfg Config) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Topic, cfg.Policy.DeadLetterTopicFor(cfg.Topic)},
		Storage:  nats.FileStorage,
	})

	return err
}

// NewWithNATS connects to NATS, makes sure the stream exists, binds the durable pull consumer
// and returns an Adapter and a cleanup.
func NewWithNATS(cfg Config) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrAsyncNotConfigured)
	}

	if cfg.Stream == "" || cfg.Topic == "" {
		return nil, nil, fmt.Errorf("%w: nats stream and topic required", berr.ErrAsyncNotConfigured)
	}

	if cfg.Durable == "" {
		cfg.Durable = "orderbus"
	}

	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrPublishFailed, err)
	}

	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	js, err := nc.JetStream()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: nats jetstream: %w", berr.ErrPublishFailed, err)
	}

	if err := ensureStream(js, cfg); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: nats stream %s: %w", berr.ErrPublishFailed, cfg.Stream, err)
	}

	subOpts := []nats.SubOpt{nats.BindStream(cfg.Stream), nats.ManualAck(), nats.AckExplicit()}
	if cfg.Policy.MaxDeliveries > 0 {
		// one extra attempt so the dead-letter copy is made by us, not dropped by the server
		subOpts = append(subOpts, nats.MaxDeliver(cfg.Policy.MaxDeliveries+1))
	}

	sub, err := js.PullSubscribe(cfg.Topic, cfg.Durable, subOpts...)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: nats subscribe %s: %w", berr.ErrPublishFailed, cfg.Topic, err)
	}

	client := jsClient{js: js}

	return New(client, jsFetcher{sub: sub, wait: cfg.FetchWait}, cfg.Topic, cfg.Policy), cleanup, nil
}
