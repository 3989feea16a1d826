package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based constructor, writer and poller.

type Config struct {
	Brokers []string
	TLS     *tls.Config
	// Group is the consumer group shared by every listener instance.
	Group    string
	Topic    string
	Policy   cbus.DeliveryPolicy
	ClientID string
	// FetchMaxWait bounds one poll when the topic is idle.
	FetchMaxWait time.Duration
	// Compression lists producer codecs in preference order.
	Compression []kgo.CompressionCodec
}

type kgoWriter struct{ cl *kgo.Client }

func (w kgoWriter) Write(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) > 0 {
		rec.Headers = make([]kgo.RecordHeader, 0, len(headers))
		for k, v := range headers {
			rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return w.cl.ProduceSync(ctx, rec).FirstErr()
}

type kgoPoller struct{ cl *kgo.Client }

func (p kgoPoller) Poll(ctx context.Context) ([]*kgo.Record, error) {
	fetches := p.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, berr.ErrListenerClosed
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		errs = append(errs, fmt.Errorf("%s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}

	recs := fetches.Records()
	if len(recs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return recs, nil
}

func (p kgoPoller) Commit(ctx context.Context, recs ...*kgo.Record) error {
	return p.cl.CommitRecords(ctx, recs...)
}

func (p kgoPoller) Close() { p.cl.Close() }

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrAsyncNotConfigured)
	}

	if cfg.Topic == "" {
		return nil, nil, fmt.Errorf("%w: kafka topic required", berr.ErrAsyncNotConfigured)
	}

	if cfg.Group == "" {
		cfg.Group = "orderbus"
	}

	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = time.Second
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(cfg.FetchMaxWait),
	}

	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	if len(cfg.Compression) > 0 {
		opts = append(opts, kgo.ProducerBatchCompression(cfg.Compression...))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrPublishFailed, err)
	}

	ad := New(kgoWriter{cl: cl}, kgoPoller{cl: cl}, cfg.Topic, cfg.Policy)
	cleanup := func() { _ = ad.Close() }

	return ad, cleanup, nil
}
