// Package inmemory is a process-local broker. A topic is an append-only log fanned out to
// consumer groups; receivers within one group compete for its messages. Negatively
// acknowledged messages are redelivered to the same group and messages that exhaust the
// delivery policy move to the dead-letter topic. It backs tests, examples and single-process
// deployments.
package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
)

type message struct {
	env        cbus.Envelope
	deliveries int
}

// group is one subscription to a topic. Receivers of the same group compete for its queue.
type group struct {
	queue []*message
	wake  chan struct{}
}

type topic struct {
	sent   []cbus.Envelope
	dead   []cbus.Envelope
	groups map[string]*group
}

// Broker is a thread-safe in-memory broker. It implements cbus.Sender; Receiver returns the
// consuming side for one topic and consumer group.
type Broker struct {
	mu     sync.Mutex
	policy cbus.DeliveryPolicy
	topics map[string]*topic
}

var _ cbus.Sender = (*Broker)(nil)

// Option configures a Broker.
type Option func(*Broker)

// WithDeliveryPolicy bounds redelivery. The default is unlimited redelivery.
func WithDeliveryPolicy(p cbus.DeliveryPolicy) Option {
	return func(b *Broker) { b.policy = p }
}

// New creates an empty broker.
func New(opts ...Option) *Broker {
	b := &Broker{topics: make(map[string]*topic)}
	for _, o := range opts {
		o(b)
	}

	return b
}

func (b *Broker) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{groups: make(map[string]*group)}
		b.topics[name] = t
	}

	return t
}

// groupLocked returns the named group of topic, creating it positioned at the start of the
// topic log.
func (b *Broker) groupLocked(topicName, name string) *group {
	t := b.topicLocked(topicName)

	g, ok := t.groups[name]
	if !ok {
		g = &group{wake: make(chan struct{})}
		for _, env := range t.sent {
			g.queue = append(g.queue, &message{env: env.Clone()})
		}

		t.groups[name] = g
	}

	return g
}

// Send appends a copy of env to topic and hands it to every consumer group.
func (b *Broker) Send(ctx context.Context, topicName string, env cbus.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sendLocked(b.topicLocked(topicName), env)

	return nil
}

func (b *Broker) sendLocked(t *topic, env cbus.Envelope) {
	t.sent = append(t.sent, env.Clone())
	for _, g := range t.groups {
		g.push(&message{env: env.Clone()})
	}
}

func (g *group) push(m *message) {
	g.queue = append(g.queue, m)
	close(g.wake)
	g.wake = make(chan struct{})
}

// next blocks until a message is available for the group or stop/ctx ends.
func (b *Broker) next(ctx context.Context, topicName, groupName string, stop <-chan struct{}) (*message, bool) {
	for {
		b.mu.Lock()
		g := b.groupLocked(topicName, groupName)

		if len(g.queue) > 0 {
			m := g.queue[0]
			g.queue = g.queue[1:]
			m.deliveries++
			b.mu.Unlock()

			return m, true
		}

		wake := g.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false
		case <-stop:
			return nil, false
		}
	}
}

// unread puts back a message that was taken but never handed to a consumer.
func (b *Broker) unread(topicName, groupName string, m *message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m.deliveries--
	g := b.groupLocked(topicName, groupName)
	g.queue = append([]*message{m}, g.queue...)
	close(g.wake)
	g.wake = make(chan struct{})
}

func (b *Broker) nack(topicName, groupName string, m *message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.policy.Exhausted(m.deliveries) {
		dead := m.env.Clone()
		if dead.Properties == nil {
			dead.Properties = map[string]string{}
		}

		dead.Properties[cbus.PropDeliveries] = strconv.Itoa(m.deliveries)

		t := b.topicLocked(topicName)
		t.dead = append(t.dead, dead.Clone())
		b.sendLocked(b.topicLocked(b.policy.DeadLetterTopicFor(topicName)), dead)

		return
	}

	b.groupLocked(topicName, groupName).push(m)
}

// Sent returns every envelope ever sent to topic, in send order.
func (b *Broker) Sent(topicName string) []cbus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	return cloneAll(b.topicLocked(topicName).sent)
}

// DeadLetters returns the envelopes of topic that exhausted the delivery policy in any group.
func (b *Broker) DeadLetters(topicName string) []cbus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	return cloneAll(b.topicLocked(topicName).dead)
}

// Pending returns the number of messages waiting for groupName on topic. A group that has not
// subscribed yet would start with the whole topic log.
func (b *Broker) Pending(topicName, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(topicName)
	if g, ok := t.groups[groupName]; ok {
		return len(g.queue)
	}

	return len(t.sent)
}

func cloneAll(in []cbus.Envelope) []cbus.Envelope {
	out := make([]cbus.Envelope, 0, len(in))
	for _, e := range in {
		out = append(out, e.Clone())
	}

	return out
}

// Receiver consumes one topic of a Broker as a member of a consumer group. Every group gets
// every message; receivers of the same group compete for them.
type Receiver struct {
	b     *Broker
	topic string
	group string

	mu        sync.Mutex
	receiving bool
	stop      chan struct{}
	closeOnce sync.Once
}

var _ cbus.Receiver = (*Receiver)(nil)

// Receiver joins groupName on topic and returns a new consumer for it. The group exists from
// this call on, so messages sent before Receive are kept for it.
func (b *Broker) Receiver(topicName, groupName string) *Receiver {
	b.mu.Lock()
	b.groupLocked(topicName, groupName)
	b.mu.Unlock()

	return &Receiver{b: b, topic: topicName, group: groupName, stop: make(chan struct{})}
}

// Receive starts streaming deliveries. A Receiver can be started once.
func (r *Receiver) Receive(ctx context.Context) (<-chan cbus.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.stop:
		return nil, fmt.Errorf("inmemory receive %s: %w", r.topic, berr.ErrListenerClosed)
	default:
	}

	if r.receiving {
		return nil, fmt.Errorf("inmemory receive %s: already receiving: %w", r.topic, berr.ErrListenerClosed)
	}

	r.receiving = true
	out := make(chan cbus.Delivery)

	go func() {
		defer close(out)

		for {
			m, ok := r.b.next(ctx, r.topic, r.group, r.stop)
			if !ok {
				return
			}

			env := m.env.Clone()
			if env.Properties == nil {
				env.Properties = map[string]string{}
			}

			env.Properties[cbus.PropDeliveries] = strconv.Itoa(m.deliveries)

			select {
			case out <- &delivery{b: r.b, topic: r.topic, group: r.group, msg: m, env: env}:
			case <-ctx.Done():
				r.b.unread(r.topic, r.group, m)
				return
			case <-r.stop:
				r.b.unread(r.topic, r.group, m)
				return
			}
		}
	}()

	return out, nil
}

// Close stops the receiving loop. Unsettled deliveries stay settleable.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() { close(r.stop) })
	return nil
}

type delivery struct {
	b     *Broker
	topic string
	group string
	msg   *message
	env   cbus.Envelope
	once  sync.Once
}

func (d *delivery) Envelope() cbus.Envelope { return d.env }

func (d *delivery) Ack(context.Context) error {
	d.once.Do(func() {})
	return nil
}

func (d *delivery) Nack(context.Context) error {
	d.once.Do(func() { d.b.nack(d.topic, d.group, d.msg) })
	return nil
}
