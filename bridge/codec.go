package bridge

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
	berr "github.com/next-trace/scg-order-bus/contract/errors"
	"github.com/next-trace/scg-order-bus/domain"
	"github.com/samber/lo"
)

// ContentType is the content type of every envelope payload.
const ContentType = "application/json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Binding ties one wire name to one Go event type.
type Binding struct {
	name   string
	typ    reflect.Type
	sample cbus.Notification
	decode func(payload []byte) (cbus.Notification, error)
}

// Event binds the event type E under the name its EventName method reports.
func Event[E cbus.CrossProcess]() Binding {
	var zero E

	return Binding{
		name:   zero.EventName(),
		typ:    reflect.TypeFor[E](),
		sample: zero,
		decode: func(payload []byte) (cbus.Notification, error) {
			var e E
			if err := json.Unmarshal(payload, &e); err != nil {
				return nil, err
			}

			return e, nil
		},
	}
}

// Codec is the closed table of event variants that may cross the process boundary. Anything
// outside the table is rejected on both encode and decode.
type Codec struct {
	byName map[string]Binding
	byType map[reflect.Type]Binding
}

// NewCodec builds a codec from bindings. Names and types must be unique.
func NewCodec(bindings ...Binding) (*Codec, error) {
	c := &Codec{
		byName: make(map[string]Binding, len(bindings)),
		byType: make(map[reflect.Type]Binding, len(bindings)),
	}

	for _, b := range bindings {
		if b.name == "" {
			return nil, fmt.Errorf("codec %s: empty event name: %w", b.typ, berr.ErrUnknownEventType)
		}

		if _, dup := c.byName[b.name]; dup {
			return nil, fmt.Errorf("codec %s: duplicate event name: %w", b.name, berr.ErrHandlerExists)
		}

		if _, dup := c.byType[b.typ]; dup {
			return nil, fmt.Errorf("codec %s: duplicate event type: %w", b.typ, berr.ErrHandlerExists)
		}

		c.byName[b.name] = b
		c.byType[b.typ] = b
	}

	return c, nil
}

// Names returns the bound wire names in sorted order.
func (c *Codec) Names() []string {
	names := lo.Keys(c.byName)
	slices.Sort(names)

	return names
}

// Knows reports whether name is part of the table.
func (c *Codec) Knows(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Encode serializes e and fills the well-known properties. Events carrying domain.Meta keep
// their id and timestamp on the wire; others get fresh ones.
func (c *Codec) Encode(e cbus.CrossProcess) (cbus.Envelope, error) {
	t := reflect.TypeOf(e)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	b, ok := c.byType[t]
	if !ok {
		return cbus.Envelope{}, fmt.Errorf("encode %T: %w", e, berr.ErrUnknownEventType)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return cbus.Envelope{}, fmt.Errorf("encode %s: %w", b.name, errors.Join(berr.ErrSerializationFailed, err))
	}

	id, at := uuid.NewString(), time.Now().UTC()
	if de, ok := e.(domain.Event); ok {
		id, at = de.EventID().String(), de.EventTime()
	}

	return cbus.Envelope{
		Type:    b.name,
		Payload: payload,
		Properties: map[string]string{
			cbus.PropEventType:   b.name,
			cbus.PropContentType: ContentType,
			cbus.PropMessageID:   id,
			cbus.PropCreatedAt:   at.Format(time.RFC3339Nano),
		},
	}, nil
}

// Decode turns an envelope back into its own event type. Names outside the table fail with
// berr.ErrUnknownEventType, malformed payloads with berr.ErrSerializationFailed.
func (c *Codec) Decode(env cbus.Envelope) (cbus.Notification, error) {
	name := env.Type
	if name == "" {
		name = env.Property(cbus.PropEventType)
	}

	b, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("decode %q: %w", name, berr.ErrUnknownEventType)
	}

	n, err := b.decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, errors.Join(berr.ErrSerializationFailed, err))
	}

	return n, nil
}

func (c *Codec) bindings() []Binding {
	out := lo.Values(c.byName)
	slices.SortFunc(out, func(a, b Binding) int { return strings.Compare(a.name, b.name) })

	return out
}
