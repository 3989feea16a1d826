package bus

import "maps"

// Well-known envelope properties.
const (
	PropEventType   = "event-type"
	PropMessageID   = "message-id"
	PropContentType = "content-type"
	PropCreatedAt   = "created-at"
	PropOrigin      = "origin"
	PropDeliveries  = "x-delivery-count"
)

// Envelope is the wire representation of a cross-process event: the variant name, an opaque
// UTF-8 JSON body and string application properties.
type Envelope struct {
	Type       string
	Payload    []byte
	Properties map[string]string
}

// Property returns a property value or "".
func (e Envelope) Property(key string) string {
	if e.Properties == nil {
		return ""
	}

	return e.Properties[key]
}

// Clone returns a copy that shares no maps or slices with e.
func (e Envelope) Clone() Envelope {
	out := Envelope{Type: e.Type, Payload: append([]byte(nil), e.Payload...)}
	if e.Properties != nil {
		out.Properties = maps.Clone(e.Properties)
	}

	return out
}
