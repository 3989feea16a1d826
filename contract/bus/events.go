package bus

// Notification represents an in-process domain event (sync fan-out to zero or more subscribers).
type Notification interface{}

// CrossProcess marks a notification that is eligible for the external broker bridge.
// EventName is the stable wire name of the variant; it must be unique across the codec.
type CrossProcess interface {
	Notification
	EventName() string
}
