// Package behavior provides the request pipeline stages an order service registers on its
// servicebus.Registry: panic recovery, structured logging, tracing, validation, authorization
// and unit-of-work transactions.
//
// Every constructor returns a bus.Behavior. Behaviors keep no per-call state outside the stack
// and may be shared across request types.
package behavior
