package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Error codes for the bus contracts. Keep stable; used across adapters, bridge and bus.
const (
	ErrCodeHandlerExists       = "orderbus.handler_exists"
	ErrCodeHandlerNotFound     = "orderbus.handler_not_found"
	ErrCodeHandlerTypeMismatch = "orderbus.handler_type_mismatch"
	ErrCodeRegistrySealed      = "orderbus.registry_sealed"
	ErrCodeValidationFailed    = "orderbus.validation_failed"
	ErrCodeUnauthorized        = "orderbus.unauthorized"
	ErrCodeNotFound            = "orderbus.not_found"
	ErrCodeInvalidQuantity     = "orderbus.invalid_quantity"
	ErrCodeConcurrencyConflict = "orderbus.concurrency_conflict"
	ErrCodeTransactionFailed   = "orderbus.transaction_failed"
	ErrCodeSubscriberFailed    = "orderbus.subscriber_failed"
	ErrCodeAsyncNotConfigured  = "orderbus.async_not_configured"
	ErrCodePublishFailed       = "orderbus.publish_failed"
	ErrCodeSerializationFailed = "orderbus.serialization_failed"
	ErrCodeUnknownEventType    = "orderbus.unknown_event_type"
	ErrCodeListenerClosed      = "orderbus.listener_closed"
	ErrCodePanicked            = "orderbus.panicked"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound     = Code(ErrCodeHandlerNotFound)
	ErrHandlerTypeMismatch = Code(ErrCodeHandlerTypeMismatch)
	ErrRegistrySealed      = Code(ErrCodeRegistrySealed)
	ErrValidationFailed    = Code(ErrCodeValidationFailed)
	ErrUnauthorized        = Code(ErrCodeUnauthorized)
	ErrNotFound            = Code(ErrCodeNotFound)
	ErrInvalidQuantity     = Code(ErrCodeInvalidQuantity)
	ErrConcurrencyConflict = Code(ErrCodeConcurrencyConflict)
	ErrTransactionFailed   = Code(ErrCodeTransactionFailed)
	ErrSubscriberFailed    = Code(ErrCodeSubscriberFailed)
	ErrAsyncNotConfigured  = Code(ErrCodeAsyncNotConfigured)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrUnknownEventType    = Code(ErrCodeUnknownEventType)
	ErrListenerClosed      = Code(ErrCodeListenerClosed)
	ErrPanicked            = Code(ErrCodePanicked)
)

// IsConfiguration reports whether err stems from handler wiring rather than request data.
// Configuration errors are fatal at start-up and are never retried.
func IsConfiguration(err error) bool {
	return stderrors.Is(err, ErrHandlerExists) ||
		stderrors.Is(err, ErrHandlerNotFound) ||
		stderrors.Is(err, ErrHandlerTypeMismatch) ||
		stderrors.Is(err, ErrRegistrySealed)
}

// FieldFailure describes one rejected field of a request.
type FieldFailure struct {
	Field   string
	Rule    string
	Message string
}

// ValidationError is returned when a request is rejected before reaching its handler.
type ValidationError struct {
	Request  string
	Failures []FieldFailure
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Field+": "+f.Message)
	}

	return fmt.Sprintf("validate %s: %s: %s", e.Request, ErrCodeValidationFailed, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// SubscriberError records a failed notification subscriber. It never aborts sibling subscribers.
type SubscriberError struct {
	Event      string
	Subscriber string
	Index      int
	Err        error
}

func (e *SubscriberError) Error() string {
	return fmt.Sprintf("publish %s: subscriber %d (%s): %v", e.Event, e.Index, e.Subscriber, e.Err)
}

func (e *SubscriberError) Unwrap() []error { return []error{ErrSubscriberFailed, e.Err} }
