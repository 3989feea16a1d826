package domain

import (
	cbus "github.com/next-trace/scg-order-bus/contract/bus"
)

// Aggregate is the staging contract handlers rely on.
type Aggregate interface {
	// PendingEvents returns a copy of the staged events without clearing them.
	PendingEvents() []cbus.Notification
	// DrainEvents returns the staged events in staging order and empties the queue.
	DrainEvents() []cbus.Notification
}

// Recorder is the pending event queue an aggregate embeds. It is owned by exactly one
// aggregate instance; concurrent mutations of the same instance are the caller's problem.
type Recorder struct {
	pending []cbus.Notification
}

// Record appends an event. Mutations call it as their last step.
func (r *Recorder) Record(e cbus.Notification) {
	r.pending = append(r.pending, e)
}

func (r *Recorder) PendingEvents() []cbus.Notification {
	return append([]cbus.Notification(nil), r.pending...)
}

func (r *Recorder) DrainEvents() []cbus.Notification {
	out := r.pending
	r.pending = nil

	return out
}
