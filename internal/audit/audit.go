/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package audit emits best-effort events about queue lifecycle transitions.
//
// Emission is a one-way outbound port: the admission engine and the terminate
// handler fire events without awaiting durability, and delivery failures must
// never affect admission decisions.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of lifecycle transition being reported.
type EventType string

// Emitted event types.
const (
	EventEnqueued   EventType = "enqueued"
	EventTerminated EventType = "terminated"
)

// Event describes a single queue lifecycle transition.
type Event struct {
	Type      EventType `json:"type"`
	VisitorID string    `json:"visitorId"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter is the outbound port for audit events.
type Emitter interface {
	// Emit sends the event without awaiting delivery. Implementations must
	// not block the caller beyond a local enqueue.
	Emit(event Event)

	// Close releases emitter resources, flushing whatever it can.
	Close()
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, visitorID uuid.UUID) Event {
	return Event{Type: eventType, VisitorID: visitorID.String(), Timestamp: time.Now().UTC()}
}

// DisabledEmitter drops all events. Used when auditing is turned off.
type DisabledEmitter struct{}

// NewDisabledEmitter creates an emitter that discards everything.
func NewDisabledEmitter() DisabledEmitter { return DisabledEmitter{} }

// Emit implements Emitter.
func (DisabledEmitter) Emit(Event) {}

// Close implements Emitter.
func (DisabledEmitter) Close() {}
