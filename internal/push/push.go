// Package push defines the envelope carried from the session core to the
// per-owner subscriber fanout. Core components publish through an Emitter;
// the websocket hub subscribes to the "push." bus namespace and routes each
// envelope to the owner's subscriber group.
package push

import (
	"github.com/zapdeskhq/zapdesk/internal/bus"
)

// Event names delivered to subscribers.
const (
	EventQR            = "qr"
	EventAuthenticated = "authenticated"
	EventReady         = "ready"
	EventDisconnected  = "disconnected"
	EventMessage       = "message"
	EventContactStatus = "contact-status-updated"
)

// Namespace is the bus prefix push envelopes are published under.
const Namespace = "push."

// Envelope is the bus payload for one subscriber-bound event.
type Envelope struct {
	OwnerID string
	Event   string
	Data    any
}

// Emitter publishes subscriber-bound events on the bus. Delivery is
// best-effort: no guarantee, no backpressure.
type Emitter struct {
	bus *bus.Bus
}

// NewEmitter creates an emitter backed by the given bus.
func NewEmitter(b *bus.Bus) *Emitter {
	return &Emitter{bus: b}
}

// Emit publishes one event for ownerID's subscriber group.
func (e *Emitter) Emit(ownerID, event string, data any) {
	if e == nil || e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{
		Kind:    Namespace + event,
		Payload: Envelope{OwnerID: ownerID, Event: event, Data: data},
	})
}
