// Package events is the one uniform transition-event hook every
// protocol FSM in this module fires through (spec.md §9: tagged-variant
// state machines "make invariant checks and logging uniform"). Each FSM
// already logs through pkg/rdtlog at its own call sites; Emit gives
// every family — rdt, gbn, sr, tcp — the same structured shape for that
// same moment, so a subscriber (a test assertion, the CLI demo's
// verbose mode) can observe state transitions independently of log
// text.
package events

import "time"

// Kind classifies what an Event reports.
type Kind int

const (
	// StateChanged marks an FSM moving from one named state to another.
	StateChanged Kind = iota
	// PacketDropped marks a received frame discarded without effect
	// (corrupt, wrong sequence, or impossible in the current state).
	PacketDropped
	// TimerFired marks a retransmission timer expiring.
	TimerFired
)

// Event is one observed FSM transition or trigger.
type Event struct {
	Protocol string // "rdt2.0" | "rdt2.1" | "rdt3.0" | "gbn" | "sr" | "tcp"
	Role     string // "sender" | "receiver" | "client" | "server"
	Kind     Kind
	From     string
	To       string
	Reason   string
	Seq      uint32
	Time     time.Time
}

// Handler observes emitted events. Handlers run synchronously on the
// emitting goroutine (each protocol's own single-threaded event loop),
// so a handler must not block or call back into the protocol that
// invoked it.
type Handler func(Event)

// Bus fans events out to every subscribed Handler. The zero value has
// no subscribers and Emit is then a cheap no-op, so FSMs can hold a Bus
// by value unconditionally instead of checking for nil.
type Bus struct {
	handlers []Handler
}

// Subscribe registers h to receive every future Emit call. Not safe to
// call concurrently with Emit on the same Bus.
func (b *Bus) Subscribe(h Handler) {
	b.handlers = append(b.handlers, h)
}

// Emit notifies every subscribed handler in registration order.
func (b *Bus) Emit(e Event) {
	for _, h := range b.handlers {
		h(e)
	}
}
