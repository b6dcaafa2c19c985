package progress

import "context"

// Sink consumes batches of fetch events. Implementations must honor ctx
// deadlines and tolerate repeated Consume calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. The fetch client only depends on this
// interface; Hub and Listeners both satisfy it.
type Emitter interface {
	Emit(evt Event)
}

// Listeners delivers each event synchronously, in registration order, on the
// emitting goroutine.
type Listeners []func(Event)

// Emit calls every listener with evt.
func (l Listeners) Emit(evt Event) {
	for _, fn := range l {
		if fn != nil {
			fn(evt)
		}
	}
}

// Multi fans an event out to several emitters in order.
func Multi(emitters ...Emitter) Emitter {
	return multi(emitters)
}

type multi []Emitter

func (m multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}

// Discard drops every event.
var Discard Emitter = Listeners(nil)
