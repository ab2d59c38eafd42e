package interp

import (
	"fmt"

	"github.com/chazu/clientserver/stream"
)

// EventKind identifies an object lifecycle event.
type EventKind int

const (
	// EventConstructed fires after a New message stored its instance.
	EventConstructed EventKind = iota + 1
	// EventDestroying fires before a Delete message removes an object.
	EventDestroying
)

func (k EventKind) String() string {
	switch k {
	case EventConstructed:
		return "constructed"
	case EventDestroying:
		return "destroying"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event describes an object entering or leaving the handle table.
type Event struct {
	Kind      EventKind
	ClassName string
	ID        stream.ID
}

// Observer receives lifecycle events synchronously, in the order they occur.
type Observer interface {
	ObjectEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) ObjectEvent(e Event) { f(e) }

func (in *Interpreter) raise(e Event) {
	for _, o := range in.observers {
		in.notify(o, e)
	}
}

func (in *Interpreter) notify(o Observer, e Event) {
	defer func() {
		if p := recover(); p != nil {
			in.log.Errorf("observer %T panicked on %s event for handle %d: %v", o, e.Kind, e.ID, p)
		}
	}()
	o.ObjectEvent(e)
}
