package interp

import (
	"sort"

	"github.com/chazu/clientserver/stream"
)

// CommandFunc invokes method on obj. msg is the expanded Invoke message:
// argument 0 is obj, argument 1 the method name, and the rest are the
// method's arguments. The function writes its outcome into result and
// returns a non-nil error on failure.
type CommandFunc func(in *Interpreter, obj any, method string, msg stream.Message, result *stream.Message) error

// FactoryFunc constructs an instance of class for handle id. It returns
// claimed=false when it does not know the class, letting later factories
// try. A claiming factory that fails returns a non-nil error instead of an
// object. One function may serve any number of class names.
type FactoryFunc func(class string, id stream.ID) (obj any, claimed bool, err error)

// CommandRegistry maps class names to command functions. At most one
// function is held per class; registering again replaces it.
type CommandRegistry struct {
	funcs map[string]CommandFunc
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{funcs: make(map[string]CommandFunc)}
}

func (r *CommandRegistry) Register(class string, fn CommandFunc) {
	r.funcs[class] = fn
}

func (r *CommandRegistry) Lookup(class string) (CommandFunc, bool) {
	fn, ok := r.funcs[class]
	return fn, ok
}

// Classes returns the registered class names in sorted order.
func (r *CommandRegistry) Classes() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FactoryRegistry is an ordered list of instance factories.
type FactoryRegistry struct {
	factories []FactoryFunc
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{}
}

// Register appends fn. Registration order is the order factories are tried.
func (r *FactoryRegistry) Register(fn FactoryFunc) {
	r.factories = append(r.factories, fn)
}

func (r *FactoryRegistry) Len() int { return len(r.factories) }

// TryConstruct asks each factory in turn to build class. The first factory
// to claim the class wins and no further factories are consulted, even when
// it fails.
func (r *FactoryRegistry) TryConstruct(class string, id stream.ID) (any, bool, error) {
	for _, fn := range r.factories {
		if obj, ok, err := fn(class, id); ok {
			return obj, true, err
		}
	}
	return nil, false, nil
}
