// Package wrap exposes plain Go types to an interpreter as classes. A
// Library registers a constructor per class name and dispatches Invoke
// messages to exported methods by reflection, so one factory and one command
// function serve a whole family of classes.
package wrap

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

var log = commonlog.GetLogger("clientserver.wrap")

var (
	ErrBadConstructor = errors.New("constructor must be func() T or func() (T, error)")
	ErrDuplicateClass = errors.New("class already registered")
	ErrNoMethod       = errors.New("no such method")
	ErrArgCount       = errors.New("wrong number of arguments")
	ErrArgType        = errors.New("argument type mismatch")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// classInfo describes one registered class.
type classInfo struct {
	name     string
	goType   reflect.Type
	ctor     reflect.Value
	hasError bool
}

// Library maps class names to Go constructors and Go types back to class
// names. Safe for concurrent registration and lookup.
type Library struct {
	mu      sync.RWMutex
	classes map[string]*classInfo
	byType  map[reflect.Type]string
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{
		classes: make(map[string]*classInfo),
		byType:  make(map[reflect.Type]string),
	}
}

// Register adds class, built by ctor. ctor is a func() T or a
// func() (T, error) where T is a concrete type; instances of T dispatch to
// this class.
func (l *Library) Register(class string, ctor any) error {
	fv := reflect.ValueOf(ctor)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 0 || ft.IsVariadic() {
		return fmt.Errorf("%w: %s: got %T", ErrBadConstructor, class, ctor)
	}
	info := &classInfo{name: class, ctor: fv}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
		info.hasError = true
	default:
		return fmt.Errorf("%w: %s: got %T", ErrBadConstructor, class, ctor)
	}
	info.goType = ft.Out(0)
	if info.goType.Kind() == reflect.Interface {
		return fmt.Errorf("%w: %s: result type %s is an interface", ErrBadConstructor, class, info.goType)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.classes[class]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, class)
	}
	if other, ok := l.byType[info.goType]; ok {
		return fmt.Errorf("%w: %s is already class %s", ErrDuplicateClass, info.goType, other)
	}
	l.classes[class] = info
	l.byType[info.goType] = class
	log.Debugf("registered class %s (%s)", class, info.goType)
	return nil
}

// MustRegister is Register that panics on error, for static class tables.
func (l *Library) MustRegister(class string, ctor any) {
	if err := l.Register(class, ctor); err != nil {
		panic(err)
	}
}

// Classes returns the registered class names in sorted order.
func (l *Library) Classes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.classes))
	for name := range l.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClassOf returns the class name registered for obj's dynamic type.
func (l *Library) ClassOf(obj any) (string, bool) {
	if obj == nil {
		return "", false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	name, ok := l.byType[reflect.TypeOf(obj)]
	return name, ok
}

func (l *Library) lookup(class string) (*classInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	info, ok := l.classes[class]
	return info, ok
}

// Factory returns one factory that claims every class in the library.
// A constructor error fails the construction.
func (l *Library) Factory() interp.FactoryFunc {
	return func(class string, id stream.ID) (any, bool, error) {
		info, ok := l.lookup(class)
		if !ok {
			return nil, false, nil
		}
		out := info.ctor.Call(nil)
		if info.hasError && !out[1].IsNil() {
			err := out[1].Interface().(error)
			log.Errorf("constructing %s for handle %d: %v", class, id, err)
			return nil, true, fmt.Errorf("constructing %s: %w", class, err)
		}
		return out[0].Interface(), true, nil
	}
}

// Command returns a command function that calls the exported method named
// by the Invoke message. Message arguments are converted to the method's
// parameter types and its results become the Reply's arguments. A trailing
// error result, when non-nil, fails the call.
func (l *Library) Command() interp.CommandFunc {
	return func(in *interp.Interpreter, obj any, method string, msg stream.Message, result *stream.Message) error {
		m := reflect.ValueOf(obj).MethodByName(method)
		if !m.IsValid() {
			return fmt.Errorf("%w: %s.%s", ErrNoMethod, in.ClassName(obj), method)
		}
		args, err := convertArgs(m.Type(), msg.Args[2:])
		if err != nil {
			return fmt.Errorf("%s.%s: %w", in.ClassName(obj), method, err)
		}

		out := m.Call(args)
		if n := len(out); n > 0 && m.Type().Out(n-1) == errorType {
			if e := out[n-1]; !e.IsNil() {
				return e.Interface().(error)
			}
			out = out[:n-1]
		}

		reply := stream.Message{Command: stream.Reply, Args: make([]stream.Argument, 0, len(out))}
		for _, v := range out {
			reply.Args = append(reply.Args, toArgument(v))
		}
		*result = reply
		return nil
	}
}

// Install registers the library's factory, one command function per class,
// and a class resolver on in.
func (l *Library) Install(in *interp.Interpreter) {
	in.RegisterFactory(l.Factory())
	cmd := l.Command()
	for _, name := range l.Classes() {
		in.RegisterCommand(name, cmd)
	}
	in.RegisterClassResolver(l.ClassOf)
}
