// Package interp executes streams of handle-addressed messages: it builds
// objects through registered factories, invokes methods on them through
// per-class command functions, and keeps results in a handle table so later
// messages can refer to them.
package interp

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/clientserver/stream"
)

var log = commonlog.GetLogger("clientserver.interp")

// ErrNotObject is returned by ObjectFromID when the handle's message does
// not hold exactly one object.
var ErrNotObject = errors.New("handle does not hold exactly one object")

// ClassNamer lets an object report its own class name for dispatch.
type ClassNamer interface {
	ClassName() string
}

// ClassResolver maps an object to its class name, or reports false when it
// does not know the object's type.
type ClassResolver func(obj any) (string, bool)

// Interpreter processes message streams against one handle table and one
// set of registries. It is not safe for concurrent use; callers that share
// an interpreter must serialize whole streams.
type Interpreter struct {
	handles   *HandleTable
	commands  *CommandRegistry
	factories *FactoryRegistry
	resolvers []ClassResolver
	observers []Observer
	trace     io.Writer
	log       commonlog.Logger
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l commonlog.Logger) Option {
	return func(in *Interpreter) { in.log = l }
}

// WithLog sets the sink that receives a textual trace of every expanded
// request and its reply.
func WithLog(w io.Writer) Option {
	return func(in *Interpreter) { in.trace = w }
}

// WithObserver registers an observer of object lifecycle events.
func WithObserver(o Observer) Option {
	return func(in *Interpreter) { in.observers = append(in.observers, o) }
}

// New creates an interpreter with empty registries.
func New(opts ...Option) *Interpreter {
	in := &Interpreter{
		handles:   NewHandleTable(),
		commands:  NewCommandRegistry(),
		factories: NewFactoryRegistry(),
		log:       log,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Interpreter) Handles() *HandleTable { return in.handles }
func (in *Interpreter) Commands() *CommandRegistry { return in.commands }
func (in *Interpreter) Factories() *FactoryRegistry { return in.factories }

// RegisterCommand sets the command function for class, replacing any
// previous one.
func (in *Interpreter) RegisterCommand(class string, fn CommandFunc) {
	in.commands.Register(class, fn)
}

// RegisterFactory appends an instance factory.
func (in *Interpreter) RegisterFactory(fn FactoryFunc) {
	in.factories.Register(fn)
}

// RegisterClassResolver adds a resolver consulted by ClassName for objects
// that do not implement ClassNamer.
func (in *Interpreter) RegisterClassResolver(fn ClassResolver) {
	in.resolvers = append(in.resolvers, fn)
}

// AddObserver registers an observer of object lifecycle events.
func (in *Interpreter) AddObserver(o Observer) {
	in.observers = append(in.observers, o)
}

// SetLog sets or, with nil, clears the trace sink.
func (in *Interpreter) SetLog(w io.Writer) {
	in.trace = w
}

// ClassName returns the runtime class name used to dispatch on obj.
func (in *Interpreter) ClassName(obj any) string {
	if n, ok := obj.(ClassNamer); ok {
		return n.ClassName()
	}
	for _, r := range in.resolvers {
		if name, ok := r(obj); ok {
			return name
		}
	}
	t := reflect.TypeOf(obj)
	if t == nil {
		return ""
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// ProcessBytes decodes a CBOR-encoded stream and processes it.
func (in *Interpreter) ProcessBytes(data []byte) error {
	s, err := stream.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return in.ProcessStream(s)
}

// ProcessStream processes each message in order and stops at the first
// failure, which is returned as a *StreamError. Effects of earlier messages
// are kept.
func (in *Interpreter) ProcessStream(s *stream.Stream) error {
	for i, m := range s.Messages() {
		if err := in.ProcessMessage(m); err != nil {
			se := &StreamError{Index: i, Command: m.Command, Err: err}
			if m.Command == stream.New || m.Command == stream.Invoke {
				se.Diagnostic = errorText(in.handles.Last())
			}
			in.log.Errorf("%v", se)
			return se
		}
	}
	return nil
}

// ProcessMessage dispatches a single message by its command tag.
func (in *Interpreter) ProcessMessage(m stream.Message) error {
	switch m.Command {
	case stream.New:
		return in.processNew(m)
	case stream.Invoke:
		return in.processInvoke(m)
	case stream.Delete:
		return in.processDelete(m)
	case stream.AssignResult:
		return in.processAssignResult(m)
	}
	return fmt.Errorf("%w: %s cannot be executed", ErrUnknownCommand, m.Command)
}

func (in *Interpreter) processNew(m stream.Message) error {
	in.handles.ResetLast()
	if in.factories.Len() == 0 {
		return ErrNoRegisteredFactory
	}
	class, ok1 := argString(m, 0)
	id, ok2 := argID(m, 1)
	if m.NumArgs() != 2 || !ok1 || !ok2 {
		return malformed(m, "want (string, id)")
	}
	if id == 0 {
		return fmt.Errorf("%w: cannot construct into handle 0", ErrMalformedMessage)
	}
	if _, bound := in.handles.lookup(id); bound {
		return fmt.Errorf("%w: %d", ErrDuplicateHandle, id)
	}

	obj, claimed, err := in.construct(class, id)
	if err != nil {
		in.handles.SetLast(errorMessage(err))
		return fmt.Errorf("%w: constructing %q: %w", ErrCallbackFailed, class, err)
	}
	if !claimed {
		return fmt.Errorf("%w: %q", ErrFactoryDidNotClaim, class)
	}
	if err := in.NewInstance(obj, id); err != nil {
		return err
	}
	in.raise(Event{Kind: EventConstructed, ClassName: class, ID: id})
	return nil
}

func (in *Interpreter) construct(class string, id stream.ID) (obj any, claimed bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("factory panicked: %v", p)
		}
	}()
	return in.factories.TryConstruct(class, id)
}

// NewInstance makes obj the last result and stores it under id. The table
// takes over the caller's reference; if id is already bound, obj is
// released and an error returned.
func (in *Interpreter) NewInstance(obj any, id stream.ID) error {
	in.handles.SetLast(stream.NewMessage(stream.Reply, stream.Object(obj)))
	if err := in.assignResult(id); err != nil {
		in.handles.SetLast(errorMessage(err))
		if r, ok := obj.(Releaser); ok {
			safeRelease(r)
		}
		return err
	}
	return nil
}

func (in *Interpreter) processInvoke(m stream.Message) error {
	msg := in.Expand(m)
	in.handles.ResetLast()

	method, ok := argString(msg, 1)
	if msg.NumArgs() < 2 || !ok {
		return malformed(msg, "want (object, string, ...)")
	}
	target := msg.Args[0]
	if id, ok := target.AsID(); ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, id)
	}
	obj, ok := target.AsObject()
	if !ok || obj == nil {
		return malformed(msg, "invoke target is not an object")
	}

	in.traceRequest(msg)

	class := in.ClassName(obj)
	fn, ok := in.commands.Lookup(class)
	if !ok {
		err := fmt.Errorf("%w %q", ErrNoCommandFunc, class)
		in.handles.SetLast(errorMessage(err))
		in.traceReply(in.handles.Last())
		return err
	}

	var result stream.Message
	if err := in.call(fn, obj, method, msg, &result); err != nil {
		if result.Command != stream.Error {
			result = errorMessage(err)
		}
		in.handles.SetLast(result)
		in.traceReply(result)
		return fmt.Errorf("%w: %s.%s: %w", ErrCallbackFailed, class, method, err)
	}
	in.handles.SetLast(result)
	in.traceReply(result)
	return nil
}

func (in *Interpreter) call(fn CommandFunc, obj any, method string, msg stream.Message, result *stream.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(in, obj, method, msg, result)
}

func (in *Interpreter) processDelete(m stream.Message) error {
	id, ok := argID(m, 0)
	if m.NumArgs() != 1 || !ok {
		return malformed(m, "want (id)")
	}
	if id == 0 {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, ErrReservedHandle)
	}

	stored, ok := in.handles.lookup(id)
	if !ok {
		in.log.Debugf("delete of unbound handle %d ignored", id)
		return nil
	}
	if obj, ok := soleObject(stored); ok {
		in.raise(Event{Kind: EventDestroying, ClassName: in.ClassName(obj), ID: id})
	}
	in.handles.Remove(id)
	return nil
}

func (in *Interpreter) processAssignResult(m stream.Message) error {
	id, ok := argID(m, 0)
	if m.NumArgs() != 1 || !ok {
		return malformed(m, "want (id)")
	}
	if id == 0 {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, ErrReservedHandle)
	}
	return in.assignResult(id)
}

func (in *Interpreter) assignResult(id stream.ID) error {
	if err := in.handles.Bind(id, in.handles.Last()); err != nil {
		in.log.Errorf("cannot assign handle %d: %v", id, err)
		return err
	}
	return nil
}

// MessageFromID returns the message stored under id; 0 is the last result.
func (in *Interpreter) MessageFromID(id stream.ID) (stream.Message, error) {
	m, ok := in.handles.Resolve(id)
	if !ok {
		return stream.Message{}, fmt.Errorf("%w: %d", ErrUnknownHandle, id)
	}
	return m, nil
}

// ObjectFromID returns the object held by the message stored under id.
func (in *Interpreter) ObjectFromID(id stream.ID) (any, error) {
	m, err := in.MessageFromID(id)
	if err != nil {
		return nil, err
	}
	obj, ok := soleObject(m)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotObject, id)
	}
	return obj, nil
}

// IDFromObject returns the lowest handle whose message holds obj first.
func (in *Interpreter) IDFromObject(obj any) (stream.ID, bool) {
	return in.handles.FindObject(obj)
}

// LastResult returns the current last result.
func (in *Interpreter) LastResult() stream.Message {
	return in.handles.Last()
}

// Close destroys every stored message, releasing owned objects.
func (in *Interpreter) Close() {
	in.handles.Clear()
}

func (in *Interpreter) traceRequest(m stream.Message) {
	if in.trace == nil {
		return
	}
	fmt.Fprintln(in.trace, strings.Repeat("-", 78))
	m.Print(in.trace, 0)
}

func (in *Interpreter) traceReply(m stream.Message) {
	if in.trace == nil {
		return
	}
	m.Print(in.trace, 0)
}

func soleObject(m stream.Message) (any, bool) {
	if m.NumArgs() != 1 {
		return nil, false
	}
	obj, ok := m.Args[0].AsObject()
	return obj, ok && obj != nil
}

func argID(m stream.Message, i int) (stream.ID, bool) {
	a, ok := m.Arg(i)
	if !ok {
		return 0, false
	}
	return a.AsID()
}

func argString(m stream.Message, i int) (string, bool) {
	a, ok := m.Arg(i)
	if !ok {
		return "", false
	}
	return a.AsString()
}

func malformed(m stream.Message, want string) error {
	types := make([]string, m.NumArgs())
	for i := range types {
		types[i] = m.ArgType(i).String()
	}
	return fmt.Errorf("%w: %s %s, got (%s)", ErrMalformedMessage, m.Command, want, strings.Join(types, ", "))
}

func errorMessage(err error) stream.Message {
	return stream.NewMessage(stream.Error, stream.String(err.Error()))
}

// errorText returns the diagnostic of an Error message, or "".
func errorText(m stream.Message) string {
	if m.Command != stream.Error {
		return ""
	}
	s, _ := argString(m, 0)
	return s
}
