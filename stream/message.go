// Package stream models the messages exchanged with an interpreter: a
// command tag plus an ordered list of typed arguments, grouped into streams.
package stream

import (
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
)

// Command is the tag at the head of every message.
type Command uint8

const (
	Reply Command = iota
	Error
	New
	Invoke
	Delete
	AssignResult
	commandEnd
)

var commandNames = [...]string{
	Reply:        "Reply",
	Error:        "Error",
	New:          "New",
	Invoke:       "Invoke",
	Delete:       "Delete",
	AssignResult: "AssignResult",
}

// String returns the command's name.
func (c Command) String() string {
	if c < commandEnd {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

// CommandFromString looks a command up by name.
func CommandFromString(name string) (Command, bool) {
	for c, n := range commandNames {
		if strings.EqualFold(n, name) {
			return Command(c), true
		}
	}
	return 0, false
}

// ID is a caller-chosen handle. ID 0 always names the last result.
type ID uint32

// ArgType identifies the type of an Argument.
type ArgType uint8

const (
	ArgInvalid ArgType = iota
	ArgInt
	ArgUint
	ArgFloat
	ArgBool
	ArgString
	ArgBytes
	ArgID
	ArgObject
)

// String returns the argument type's name as used in traces.
func (t ArgType) String() string {
	switch t {
	case ArgInt:
		return "int64_value"
	case ArgUint:
		return "uint64_value"
	case ArgFloat:
		return "float64_value"
	case ArgBool:
		return "bool_value"
	case ArgString:
		return "string_value"
	case ArgBytes:
		return "bytes_value"
	case ArgID:
		return "id_value"
	case ArgObject:
		return "object_pointer"
	default:
		return "invalid"
	}
}

// Argument is one typed message argument.
//
// Value holds int64, uint64, float64, bool, string, []byte, ID, or, for
// ArgObject, the native reference itself.
type Argument struct {
	Type  ArgType
	Value any
}

func Int(v int64) Argument { return Argument{Type: ArgInt, Value: v} }
func Uint(v uint64) Argument { return Argument{Type: ArgUint, Value: v} }
func Float(v float64) Argument { return Argument{Type: ArgFloat, Value: v} }
func Bool(v bool) Argument { return Argument{Type: ArgBool, Value: v} }
func String(v string) Argument { return Argument{Type: ArgString, Value: v} }
func Bytes(v []byte) Argument { return Argument{Type: ArgBytes, Value: v} }
func Handle(id ID) Argument { return Argument{Type: ArgID, Value: id} }
func Object(obj any) Argument { return Argument{Type: ArgObject, Value: obj} }

// AsInt returns the argument as an int64. Unsigned values that fit are
// accepted.
func (a Argument) AsInt() (int64, bool) {
	switch a.Type {
	case ArgInt:
		v, ok := a.Value.(int64)
		return v, ok
	case ArgUint:
		v, ok := a.Value.(uint64)
		if !ok || v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

// AsUint returns the argument as a uint64. Non-negative signed values are
// accepted.
func (a Argument) AsUint() (uint64, bool) {
	switch a.Type {
	case ArgUint:
		v, ok := a.Value.(uint64)
		return v, ok
	case ArgInt:
		v, ok := a.Value.(int64)
		if !ok || v < 0 {
			return 0, false
		}
		return uint64(v), true
	}
	return 0, false
}

// AsFloat returns the argument as a float64, widening integers.
func (a Argument) AsFloat() (float64, bool) {
	switch a.Type {
	case ArgFloat:
		v, ok := a.Value.(float64)
		return v, ok
	case ArgInt:
		v, ok := a.Value.(int64)
		return float64(v), ok
	case ArgUint:
		v, ok := a.Value.(uint64)
		return float64(v), ok
	}
	return 0, false
}

func (a Argument) AsBool() (bool, bool) {
	if a.Type != ArgBool {
		return false, false
	}
	v, ok := a.Value.(bool)
	return v, ok
}

func (a Argument) AsString() (string, bool) {
	if a.Type != ArgString {
		return "", false
	}
	v, ok := a.Value.(string)
	return v, ok
}

func (a Argument) AsBytes() ([]byte, bool) {
	if a.Type != ArgBytes {
		return nil, false
	}
	v, ok := a.Value.([]byte)
	return v, ok
}

func (a Argument) AsID() (ID, bool) {
	if a.Type != ArgID {
		return 0, false
	}
	v, ok := a.Value.(ID)
	return v, ok
}

// AsObject returns the native reference carried by an object argument.
func (a Argument) AsObject() (any, bool) {
	if a.Type != ArgObject {
		return nil, false
	}
	return a.Value, true
}

// Equal reports whether two arguments carry the same type and value.
// Object arguments compare by identity when the reference is comparable.
func (a Argument) Equal(b Argument) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == ArgObject {
		if a.Value == nil || b.Value == nil {
			return a.Value == nil && b.Value == nil
		}
		va, vb := reflect.ValueOf(a.Value), reflect.ValueOf(b.Value)
		if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
			return false
		}
		return a.Value == b.Value
	}
	return reflect.DeepEqual(a.Value, b.Value)
}

func (a Argument) String() string {
	switch a.Type {
	case ArgBytes:
		b, _ := a.AsBytes()
		return fmt.Sprintf("%d bytes", len(b))
	case ArgObject:
		if a.Value == nil {
			return "nil"
		}
		return fmt.Sprintf("%T(%p)", a.Value, a.Value)
	}
	return fmt.Sprint(a.Value)
}

// Message is one command plus its arguments.
type Message struct {
	Command Command
	Args    []Argument
}

// NewMessage builds a message from a command and arguments.
func NewMessage(cmd Command, args ...Argument) Message {
	return Message{Command: cmd, Args: append([]Argument(nil), args...)}
}

func (m Message) Cmd() Command { return m.Command }
func (m Message) NumArgs() int { return len(m.Args) }
func (m Message) IsEmpty() bool { return m.Command == Reply && len(m.Args) == 0 }

// Arg returns argument i, or false when out of range.
func (m Message) Arg(i int) (Argument, bool) {
	if i < 0 || i >= len(m.Args) {
		return Argument{}, false
	}
	return m.Args[i], true
}

// ArgType returns the type of argument i, or ArgInvalid when out of range.
func (m Message) ArgType(i int) ArgType {
	a, ok := m.Arg(i)
	if !ok {
		return ArgInvalid
	}
	return a.Type
}

// Clone returns a copy that shares no argument storage with m.
// Byte slices are copied; object references are shared.
func (m Message) Clone() Message {
	out := Message{Command: m.Command}
	if m.Args == nil {
		return out
	}
	out.Args = make([]Argument, len(m.Args))
	for i, a := range m.Args {
		if b, ok := a.Value.([]byte); ok && a.Type == ArgBytes {
			a.Value = append([]byte(nil), b...)
		}
		out.Args[i] = a
	}
	return out
}

// Equal reports whether two messages have the same command and arguments.
func (m Message) Equal(o Message) bool {
	if m.Command != o.Command || len(m.Args) != len(o.Args) {
		return false
	}
	for i := range m.Args {
		if !m.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// Print writes a readable form of the message, as used by trace logs.
func (m Message) Print(w io.Writer, index int) {
	fmt.Fprintf(w, "Message %d = %s\n", index, m.Command)
	for i, a := range m.Args {
		fmt.Fprintf(w, "  Argument %d = %s {%s}\n", i, a.Type, a)
	}
}

// Stream is an ordered sequence of messages.
type Stream struct {
	messages []Message
}

// NewStream creates a stream holding the given messages.
func NewStream(msgs ...Message) *Stream {
	return &Stream{messages: append([]Message(nil), msgs...)}
}

// Add appends a message built from cmd and args and returns the stream so
// calls can be chained.
func (s *Stream) Add(cmd Command, args ...Argument) *Stream {
	s.messages = append(s.messages, NewMessage(cmd, args...))
	return s
}

// Append appends an existing message.
func (s *Stream) Append(m Message) *Stream {
	s.messages = append(s.messages, m)
	return s
}

func (s *Stream) Len() int { return len(s.messages) }

// Message returns message i, or false when out of range.
func (s *Stream) Message(i int) (Message, bool) {
	if i < 0 || i >= len(s.messages) {
		return Message{}, false
	}
	return s.messages[i], true
}

// Messages returns the stream's messages. The slice must not be modified.
func (s *Stream) Messages() []Message { return s.messages }

func (s *Stream) Reset() { s.messages = s.messages[:0] }

// Print writes every message in order.
func (s *Stream) Print(w io.Writer) {
	for i, m := range s.messages {
		m.Print(w, i)
	}
}
