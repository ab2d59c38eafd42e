package stream

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrObjectArgument is returned when encoding a message that carries a
// native object reference. Objects never cross the wire; peers refer to them
// by handle.
var ErrObjectArgument = errors.New("stream: object arguments cannot be encoded")

// cborEncMode uses canonical mode so equal streams encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("stream: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type wireStream struct {
	Messages []wireMessage `cbor:"1,keyasint"`
}

type wireMessage struct {
	Command Command   `cbor:"1,keyasint"`
	Args    []wireArg `cbor:"2,keyasint,omitempty"`
}

type wireArg struct {
	Type  ArgType `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Uint  uint64  `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint"`
	Bool  bool    `cbor:"5,keyasint,omitempty"`
	Str   string  `cbor:"6,keyasint,omitempty"`
	Bytes []byte  `cbor:"7,keyasint,omitempty"`
}

// Marshal serializes a stream to CBOR bytes.
func Marshal(s *Stream) ([]byte, error) {
	ws := wireStream{Messages: make([]wireMessage, 0, s.Len())}
	for i, m := range s.messages {
		wm, err := toWire(m)
		if err != nil {
			return nil, fmt.Errorf("stream: message %d: %w", i, err)
		}
		ws.Messages = append(ws.Messages, wm)
	}
	return cborEncMode.Marshal(ws)
}

// Unmarshal deserializes a stream from CBOR bytes.
func Unmarshal(data []byte) (*Stream, error) {
	var ws wireStream
	if err := cbor.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("stream: unmarshal: %w", err)
	}
	s := &Stream{messages: make([]Message, 0, len(ws.Messages))}
	for i, wm := range ws.Messages {
		m, err := fromWire(wm)
		if err != nil {
			return nil, fmt.Errorf("stream: message %d: %w", i, err)
		}
		s.messages = append(s.messages, m)
	}
	return s, nil
}

// MarshalMessage serializes a single message as a one-message stream.
func MarshalMessage(m Message) ([]byte, error) {
	return Marshal(NewStream(m))
}

// UnmarshalMessage deserializes bytes produced by MarshalMessage.
func UnmarshalMessage(data []byte) (Message, error) {
	s, err := Unmarshal(data)
	if err != nil {
		return Message{}, err
	}
	if s.Len() != 1 {
		return Message{}, fmt.Errorf("stream: expected 1 message, got %d", s.Len())
	}
	return s.messages[0], nil
}

func toWire(m Message) (wireMessage, error) {
	if m.Command >= commandEnd {
		return wireMessage{}, fmt.Errorf("unknown command %d", uint8(m.Command))
	}
	wm := wireMessage{Command: m.Command}
	for i, a := range m.Args {
		wa := wireArg{Type: a.Type}
		var ok bool
		switch a.Type {
		case ArgInt:
			wa.Int, ok = a.Value.(int64)
		case ArgUint:
			wa.Uint, ok = a.Value.(uint64)
		case ArgFloat:
			wa.Float, ok = a.Value.(float64)
		case ArgBool:
			wa.Bool, ok = a.Value.(bool)
		case ArgString:
			wa.Str, ok = a.Value.(string)
		case ArgBytes:
			wa.Bytes, ok = a.Value.([]byte)
		case ArgID:
			var id ID
			id, ok = a.Value.(ID)
			wa.Uint = uint64(id)
		case ArgObject:
			return wireMessage{}, fmt.Errorf("argument %d: %w", i, ErrObjectArgument)
		}
		if !ok {
			return wireMessage{}, fmt.Errorf("argument %d: %s holds %T", i, a.Type, a.Value)
		}
		wm.Args = append(wm.Args, wa)
	}
	return wm, nil
}

func fromWire(wm wireMessage) (Message, error) {
	if wm.Command >= commandEnd {
		return Message{}, fmt.Errorf("unknown command %d", uint8(wm.Command))
	}
	m := Message{Command: wm.Command}
	for i, wa := range wm.Args {
		var a Argument
		switch wa.Type {
		case ArgInt:
			a = Int(wa.Int)
		case ArgUint:
			a = Uint(wa.Uint)
		case ArgFloat:
			a = Float(wa.Float)
		case ArgBool:
			a = Bool(wa.Bool)
		case ArgString:
			a = String(wa.Str)
		case ArgBytes:
			a = Bytes(wa.Bytes)
		case ArgID:
			if wa.Uint > uint64(^ID(0)) {
				return Message{}, fmt.Errorf("argument %d: handle %d out of range", i, wa.Uint)
			}
			a = Handle(ID(wa.Uint))
		default:
			return Message{}, fmt.Errorf("argument %d: unsupported type %d", i, uint8(wa.Type))
		}
		m.Args = append(m.Args, a)
	}
	return m, nil
}
