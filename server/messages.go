package server

import (
	"fmt"
	"time"

	"github.com/chazu/clientserver/stream"
)

// Request and response bodies of the InterpreterService procedures.

type OpenSessionRequest struct {
	Name string `cbor:"1,keyasint,omitempty"`
}

type OpenSessionResponse struct {
	SessionID string `cbor:"1,keyasint"`
	// Classes lists the class names the session can construct.
	Classes []string `cbor:"2,keyasint,omitempty"`
}

type CloseSessionRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type CloseSessionResponse struct{}

type ProcessRequest struct {
	SessionID string `cbor:"1,keyasint"`
	// Stream is a CBOR-encoded message stream.
	Stream []byte `cbor:"2,keyasint"`
}

// ProcessResponse reports how far a stream got. A stream that stops at a
// failing message is not an RPC error: OK is false and FailedIndex names the
// message.
type ProcessResponse struct {
	OK          bool   `cbor:"1,keyasint"`
	Error       string `cbor:"2,keyasint,omitempty"`
	Diagnostic  string `cbor:"3,keyasint,omitempty"`
	FailedIndex int    `cbor:"4,keyasint"`
	// Result is the last result as a one-message stream, with object
	// arguments replaced by their handles.
	Result []byte `cbor:"5,keyasint,omitempty"`
	// ResultError explains why Result is empty, typically an object that
	// no handle refers to.
	ResultError string `cbor:"6,keyasint,omitempty"`
}

// LastResult decodes Result.
func (r *ProcessResponse) LastResult() (stream.Message, error) {
	if r.ResultError != "" {
		return stream.Message{}, fmt.Errorf("result unavailable: %s", r.ResultError)
	}
	s, err := stream.Unmarshal(r.Result)
	if err != nil {
		return stream.Message{}, err
	}
	m, ok := s.Message(0)
	if !ok || s.Len() != 1 {
		return stream.Message{}, fmt.Errorf("result holds %d messages, want 1", s.Len())
	}
	return m, nil
}

type ListObjectsRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type ListObjectsResponse struct {
	Objects []ObjectInfo   `cbor:"1,keyasint,omitempty"`
	Counts  map[string]int `cbor:"2,keyasint,omitempty"`
}

// ObjectInfo is one live object of a session.
type ObjectInfo struct {
	Handle    stream.ID `cbor:"1,keyasint"`
	Class     string    `cbor:"2,keyasint"`
	CreatedAt time.Time `cbor:"3,keyasint"`
}
