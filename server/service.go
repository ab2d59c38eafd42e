package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/chazu/clientserver/directory"
	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

// ServiceName is the fully-qualified name of the interpreter service.
const ServiceName = "clientserver.v1.InterpreterService"

// Procedure paths of the interpreter service.
const (
	OpenSessionProcedure  = "/" + ServiceName + "/OpenSession"
	CloseSessionProcedure = "/" + ServiceName + "/CloseSession"
	ProcessProcedure      = "/" + ServiceName + "/Process"
	ListObjectsProcedure  = "/" + ServiceName + "/ListObjects"
)

// InterpreterService implements the session and stream procedures.
type InterpreterService struct {
	sessions *SessionStore
	dir      *directory.Directory
	classes  []string
}

// NewInterpreterService creates an InterpreterService. dir may be nil, in
// which case ListObjects is unavailable.
func NewInterpreterService(sessions *SessionStore, dir *directory.Directory, classes []string) *InterpreterService {
	return &InterpreterService{sessions: sessions, dir: dir, classes: classes}
}

// Handler returns the service's Connect handlers mounted on one mux.
func (s *InterpreterService) Handler(opts ...connect.HandlerOption) http.Handler {
	opts = append([]connect.HandlerOption{connect.WithCodec(cborCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(OpenSessionProcedure, connect.NewUnaryHandler(OpenSessionProcedure, s.OpenSession, opts...))
	mux.Handle(CloseSessionProcedure, connect.NewUnaryHandler(CloseSessionProcedure, s.CloseSession, opts...))
	mux.Handle(ProcessProcedure, connect.NewUnaryHandler(ProcessProcedure, s.Process, opts...))
	mux.Handle(ListObjectsProcedure, connect.NewUnaryHandler(ListObjectsProcedure, s.ListObjects, opts...))
	return mux
}

// OpenSession creates a session with a fresh interpreter.
func (s *InterpreterService) OpenSession(
	ctx context.Context,
	req *connect.Request[OpenSessionRequest],
) (*connect.Response[OpenSessionResponse], error) {
	session := s.sessions.Create(req.Msg.Name)
	return connect.NewResponse(&OpenSessionResponse{
		SessionID: session.ID,
		Classes:   s.classes,
	}), nil
}

// CloseSession destroys a session and releases its objects.
func (s *InterpreterService) CloseSession(
	ctx context.Context,
	req *connect.Request[CloseSessionRequest],
) (*connect.Response[CloseSessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	if !s.sessions.Destroy(req.Msg.SessionID) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.Msg.SessionID))
	}
	return connect.NewResponse(&CloseSessionResponse{}), nil
}

// Process runs a message stream in the session's interpreter.
func (s *InterpreterService) Process(
	ctx context.Context,
	req *connect.Request[ProcessRequest],
) (*connect.Response[ProcessResponse], error) {
	session, err := s.session(req.Msg.SessionID)
	if err != nil {
		return nil, err
	}
	st, err := stream.Unmarshal(req.Msg.Stream)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	result, err := session.worker.Do(ctx, func(in *interp.Interpreter) any {
		return runStream(in, st)
	})
	if err != nil {
		code := connect.CodeInternal
		switch {
		case errors.Is(err, context.Canceled):
			code = connect.CodeCanceled
		case errors.Is(err, context.DeadlineExceeded):
			code = connect.CodeDeadlineExceeded
		case errors.Is(err, ErrWorkerStopped):
			code = connect.CodeNotFound
		}
		return nil, connect.NewError(code, err)
	}
	return connect.NewResponse(result.(*ProcessResponse)), nil
}

// ListObjects returns the live objects the directory recorded for a
// session.
func (s *InterpreterService) ListObjects(
	ctx context.Context,
	req *connect.Request[ListObjectsRequest],
) (*connect.Response[ListObjectsResponse], error) {
	if s.dir == nil {
		return nil, connect.NewError(connect.CodeUnimplemented, fmt.Errorf("object directory is disabled"))
	}
	if _, err := s.session(req.Msg.SessionID); err != nil {
		return nil, err
	}

	live, err := s.dir.Live(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	counts, err := s.dir.CountByClass(req.Msg.SessionID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	resp := &ListObjectsResponse{Counts: counts}
	for _, e := range live {
		resp.Objects = append(resp.Objects, ObjectInfo{Handle: e.Handle, Class: e.Class, CreatedAt: e.CreatedAt})
	}
	return connect.NewResponse(resp), nil
}

func (s *InterpreterService) session(id string) (*Session, error) {
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// runStream processes st and packages the outcome. Must be called on the
// session's worker goroutine.
func runStream(in *interp.Interpreter, st *stream.Stream) *ProcessResponse {
	resp := &ProcessResponse{OK: true, FailedIndex: -1}
	if err := in.ProcessStream(st); err != nil {
		resp.OK = false
		resp.Error = err.Error()
		var se *interp.StreamError
		if errors.As(err, &se) {
			resp.FailedIndex = se.Index
			resp.Diagnostic = se.Diagnostic
		}
	}

	data, err := encodeResult(in, in.LastResult())
	if err != nil {
		resp.ResultError = err.Error()
	} else {
		resp.Result = data
	}
	return resp
}

// encodeResult encodes m as a one-message stream. Objects cannot leave the
// process, so each object argument is replaced by a handle that refers to
// it.
func encodeResult(in *interp.Interpreter, m stream.Message) ([]byte, error) {
	out := stream.Message{Command: m.Command, Args: make([]stream.Argument, len(m.Args))}
	for i, a := range m.Args {
		obj, ok := a.AsObject()
		if !ok {
			out.Args[i] = a
			continue
		}
		id, ok := in.IDFromObject(obj)
		if !ok {
			return nil, fmt.Errorf("argument %d: %s has no handle", i, a)
		}
		out.Args[i] = stream.Handle(id)
	}
	return stream.Marshal(stream.NewStream(out))
}
