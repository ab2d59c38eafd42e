// Package server exposes interpreter sessions over Connect. Every session
// owns one interpreter driven by a dedicated worker goroutine; clients send
// CBOR-encoded message streams and receive the last result back with
// objects replaced by their handles.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/clientserver/builtin"
	"github.com/chazu/clientserver/directory"
	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/wrap"
)

var log = commonlog.GetLogger("clientserver.server")

// Server is the interpreter server.
type Server struct {
	sessions *SessionStore
	handler  http.Handler

	stopSweeper func()
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	libraries     []*wrap.Library
	dir           *directory.Directory
	trace         io.Writer
	sessionTTL    time.Duration
	sweepInterval time.Duration
}

// WithLibrary installs l into every session after the builtin library.
func WithLibrary(l *wrap.Library) Option {
	return func(c *serverConfig) { c.libraries = append(c.libraries, l) }
}

// WithDirectory records every session's live objects in dir and enables
// ListObjects.
func WithDirectory(dir *directory.Directory) Option {
	return func(c *serverConfig) { c.dir = dir }
}

// WithTrace sends every session's request/reply trace to w.
func WithTrace(w io.Writer) Option {
	return func(c *serverConfig) { c.trace = w }
}

// WithSessionTTL sets how long an idle session survives and how often idle
// sessions are swept.
func WithSessionTTL(ttl, sweepInterval time.Duration) Option {
	return func(c *serverConfig) {
		c.sessionTTL = ttl
		c.sweepInterval = sweepInterval
	}
}

// New creates a Server and starts its session sweeper.
func New(opts ...Option) *Server {
	cfg := &serverConfig{
		libraries:     []*wrap.Library{builtin.Library()},
		sessionTTL:    30 * time.Minute,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var trace io.Writer
	if cfg.trace != nil {
		trace = &syncWriter{w: cfg.trace}
	}

	build := func(id string) *interp.Interpreter {
		in := interp.New(interp.WithLogger(commonlog.GetLogger("clientserver.session."+id)))
		if trace != nil {
			in.SetLog(trace)
		}
		if cfg.dir != nil {
			in.AddObserver(cfg.dir.Observer(id))
		}
		for _, l := range cfg.libraries {
			l.Install(in)
		}
		return in
	}
	var onClose func(string)
	if cfg.dir != nil {
		onClose = func(id string) {
			if err := cfg.dir.Forget(id); err != nil {
				log.Errorf("session %s: clearing directory: %v", id, err)
			}
		}
	}

	sessions := NewSessionStore(build, onClose)
	service := NewInterpreterService(sessions, cfg.dir, classNames(cfg.libraries))

	s := &Server{
		sessions: sessions,
		handler:  service.Handler(),
	}
	s.stopSweeper = sessions.StartSweeper(cfg.sweepInterval, cfg.sessionTTL)
	return s
}

func classNames(libs []*wrap.Library) []string {
	seen := make(map[string]bool)
	var names []string
	for _, l := range libs {
		for _, name := range l.Classes() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Handler returns the HTTP handler serving the Connect procedures.
func (s *Server) Handler() http.Handler { return s.handler }

// Sessions returns the server's session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// ListenAndServe serves on addr until ctx is done, then shuts the listener
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	log.Noticef("interpreter server listening on %s", ln.Addr())
	log.Infof("  Connect (CBOR): http://%s%s", ln.Addr(), ProcessProcedure)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the sweeper and closes every session.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.DestroyAll()
}

// syncWriter serializes writes from concurrent session workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
