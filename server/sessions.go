package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/clientserver/interp"
)

// Session is one client's interpreter, reachable only through its worker.
type Session struct {
	ID      string
	Name    string
	Created time.Time

	worker   *Worker
	mu       sync.Mutex
	lastUsed time.Time
}

// Worker returns the session's worker.
func (s *Session) Worker() *Worker { return s.worker }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// SessionStore owns the open sessions. Each session gets a fresh
// interpreter from build and a worker of its own.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	build    func(id string) *interp.Interpreter
	onClose  func(id string)
	now      func() time.Time
}

// NewSessionStore creates a store that builds session interpreters with
// build and calls onClose, if set, after a session is torn down.
func NewSessionStore(build func(id string) *interp.Interpreter, onClose func(id string)) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		build:    build,
		onClose:  onClose,
		now:      time.Now,
	}
}

// Create opens a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	id := uuid.NewString()
	now := s.now()
	session := &Session{
		ID:       id,
		Name:     name,
		Created:  now,
		worker:   NewWorker(s.build(id)),
		lastUsed: now,
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	log.Infof("session %s opened (%q)", id, name)
	return session
}

// Get retrieves a session by ID and marks it used.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		session.touch(s.now())
	}
	return session, ok
}

// IDs returns the open session IDs in sorted order.
func (s *SessionStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy closes a session, releasing every object its interpreter holds.
// It reports whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.teardown(session)
	return true
}

func (s *SessionStore) teardown(session *Session) {
	session.worker.Stop()
	if s.onClose != nil {
		s.onClose(session.ID)
	}
	log.Infof("session %s closed", session.ID)
}

// DestroyAll closes every session.
func (s *SessionStore) DestroyAll() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range all {
		s.teardown(session)
	}
}

// Sweep closes sessions that haven't been used within the TTL.
func (s *SessionStore) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var idle []*Session
	for id, session := range s.sessions {
		if session.idleSince().Before(cutoff) {
			idle = append(idle, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range idle {
		log.Noticef("session %s idle since %s, sweeping", session.ID, session.idleSince().Format(time.RFC3339))
		s.teardown(session)
	}
	return len(idle)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *SessionStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
