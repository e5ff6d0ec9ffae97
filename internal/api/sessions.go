package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/chdkit/pkg/chd"
)

// Session is a client-owned session on one image.
type Session struct {
	ID        string
	Image     string
	CreatedAt time.Time

	mu   sync.Mutex
	file *chd.File
}

// With runs fn on the session's file. Calls on one session never overlap.
func (s *Session) With(fn func(f *chd.File) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.file)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *Session) response() SessionResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionResponse{
		ID:        s.ID,
		Object:    "session",
		Image:     s.Image,
		CreatedAt: unixTime(s.CreatedAt),
		Closed:    s.file.Closed(),
		Size:      s.file.Size(),
	}
}

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

func (s *SessionStore) Add(image string, f *chd.File, now time.Time) *Session {
	sess := &Session{
		ID:        newSessionID(),
		Image:     image,
		CreatedAt: now,
		file:      f,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove forgets the session and returns it for closing.
func (s *SessionStore) Remove(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return sess, ok
}

// CloseAll closes and forgets every session.
func (s *SessionStore) CloseAll() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newSessionID() string {
	return "sess_" + uuid.NewString()
}
