// Package session keeps bounded per-conversation turn history in memory.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/coursebot/courserag/internal/llm"
)

// DefaultWindow is the number of turns kept per session.
const DefaultWindow = 4

type Turn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

type session struct {
	turns []Turn
}

// Store maps session ids to their history. Lock serialises whole queries on
// one session while different sessions proceed independently.
type Store struct {
	window int

	mu       sync.Mutex
	sessions map[string]*session
	locks    map[string]*sessionLock
}

type sessionLock struct {
	held chan struct{} // Holds a token while the session is locked
	refs int
}

func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:   window,
		sessions: make(map[string]*session),
		locks:    make(map[string]*sessionLock),
	}
}

// NewID returns a fresh session id.
func NewID() string { return uuid.NewString() }

// GetOrCreate returns id unchanged if it is non-empty, creating an empty
// session for it when unknown. An empty id gets a freshly generated one.
func (s *Store) GetOrCreate(id string) string {
	if id == "" {
		id = NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = &session{}
	}
	return id
}

// Append adds turns in order and trims the session to the newest window turns.
func (s *Store) Append(id string, turns ...Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	sess.turns = append(sess.turns, turns...)
	if over := len(sess.turns) - s.window; over > 0 {
		sess.turns = append([]Turn(nil), sess.turns[over:]...)
	}
}

// History returns a copy of the session's turns, oldest first.
func (s *Store) History(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	return append([]Turn(nil), sess.turns...)
}

// Delete drops a session. It reports whether the session existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Lock acquires the per-session lock and returns the function releasing it.
// It gives up with ctx.Err() when ctx ends first. Lock entries are reference
// counted and removed once nobody holds or waits on them.
func (s *Store) Lock(ctx context.Context, id string) (unlock func(), err error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{held: make(chan struct{}, 1)}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		s.release(id, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.held
			s.release(id, l)
		})
	}, nil
}

func (s *Store) release(id string, l *sessionLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, id)
	}
}
