package server

import "sync"

// sessionLocks hands out one mutex per session name. Holding a session's
// mutex is what enforces at-most-one in-flight request per session; the
// registry itself is never pruned because session cardinality is tiny in a
// single-user deployment.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (s *sessionLocks) get(session string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[session]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[session] = lock
	}
	return lock
}
