package authsession

import (
	"sync"

	"github.com/google/uuid"
)

// SessionState defines a public type used by authsession APIs.
//
// SessionState is the single in-memory source of truth for the current
// session. Every update notifies subscribers synchronously, in subscription
// order, with a copy of the new session. It performs no I/O; persistence is
// the Manager's concern.
type SessionState struct {
	mu      sync.RWMutex
	session Session
	order   []string
	subs    map[string]func(Session)
}

// StateSubscription is the disposable handle returned by
// [SessionState.Subscribe]. Cancel is idempotent.
type StateSubscription struct {
	id    string
	state *SessionState
	once  sync.Once
}

func newSessionState() *SessionState {
	return &SessionState{
		session: Session{Status: StatusAnonymous},
		subs:    make(map[string]func(Session)),
	}
}

// Current returns a copy of the session. Mutating the returned value has no
// effect on the live state.
func (s *SessionState) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session)
}

// Subscribe registers fn for synchronous notification on every update. The
// handler receives a copy and must not block.
func (s *SessionState) Subscribe(fn func(Session)) *StateSubscription {
	if s == nil || fn == nil {
		return &StateSubscription{}
	}

	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id] = fn
	s.order = append(s.order, id)

	return &StateSubscription{id: id, state: s}
}

// Cancel describes the cancel operation and its observable behavior.
func (sub *StateSubscription) Cancel() {
	if sub == nil || sub.state == nil {
		return
	}
	sub.once.Do(func() {
		sub.state.mu.Lock()
		defer sub.state.mu.Unlock()
		delete(sub.state.subs, sub.id)
		for i, id := range sub.state.order {
			if id == sub.id {
				sub.state.order = append(sub.state.order[:i], sub.state.order[i+1:]...)
				break
			}
		}
	})
}

// apply mutates the session under the write lock and notifies subscribers
// after releasing it, in subscription order.
func (s *SessionState) apply(mutate func(*Session)) {
	s.mu.Lock()
	mutate(&s.session)
	snapshot := copySession(s.session)
	handlers := make([]func(Session), 0, len(s.order))
	for _, id := range s.order {
		if fn, ok := s.subs[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(snapshot)
	}
}

func (s *SessionState) setStatus(status Status) {
	s.apply(func(sess *Session) {
		sess.Status = status
	})
}

func (s *SessionState) accessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Credential == nil {
		return ""
	}
	return s.session.Credential.AccessToken
}

func (s *SessionState) refreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Credential == nil {
		return ""
	}
	return s.session.Credential.RefreshToken
}

func copySession(in Session) Session {
	out := Session{Status: in.Status}
	if in.User != nil {
		user := *in.User
		out.User = &user
	}
	if in.Credential != nil {
		cred := *in.Credential
		out.Credential = &cred
	}
	return out
}
