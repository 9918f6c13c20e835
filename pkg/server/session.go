package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNameTaken is returned by Claim when another live session already
// holds the requested name.
var ErrNameTaken = errors.New("name already in use")

// Session is one client connection. A session starts unauthenticated
// and gains a name exactly once, via Registry.Claim.
type Session struct {
	ID     uint64
	Stream *SafeStream

	mu            sync.RWMutex
	name          string
	authenticated bool

	joinedAt     time.Time
	lastActivity atomic.Int64 // unix nanos
}

// Name returns the claimed name, or "" before authentication.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// Touch records activity for observability.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Registry tracks live sessions and enforces name uniqueness. Both the
// session map and the name index mutate under one lock so a name can
// never point at a dead session.
type Registry struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
	names    map[string]uint64
	nextID   atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		names:    make(map[string]uint64),
	}
}

// Add registers a new unauthenticated session. Session IDs start at 1,
// so 0 is free to mean "no session" in broadcast exclusion.
func (r *Registry) Add(stream *SafeStream) *Session {
	sess := &Session{
		ID:       r.nextID.Add(1),
		Stream:   stream,
		joinedAt: time.Now(),
	}
	sess.Touch()

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	return sess
}

// Claim atomically checks name availability and authenticates the
// session. Claiming twice for the same session is a bug.
func (r *Registry) Claim(sess *Session, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, exists := r.names[name]; exists {
		if _, live := r.sessions[holder]; !live {
			panic(fmt.Sprintf("registry: name %q held by dead session %d", name, holder))
		}
		return ErrNameTaken
	}

	sess.mu.Lock()
	if sess.authenticated {
		sess.mu.Unlock()
		panic(fmt.Sprintf("registry: session %d claimed twice", sess.ID))
	}
	sess.name = name
	sess.authenticated = true
	sess.mu.Unlock()

	r.names[name] = sess.ID
	return nil
}

// Remove deregisters the session and releases its name, if any. It
// reports whether the session had authenticated, so callers know
// whether a departure broadcast is owed. Removing an unknown ID is a
// no-op returning nil.
func (r *Registry) Remove(id uint64) (sess *Session, wasAuthenticated bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)

	sess.mu.RLock()
	name, auth := sess.name, sess.authenticated
	sess.mu.RUnlock()

	if auth {
		if holder := r.names[name]; holder != id {
			panic(fmt.Sprintf("registry: name %q maps to session %d, removing %d", name, holder, id))
		}
		delete(r.names, name)
	}
	return sess, auth
}

func (r *Registry) Get(id uint64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Snapshot returns the authenticated sessions at this instant. Sends
// against the snapshot happen outside the registry lock, so a member
// may die mid-sweep; senders handle the failure.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Authenticated() {
			out = append(out, sess)
		}
	}
	return out
}

// Names returns the claimed names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.names))
	for name := range r.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of live sessions, authenticated or not.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every live stream. Read loops observe the close and
// run their normal teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	streams := make([]*SafeStream, 0, len(r.sessions))
	for _, sess := range r.sessions {
		streams = append(streams, sess.Stream)
	}
	r.mu.Unlock()

	for _, stream := range streams {
		stream.Close()
	}
}
