package session

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry is the authoritative collection of sessions. It assigns ids,
// never reuses them, and protects the waiting area from removal.
//
// Registry.mu is a leaf lock: it is never held while acquiring a Session
// lock, so a session may call into the registry while locked.
type Registry struct {
	rules Rules

	mu        sync.RWMutex
	sessions  map[uint64]*Session
	lastID    uint64
	waitingID uint64

	playerSeq atomic.Uint64
}

// NewRegistry creates a registry holding only the waiting area.
func NewRegistry(rules Rules) *Registry {
	r := &Registry{
		rules:    rules,
		sessions: make(map[uint64]*Session),
	}
	r.waitingID = r.create(KindWaitingArea).id
	return r
}

func (r *Registry) create(kind Kind) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	s := newSession(r.lastID, kind, r.rules)
	r.sessions[s.id] = s
	return s
}

// Create adds a game session in status Started and returns its id.
func (r *Registry) Create(kind Kind) (uint64, error) {
	if !kind.valid() || kind == KindWaitingArea {
		return 0, ErrInvalidKind
	}
	return r.create(kind).id, nil
}

func (r *Registry) lookup(id uint64) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Get returns a point-in-time snapshot of the session.
func (r *Registry) Get(id uint64) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Remove deletes a session and cancels its timer. The waiting area is
// protected.
func (r *Registry) Remove(id uint64) (Snapshot, error) {
	if id == r.waitingID {
		return Snapshot{}, ErrProtectedSession
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	snap, _ := s.shutdown()
	return snap, nil
}

// List returns snapshots of every session ordered by id.
func (r *Registry) List() []Snapshot {
	sessions := r.all()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	return out
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	slices.SortFunc(sessions, func(a, b *Session) int {
		return cmp.Compare(a.id, b.id)
	})
	return sessions
}

// Len returns the number of live sessions, the waiting area included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// WaitingAreaID returns the id of the singleton waiting area.
func (r *Registry) WaitingAreaID() uint64 {
	return r.waitingID
}

// FindPlayer returns the id of the session currently holding the player.
func (r *Registry) FindPlayer(playerID uint64) (uint64, bool) {
	for _, s := range r.all() {
		s.mu.Lock()
		p, _ := s.playerLocked(playerID)
		closed := s.closed
		s.mu.Unlock()
		if p != nil && !closed {
			return s.id, true
		}
	}
	return 0, false
}

func (r *Registry) nextPlayerID() uint64 {
	return r.playerSeq.Add(1)
}
