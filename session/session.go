package session

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"energyquiz/question"
	"energyquiz/roundtimer"
)

// Session is one waiting area or game instance. Every read-then-write of its
// fields happens under mu; the registry owns the pointer and hands out
// Snapshots.
type Session struct {
	id    uint64
	kind  Kind
	rules Rules

	mu      sync.Mutex
	status  Status
	players []*Player
	removed []Player

	question *question.Question
	expected *question.AnswerKey
	answers  map[uint64]Answer
	evals    map[uint64]Evaluation

	round      int
	difficulty int
	lives      int
	budget     time.Duration // time attack only
	history    []RoundRecord

	finished   bool
	closed     bool
	next       uint64
	stalled    bool
	generating bool
	retries    int

	// epoch identifies the current timer; callbacks carrying an older epoch
	// are stale and ignored.
	epoch uint64
	timer *roundtimer.Handle
	boost atomic.Uint64 // float64 bits, read by the timer goroutine

	// roundLength is the unboosted length of the live round. Once the
	// boosted timer runs out the round goes into overtime, where only
	// players who used DecreaseTime may still answer.
	roundLength time.Duration
	overtime    bool

	version uint64
	changed chan struct{}

	// notifyMu serializes notifier calls for this session so subscribers
	// never see an older snapshot after a newer one.
	notifyMu sync.Mutex
	notified uint64 // last version delivered to SessionChanged
}

func newSession(id uint64, kind Kind, rules Rules) *Session {
	s := &Session{
		id:         id,
		kind:       kind,
		rules:      rules,
		status:     StatusStarted,
		answers:    make(map[uint64]Answer),
		evals:      make(map[uint64]Evaluation),
		difficulty: 1,
		changed:    make(chan struct{}),
	}
	switch kind {
	case KindWaitingArea:
		s.status = StatusWaitingArea
	case KindSurvival:
		s.lives = rules.SurvivalLives
	case KindTimeAttack:
		s.budget = rules.TimeAttackBudget
	}
	return s
}

// ID returns the immutable session id.
func (s *Session) ID() uint64 { return s.id }

// Kind returns the immutable session kind.
func (s *Session) Kind() Kind { return s.kind }

func (s *Session) boostFactor() float64 {
	return math.Float64frombits(s.boost.Load())
}

func (s *Session) setBoost(v float64) {
	s.boost.Store(math.Float64bits(v))
}

func (s *Session) playerLocked(id uint64) (*Player, int) {
	for i, p := range s.players {
		if p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

func (s *Session) usernameTakenLocked(name string) bool {
	for _, p := range s.players {
		if strings.EqualFold(p.Username, name) {
			return true
		}
	}
	return false
}

// readyCountLocked counts ready flags among current players only, so a
// player who leaves takes their contribution along.
func (s *Session) readyCountLocked() int {
	n := 0
	for _, p := range s.players {
		if p.Ready {
			n++
		}
	}
	return n
}

// readyToTransferLocked is the waiting-area threshold: everyone present is
// ready and there are enough of them to fill a game.
func (s *Session) readyToTransferLocked() bool {
	n := len(s.players)
	return n > 0 && n >= s.rules.MinPlayers && s.readyCountLocked() == n
}

// allReadyLocked is the in-game threshold used to skip waits.
func (s *Session) allReadyLocked() bool {
	n := len(s.players)
	return n > 0 && s.readyCountLocked() == n
}

func (s *Session) submittedLocked() int {
	n := 0
	for _, p := range s.players {
		if p.Answered {
			n++
		}
	}
	return n
}

// answerableLocked reports whether p may still submit in the live round.
func (s *Session) answerableLocked(p *Player) bool {
	return !s.overtime || p.Hastened
}

// allSubmittedLocked reports whether every player who can still answer has.
func (s *Session) allSubmittedLocked() bool {
	if len(s.players) == 0 {
		return false
	}
	for _, p := range s.players {
		if !p.Answered && s.answerableLocked(p) {
			return false
		}
	}
	return true
}

// awaitingHastenedLocked reports whether a DecreaseTime user has yet to
// answer.
func (s *Session) awaitingHastenedLocked() bool {
	for _, p := range s.players {
		if p.Hastened && !p.Answered {
			return true
		}
	}
	return false
}

func (s *Session) resetReadyLocked() {
	for _, p := range s.players {
		p.Ready = false
	}
}

// removePlayerLocked drops the player and logs them when leaving a game.
func (s *Session) removePlayerLocked(idx int) Player {
	p := *s.players[idx]
	s.players = slices.Delete(s.players, idx, idx+1)
	delete(s.answers, p.ID)
	delete(s.evals, p.ID)
	if s.kind != KindWaitingArea {
		s.removed = append(s.removed, p.clone())
	}
	return p
}

// checkLocked verifies the structural invariants of the session.
func (s *Session) checkLocked() error {
	if ready := s.readyCountLocked(); ready < 0 || ready > len(s.players) {
		return fmt.Errorf("%w: session %d ready count %d exceeds %d players", ErrStateCorruption, s.id, ready, len(s.players))
	}
	if (s.question == nil) != (s.expected == nil) {
		return fmt.Errorf("%w: session %d question and answer key out of sync", ErrStateCorruption, s.id)
	}
	if (s.status == StatusWaitingArea) != (s.kind == KindWaitingArea) && s.status != StatusTransferring {
		return fmt.Errorf("%w: session %d of kind %s in status %s", ErrStateCorruption, s.id, s.kind, s.status)
	}
	if s.status == StatusTransferring && s.kind != KindWaitingArea {
		return fmt.Errorf("%w: session %d of kind %s transferring", ErrStateCorruption, s.id, s.kind)
	}
	if s.difficulty < 1 {
		return fmt.Errorf("%w: session %d difficulty %d", ErrStateCorruption, s.id, s.difficulty)
	}
	seen := make(map[uint64]struct{}, len(s.players))
	for _, p := range s.players {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: session %d holds player %d twice", ErrStateCorruption, s.id, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// touchLocked bumps the version and wakes every poller.
func (s *Session) touchLocked() {
	s.version++
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:            s.id,
		Kind:          s.kind,
		Status:        s.status,
		Version:       s.version,
		Players:       make([]Player, 0, len(s.players)),
		ReadyCount:    s.readyCountLocked(),
		Submitted:     s.submittedLocked(),
		Round:         s.round,
		RoundLimit:    s.rules.roundLimit(s.kind),
		Difficulty:    s.difficulty,
		Lives:         s.lives,
		Boost:         s.boostFactor(),
		Stalled:       s.stalled,
		Overtime:      s.overtime,
		Finished:      s.finished,
		Closed:        s.closed,
		NextSessionID: s.next,
		History:       slices.Clone(s.history),
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, p.clone())
	}
	for _, p := range s.removed {
		snap.RemovedPlayers = append(snap.RemovedPlayers, p.clone())
	}
	if s.question != nil {
		q := s.question.Clone()
		snap.Question = &q
	}
	if s.kind == KindTimeAttack {
		snap.TimeBudget = s.budget
	}
	if s.timer != nil {
		snap.Remaining = s.timer.Remaining()
		snap.Progress = s.timer.Progress()
	}
	return snap
}

// snapshot is the locked copy-on-read view.
func (s *Session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// shutdown closes the session and stops its timer. It reports false if the
// session was already closed.
func (s *Session) shutdown() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.snapshotLocked(), false
	}
	s.closed = true
	s.timer.Cancel()
	s.timer = nil
	s.generating = false
	s.touchLocked()
	return s.snapshotLocked(), true
}

// wait blocks until the version exceeds since, the session closes or ctx is
// done, then returns the current snapshot.
func (s *Session) wait(ctx context.Context, since uint64) Snapshot {
	s.mu.Lock()
	if s.version > since || s.closed {
		defer s.mu.Unlock()
		return s.snapshotLocked()
	}
	ch := s.changed
	s.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
	}
	return s.snapshot()
}
