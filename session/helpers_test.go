package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"energyquiz/question"
)

// fixedSource serves the same question for every kind it is not told to
// fail.
type fixedSource struct {
	mu    sync.Mutex
	q     question.Question
	key   question.AnswerKey
	fail  map[question.Kind]bool
	calls int
}

func (f *fixedSource) Generate(_ context.Context, kind question.Kind, _ int) (question.Question, question.AnswerKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[kind] {
		return question.Question{}, question.AnswerKey{}, question.ErrEmptySource
	}
	return f.q.Clone(), f.key.Clone(), nil
}

func (f *fixedSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// comparisonSource serves a three-option comparison whose maximum is shared
// by options 0 and 2.
func comparisonSource() *fixedSource {
	return &fixedSource{
		q: question.Question{
			Kind:   question.Comparison,
			Prompt: "Which uses the most energy?",
			Unit:   "kWh",
			Options: []question.Option{
				{Label: "Kettle", Value: 2},
				{Label: "Phone charge", Value: 0.01},
				{Label: "Toaster", Value: 2},
			},
		},
		key: question.AnswerKey{Kind: question.Comparison, Indices: []int{0, 2}},
	}
}

func rangeSource(value float64) *fixedSource {
	return &fixedSource{
		q: question.Question{
			Kind:    question.RangeGuess,
			Prompt:  "How much energy does a hot shower use?",
			Unit:    "kWh",
			Subject: &question.Activity{ID: 1, Name: "Hot shower", Consumption: value, Unit: "kWh"},
		},
		key: question.AnswerKey{Kind: question.RangeGuess, Value: value},
	}
}

func failingSource(kinds ...question.Kind) *fixedSource {
	src := comparisonSource()
	src.fail = make(map[question.Kind]bool)
	for _, k := range kinds {
		src.fail[k] = true
	}
	return src
}

type recordingNotifier struct {
	mu       sync.Mutex
	changed  []Snapshot
	finished []Snapshot
	removed  []Snapshot
}

func (r *recordingNotifier) SessionChanged(_ context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, snap)
}

func (r *recordingNotifier) SessionFinished(_ context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, snap)
}

func (r *recordingNotifier) SessionRemoved(_ context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, snap)
}

func (r *recordingNotifier) statuses(id uint64) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, snap := range r.changed {
		if snap.ID == id {
			out = append(out, snap.Status)
		}
	}
	return out
}

func (r *recordingNotifier) versions(id uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint64
	for _, snap := range r.changed {
		if snap.ID == id {
			out = append(out, snap.Version)
		}
	}
	return out
}

func (r *recordingNotifier) overtimes(id uint64) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, snap := range r.changed {
		if snap.ID == id {
			out = append(out, snap.Overtime)
		}
	}
	return out
}

func (r *recordingNotifier) finishedSnapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.finished...)
}

func (r *recordingNotifier) removedSnapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.removed...)
}

func testRules() Rules {
	rules := DefaultRules()
	rules.RoundDuration = 10 * time.Second
	rules.TimerTick = time.Second
	rules.ResultDelay = time.Hour
	rules.GenerationBackoff = time.Second
	return rules
}

type harness struct {
	o     *Orchestrator
	clock *clockwork.FakeClock
	rec   *recordingNotifier
}

func newHarness(t *testing.T, rules Rules, src QuestionSource) harness {
	t.Helper()
	clock := clockwork.NewFakeClock()
	rec := &recordingNotifier{}
	o := NewOrchestrator(NewRegistry(rules), src, WithClock(clock), WithNotifier(rec), WithSeed(7))
	return harness{o: o, clock: clock, rec: rec}
}

// advanceUntil steps the fake clock one tick at a time until cond holds.
func (h harness) advanceUntil(t *testing.T, tick time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		h.clock.Advance(tick)
		return false
	}, 5*time.Second, time.Millisecond)
}

func (h harness) snapshot(t *testing.T, id uint64) Snapshot {
	t.Helper()
	snap, err := h.o.GetSession(id)
	require.NoError(t, err)
	return snap
}

// game creates a started session of kind holding the named players.
func (h harness) game(t *testing.T, kind Kind, names ...string) (uint64, []Player) {
	t.Helper()
	id, err := h.o.CreateSession(kind)
	require.NoError(t, err)
	players := make([]Player, 0, len(names))
	for _, name := range names {
		p, err := h.o.AddPlayer(id, name, BestScores{})
		require.NoError(t, err)
		players = append(players, p)
	}
	return id, players
}

func choose(indices ...int) Answer {
	return Answer{Kind: question.Comparison, Selected: indices}
}

func guess(v float64) Answer {
	return Answer{Kind: question.RangeGuess, Guess: &v}
}
