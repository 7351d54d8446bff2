package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"

	"energyquiz/question"
	"energyquiz/session"
)

func testCatalog() []question.Activity {
	out := make([]question.Activity, 0, 12)
	for i := 1; i <= 12; i++ {
		out = append(out, question.Activity{
			ID:          uint(i),
			Name:        fmt.Sprintf("Activity %d", i),
			Consumption: float64(i) * 0.7,
			Unit:        "kWh",
		})
	}
	return out
}

type fakeScores struct {
	mu       sync.Mutex
	best     map[string]session.BestScores
	err      error
	recorded []session.Snapshot
}

func (f *fakeScores) BestScores(_ context.Context, username string) (session.BestScores, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.best[username], f.err
}

func (f *fakeScores) RecordGame(_ context.Context, snap session.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, snap)
	return nil
}

type fakeSnapshots struct {
	last  map[uint64]session.Snapshot
	board []LeaderboardEntry
}

func (f *fakeSnapshots) Last(_ context.Context, id uint64) (session.Snapshot, error) {
	snap, ok := f.last[id]
	if !ok {
		return session.Snapshot{}, session.ErrSessionNotFound
	}
	return snap, nil
}

func (f *fakeSnapshots) Leaderboard(_ context.Context, _ session.Kind, n int) ([]LeaderboardEntry, error) {
	return f.board[:min(n, len(f.board))], nil
}

type stack struct {
	orch   *session.Orchestrator
	svc    *GameService
	fanout *Fanout
	clock  *clockwork.FakeClock
}

func newStack(t *testing.T, opts ...GameServiceOption) stack {
	t.Helper()
	clock := clockwork.NewFakeClock()
	fanout := NewFanout(0)
	gen := question.NewGenerator(question.NewCatalogSource(testCatalog()), 11, question.DefaultConfig())
	orch := session.NewOrchestrator(
		session.NewRegistry(session.DefaultRules()),
		gen,
		session.WithClock(clock),
		session.WithNotifier(fanout),
		session.WithSeed(3),
	)
	return stack{orch: orch, svc: NewGameService(orch, opts...), fanout: fanout, clock: clock}
}

// answerFor builds a request that fits the live question.
func answerFor(q question.Question) *SubmitAnswerRequest {
	if q.Kind.HasOptions() {
		return &SubmitAnswerRequest{Selected: []int{0}}
	}
	g := 1.0
	return &SubmitAnswerRequest{Guess: &g}
}
