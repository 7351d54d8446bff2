package roundtimer

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// advance moves the fake clock one tick and waits until the timer has
// consumed it.
func advance(t *testing.T, clock *clockwork.FakeClock, h *Handle, tick time.Duration, want time.Duration) {
	t.Helper()
	clock.Advance(tick)
	require.Eventually(t, func() bool {
		return h.Elapsed() >= want || h.State() != Running
	}, time.Second, time.Millisecond)
}

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestTimer_CompletesAfterDuration(t *testing.T) {
	clock := clockwork.NewFakeClock()
	fired := make(chan struct{}, 1)

	h := Start(clock, Config{Duration: 3 * time.Second, Tick: time.Second}, func() {
		fired <- struct{}{}
	})
	waitForTicker(t, clock)

	advance(t, clock, h, time.Second, time.Second)
	advance(t, clock, h, time.Second, 2*time.Second)
	assert.Equal(t, Running, h.State())
	assert.InDelta(t, 2.0/3.0, h.Progress(), 1e-9)

	clock.Advance(time.Second)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("completion callback did not fire")
	}
	<-h.Done()
	assert.Equal(t, Completed, h.State())
	assert.Equal(t, 1.0, h.Progress())
	assert.Zero(t, h.Remaining())
}

func TestTimer_BoostDoublesSpeed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var completions atomic.Int32

	h := Start(clock, Config{
		Duration: 10 * time.Second,
		Tick:     time.Second,
		Boost:    func() float64 { return 1 },
	}, func() { completions.Add(1) })
	waitForTicker(t, clock)

	for i := 1; i <= 4; i++ {
		advance(t, clock, h, time.Second, time.Duration(2*i)*time.Second)
	}
	assert.Equal(t, Running, h.State(), "four boosted ticks consume 8s of 10s")

	clock.Advance(time.Second)
	<-h.Done()
	assert.Equal(t, Completed, h.State(), "five wall-clock seconds complete a 10s timer at boost 1")
	assert.Equal(t, int32(1), completions.Load())
	assert.Equal(t, 10*time.Second, h.Elapsed())
	assert.Equal(t, 5*time.Second, h.Ticked(), "ticked time ignores the boost")
}

func TestTimer_BoostChangesMidway(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var boost atomic.Int64

	h := Start(clock, Config{
		Duration: 10 * time.Second,
		Tick:     time.Second,
		Boost:    func() float64 { return float64(boost.Load()) },
	}, nil)
	waitForTicker(t, clock)

	advance(t, clock, h, time.Second, time.Second)
	advance(t, clock, h, time.Second, 2*time.Second)
	boost.Store(3)
	advance(t, clock, h, time.Second, 6*time.Second)
	assert.Equal(t, 6*time.Second, h.Elapsed())
	assert.Equal(t, 4*time.Second, h.Remaining())
}

func TestTimer_NegativeBoostIgnored(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := Start(clock, Config{
		Duration: 5 * time.Second,
		Tick:     time.Second,
		Boost:    func() float64 { return -4 },
	}, nil)
	waitForTicker(t, clock)

	advance(t, clock, h, time.Second, time.Second)
	assert.Equal(t, time.Second, h.Elapsed())
	h.Cancel()
}

func TestTimer_CancelSuppressesCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var completions atomic.Int32

	h := Start(clock, Config{Duration: 2 * time.Second, Tick: time.Second}, func() {
		completions.Add(1)
	})
	waitForTicker(t, clock)
	advance(t, clock, h, time.Second, time.Second)

	assert.True(t, h.Cancel())
	assert.False(t, h.Cancel(), "second cancel is a no-op")
	<-h.Done()

	clock.Advance(5 * time.Second)
	assert.Equal(t, Cancelled, h.State())
	assert.Zero(t, completions.Load())
}

func TestTimer_CancelAfterCompletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := Start(clock, Config{Duration: time.Second, Tick: time.Second}, nil)
	waitForTicker(t, clock)

	clock.Advance(time.Second)
	<-h.Done()
	assert.False(t, h.Cancel())
	assert.Equal(t, Completed, h.State())
}

func TestTimer_ZeroDurationCompletesImmediately(t *testing.T) {
	fired := make(chan struct{})
	h := Start(clockwork.NewFakeClock(), Config{}, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("zero duration timer did not complete")
	}
	<-h.Done()
	assert.Equal(t, Completed, h.State())
}

func TestTimer_CallbackRunsOffCallerGoroutine(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var mu sync.Mutex
	fired := make(chan struct{})

	h := Start(clock, Config{Duration: time.Second, Tick: time.Second}, func() {
		// Would deadlock if invoked while the caller holds mu.
		mu.Lock()
		defer mu.Unlock()
		close(fired)
	})
	waitForTicker(t, clock)

	mu.Lock()
	clock.Advance(time.Second)
	mu.Unlock()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
	<-h.Done()
}

func TestTimer_ExactlyOnceUnderRace(t *testing.T) {
	clock := clockwork.NewRealClock()

	for i := 0; i < 200; i++ {
		var completions atomic.Int32
		h := Start(clock, Config{Duration: 2 * time.Millisecond, Tick: 500 * time.Microsecond}, func() {
			completions.Add(1)
		})

		time.Sleep(time.Duration(rand.IntN(3000)) * time.Microsecond)
		cancelled := h.Cancel()
		<-h.Done()

		switch h.State() {
		case Completed:
			assert.False(t, cancelled)
			assert.Equal(t, int32(1), completions.Load())
		case Cancelled:
			assert.True(t, cancelled)
			assert.Zero(t, completions.Load())
		default:
			t.Fatalf("timer still running after Done: %v", h.State())
		}
	}
}

func TestTimer_NilHandleCancel(t *testing.T) {
	var h *Handle
	assert.False(t, h.Cancel())
}
