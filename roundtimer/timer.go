// Package roundtimer implements the countdown used for answer windows and
// end-of-round delays. A timer consumes effective time faster than wall-clock
// time while its boost is positive.
package roundtimer

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTick is the update granularity used when Config.Tick is unset.
const DefaultTick = 100 * time.Millisecond

// State of a running timer.
type State int32

const (
	Running State = iota
	Cancelled
	Completed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cancelled:
		return "cancelled"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Config describes a countdown.
type Config struct {
	Duration time.Duration
	Tick     time.Duration
	// Boost is sampled on every tick. Each tick consumes Tick * (1 + Boost())
	// of the duration. Nil means no boost; negative values count as zero.
	Boost func() float64
}

// Handle is the owner's token for a started timer.
type Handle struct {
	duration time.Duration
	state    atomic.Int32
	elapsed  atomic.Int64
	ticked   atomic.Int64

	cancelCh chan struct{}
	done     chan struct{}
}

// Start launches a countdown. onComplete runs exactly once, on the timer's own
// goroutine, if and only if the duration elapses before Cancel is called.
func Start(clock clockwork.Clock, cfg Config, onComplete func()) *Handle {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	h := &Handle{
		duration: cfg.Duration,
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}

	// The ticker exists before Start returns so fake clocks can observe it.
	ticker := clock.NewTicker(cfg.Tick)
	go h.run(ticker, cfg.Tick, cfg.Boost, onComplete)
	return h
}

func (h *Handle) run(ticker clockwork.Ticker, tick time.Duration, boost func() float64, onComplete func()) {
	defer close(h.done)
	defer ticker.Stop()

	if h.duration <= 0 {
		h.complete(onComplete)
		return
	}

	for {
		select {
		case <-h.cancelCh:
			return
		case <-ticker.Chan():
			h.ticked.Add(int64(tick))
			factor := 1.0
			if boost != nil {
				factor += max(0, boost())
			}
			elapsed := time.Duration(h.elapsed.Add(int64(float64(tick) * factor)))
			if elapsed >= h.duration {
				h.complete(onComplete)
				return
			}
		}
	}
}

func (h *Handle) complete(onComplete func()) {
	if h.state.CompareAndSwap(int32(Running), int32(Completed)) && onComplete != nil {
		onComplete()
	}
}

// Cancel stops the timer. It reports whether this call won the race against
// natural completion; later calls are no-ops returning false.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if !h.state.CompareAndSwap(int32(Running), int32(Cancelled)) {
		return false
	}
	close(h.cancelCh)
	return true
}

// State returns the current state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Done is closed once the timer goroutine has exited, after any completion
// callback has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Duration returns the configured duration.
func (h *Handle) Duration() time.Duration {
	return h.duration
}

// Elapsed returns the effective time consumed so far, capped at the duration.
func (h *Handle) Elapsed() time.Duration {
	if h.State() == Completed {
		return h.duration
	}
	return min(time.Duration(h.elapsed.Load()), h.duration)
}

// Ticked returns the unboosted time the timer has run, one Tick per tick
// observed.
func (h *Handle) Ticked() time.Duration {
	if h == nil {
		return 0
	}
	return time.Duration(h.ticked.Load())
}

// Remaining returns the effective time left.
func (h *Handle) Remaining() time.Duration {
	return h.duration - h.Elapsed()
}

// Progress returns the consumed fraction in [0,1]. It is meant for
// presentation only.
func (h *Handle) Progress() float64 {
	if h.duration <= 0 {
		return 1
	}
	return float64(h.Elapsed()) / float64(h.duration)
}
