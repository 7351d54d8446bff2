package services

import (
	"context"
	"sync"
	"time"

	"energyquiz/session"
)

// Fanout forwards lifecycle events to every subscriber in subscription
// order. Each subscriber call gets its own deadline.
type Fanout struct {
	mu      sync.RWMutex
	subs    []session.Notifier
	timeout time.Duration
}

func NewFanout(timeout time.Duration, subs ...session.Notifier) *Fanout {
	return &Fanout{subs: subs, timeout: timeout}
}

func (f *Fanout) Subscribe(n session.Notifier) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, n)
}

func (f *Fanout) each(ctx context.Context, fn func(context.Context, session.Notifier)) {
	f.mu.RLock()
	subs := f.subs
	f.mu.RUnlock()

	for _, n := range subs {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		fn(callCtx, n)
		cancel()
	}
}

func (f *Fanout) SessionChanged(ctx context.Context, snap session.Snapshot) {
	f.each(ctx, func(ctx context.Context, n session.Notifier) { n.SessionChanged(ctx, snap) })
}

func (f *Fanout) SessionFinished(ctx context.Context, snap session.Snapshot) {
	f.each(ctx, func(ctx context.Context, n session.Notifier) { n.SessionFinished(ctx, snap) })
}

func (f *Fanout) SessionRemoved(ctx context.Context, snap session.Snapshot) {
	f.each(ctx, func(ctx context.Context, n session.Notifier) { n.SessionRemoved(ctx, snap) })
}
