// Package gateway admits conversation turns: one at a time per conversation,
// and at most a fixed number across all conversations.
package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Lanes serializes work per key with a global concurrency semaphore.
// A caller holds its key's lane before it competes for a semaphore slot, so
// a busy conversation never occupies more than one slot.
type Lanes struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	lanes  map[string]*lane
	active atomic.Int64
}

type lane struct {
	token chan struct{}
	refs  int
}

// NewLanes allows up to maxConcurrent keys to run at once. Values below one
// are treated as one.
func NewLanes(maxConcurrent int64) *Lanes {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Lanes{
		sem:   semaphore.NewWeighted(maxConcurrent),
		lanes: make(map[string]*lane),
	}
}

// Do runs fn on the caller's goroutine once key's lane and a global slot are
// both held. It returns ctx.Err() if either wait is cancelled.
func (l *Lanes) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	ln := l.ref(key)
	defer l.unref(key, ln)

	select {
	case ln.token <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ln.token }()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)

	l.active.Add(1)
	defer l.active.Add(-1)
	return fn(ctx)
}

func (l *Lanes) ref(key string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{token: make(chan struct{}, 1)}
		l.lanes[key] = ln
	}
	ln.refs++
	return ln
}

func (l *Lanes) unref(key string, ln *lane) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
}

// Active returns the number of functions currently running.
func (l *Lanes) Active() int64 { return l.active.Load() }

// Keys returns the number of keys with running or waiting work.
func (l *Lanes) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}

// WaitIdle blocks until nothing is running, or the timeout expires. Returns
// true if idle, false if timed out.
func (l *Lanes) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if l.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-tick.C:
		}
	}
}
