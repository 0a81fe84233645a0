package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"argent/internal/faults"
)

// ErrLockTimeout is wrapped in a TransientFailure when the bounded wait for a
// player's slot elapses.
var ErrLockTimeout = errors.New("timed out waiting for player lock")

// Locker hands out one slot per player. Different players never contend.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// Acquire blocks until the player's slot is free, wait elapses, or ctx is
// done. The returned release func must be called exactly once.
func (l *Locker) Acquire(ctx context.Context, playerID string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[playerID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[playerID] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(playerID, s)
			})
		}, nil
	case <-timer.C:
		l.unref(playerID, s)
		return nil, &faults.TransientFailure{Op: "lock " + playerID, Err: ErrLockTimeout}
	case <-ctx.Done():
		l.unref(playerID, s)
		return nil, ctx.Err()
	}
}

func (l *Locker) unref(playerID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, playerID)
	}
}

// Held returns the number of players with a waiter or holder. Used by tests
// to check that slots are released.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
