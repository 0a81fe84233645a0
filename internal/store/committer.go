package store

import (
	"context"
	"time"

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
)

// Proposer computes deltas from a snapshot. It may run more than once when
// the apply conflicts, so it must only communicate through its results or
// by overwriting captured variables.
type Proposer func(snap *state.Snapshot) ([]state.Delta, error)

// Committer runs the serialized read, propose, apply loop for one player.
type Committer struct {
	Store   Store
	Locker  *Locker
	Wait    time.Duration
	Retries int
	Now     func() time.Time
}

// NewCommitter returns a Committer with the given bounds.
func NewCommitter(s Store, l *Locker, wait time.Duration, retries int) *Committer {
	if retries < 1 {
		retries = 1
	}
	return &Committer{Store: s, Locker: l, Wait: wait, Retries: retries, Now: time.Now}
}

// Update acquires the player's slot and applies whatever propose returns.
// Conflicts are retried against a fresh snapshot up to Retries times, then
// surface as a TransientFailure. An empty proposal returns the snapshot it
// was computed from.
func (c *Committer) Update(ctx context.Context, playerID string, propose Proposer) (*state.Snapshot, error) {
	release, err := c.Locker.Acquire(ctx, playerID, c.Wait)
	if err != nil {
		return nil, err
	}
	defer release()

	var lastErr error
	for attempt := 1; attempt <= c.Retries; attempt++ {
		snap, err := c.Store.Snapshot(ctx, playerID)
		if err != nil {
			return nil, err
		}
		deltas, err := propose(snap)
		if err != nil {
			return nil, err
		}
		if len(deltas) == 0 {
			return snap, nil
		}
		next, err := c.Store.Apply(ctx, playerID, snap.Version, deltas, c.Now())
		if err == nil {
			logging.StoreDebug("player %s v%d: applied %d deltas", playerID, next.Version, len(deltas))
			return next, nil
		}
		if !faults.IsConflict(err) {
			return nil, err
		}
		lastErr = err
		logging.StoreWarn("player %s: conflict on attempt %d/%d", playerID, attempt, c.Retries)
	}
	return nil, &faults.TransientFailure{Op: "apply " + playerID, Err: lastErr}
}
