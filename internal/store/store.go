// Package store owns every mutation of player state.
//
// A Store reads immutable snapshots and applies ordered delta batches with
// optimistic version checks. Locker serializes writers for one player inside
// a process, and Committer combines both into a retrying read-propose-apply
// loop. Backends live in subpackages (sqlite, postgres); Memory is the
// in-process backend used by tests and the offline CLI.
package store

import (
	"context"
	"time"

	"argent/internal/state"
)

// Store is the durable state contract.
type Store interface {
	// Snapshot returns a point-in-time copy of the player's aggregate. An
	// unknown player yields an empty snapshot at version 0.
	Snapshot(ctx context.Context, playerID string) (*state.Snapshot, error)

	// Apply folds deltas onto the current aggregate if its version still
	// equals expected, and returns the new snapshot. A version mismatch
	// returns *faults.StateConflict and changes nothing.
	Apply(ctx context.Context, playerID string, expected int64, deltas []state.Delta, now time.Time) (*state.Snapshot, error)

	// Players lists every initialized player id.
	Players(ctx context.Context) ([]string, error)

	Close() error
}

// JournalEntry is one applied delta as recorded by backends that keep a
// journal.
type JournalEntry struct {
	PlayerID  string
	Version   int64
	Seq       int
	Kind      state.Kind
	Payload   []byte
	AppliedAt time.Time
}

// Journaler is implemented by backends that keep an append-only delta log.
type Journaler interface {
	Journal(ctx context.Context, playerID string, sinceVersion int64) ([]JournalEntry, error)
}

// EncodeJournal renders an ordered batch as journal entries for version.
func EncodeJournal(playerID string, version int64, deltas []state.Delta, now time.Time) ([]JournalEntry, error) {
	ordered := state.Order(deltas)
	out := make([]JournalEntry, 0, len(ordered))
	for i, d := range ordered {
		payload, err := state.Encode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, JournalEntry{
			PlayerID:  playerID,
			Version:   version,
			Seq:       i,
			Kind:      d.Kind(),
			Payload:   payload,
			AppliedAt: now,
		})
	}
	return out, nil
}
