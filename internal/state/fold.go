package state

import (
	"fmt"
	"slices"
	"time"
)

// Order returns the deltas sorted into application order. Deltas of the same
// kind keep their proposal order.
func Order(deltas []Delta) []Delta {
	out := slices.Clone(deltas)
	slices.SortStableFunc(out, func(a, b Delta) int {
		return a.Kind().Rank() - b.Kind().Rank()
	})
	return out
}

// Fold applies a batch to a copy of base and returns the new snapshot with
// its version advanced by one. An empty batch returns base unchanged. Any
// failing delta aborts the whole batch and base is left untouched.
func Fold(base *Snapshot, deltas []Delta, now time.Time) (*Snapshot, error) {
	if len(deltas) == 0 {
		return base, nil
	}
	next := base.Clone()
	for i, d := range Order(deltas) {
		if d == nil {
			return nil, fmt.Errorf("delta %d: %w: nil", i, ErrInvalidDelta)
		}
		if err := d.apply(next, now); err != nil {
			return nil, fmt.Errorf("delta %d (%s): %w", i, d.Kind(), err)
		}
	}
	next.Version = base.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// Preview folds without advancing the version. Evaluators use it to look at
// the effect of deltas proposed earlier in the same pass.
func Preview(base *Snapshot, deltas []Delta, now time.Time) (*Snapshot, error) {
	next, err := Fold(base, deltas, now)
	if err != nil || next == base {
		return next, err
	}
	next.Version = base.Version
	next.UpdatedAt = base.UpdatedAt
	return next, nil
}
