package condition

import (
	"slices"

	"argent/internal/logging"
	"argent/internal/state"
)

// Trigger is a compiled, prioritized condition. What firing does is up to
// the caller; this package only decides when.
type Trigger struct {
	ID       string
	Priority int
	When     Expr
}

// EdgeKey is the snapshot key holding a trigger's last evaluated value.
func EdgeKey(triggerID string) string { return "trigger:" + triggerID }

// Result is the outcome of one evaluation pass.
type Result struct {
	// Fired lists newly fired triggers, highest priority first.
	Fired []Trigger
	// Deltas record edges and firings; apply them in the same batch as the
	// actions the caller derives from Fired.
	Deltas []state.Delta
}

// ByPriority returns triggers sorted by descending priority, keeping
// declaration order among equals.
func ByPriority(triggers []Trigger) []Trigger {
	out := slices.Clone(triggers)
	slices.SortStableFunc(out, func(a, b Trigger) int { return b.Priority - a.Priority })
	return out
}

// Evaluate runs every trigger against env. A trigger fires when its
// condition is true now, was false or never evaluated last time, and it has
// never fired for this player. Re-running Evaluate on the snapshot that
// includes Deltas yields nothing new.
func Evaluate(triggers []Trigger, env Env) Result {
	var res Result
	for _, t := range ByPriority(triggers) {
		key := EdgeKey(t.ID)
		prev := env.Snap.Edge(key)
		cur := t.When.Eval(env)
		if cur != prev {
			res.Deltas = append(res.Deltas, state.SetEdge{Key: key, Value: cur})
		}
		if !cur || prev || env.Snap.HasFired(t.ID) {
			continue
		}
		res.Fired = append(res.Fired, t)
		res.Deltas = append(res.Deltas, state.RecordFiring{TriggerID: t.ID, At: env.Now})
		logging.TriggerDebug("player %s: trigger %s fired (%s)", env.Snap.PlayerID, t.ID, t.When)
	}
	return res
}
