// Package exposure turns classified player events into exposure changes and
// decides when new agents enter the story.
package exposure

import (
	"sort"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/logging"
	"argent/internal/state"
)

// Event is the exposure effect of one classified event type. A positive Cap
// bounds the total magnitude the type can ever contribute.
type Event struct {
	Type  string
	Delta int
	Cap   int
}

// Spawn introduces AgentID once When holds.
type Spawn struct {
	ID      string
	AgentID string
	Channel string
	Intent  string
	When    condition.Expr
	Delay   action.DelayRange
}

// Result is the output of one evaluation.
type Result struct {
	Deltas  []state.Delta
	Actions []action.Action
	Spawned []string
	// Unknown lists event types with no configured effect.
	Unknown []string
}

// Evaluator holds the exposure table and spawn conditions.
type Evaluator struct {
	events map[string]Event
	spawns []Spawn
}

// NewEvaluator builds an evaluator. Spawns are checked in the given order.
func NewEvaluator(events []Event, spawns []Spawn) *Evaluator {
	m := make(map[string]Event, len(events))
	for _, e := range events {
		m[e.Type] = e
	}
	return &Evaluator{events: m, spawns: spawns}
}

// Event returns the configured effect of an event type.
func (e *Evaluator) Event(eventType string) (Event, bool) {
	ev, ok := e.events[eventType]
	return ev, ok
}

// Types returns the configured event types, sorted.
func (e *Evaluator) Types() []string {
	out := make([]string, 0, len(e.events))
	for t := range e.events {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Apply proposes the exposure deltas of eventTypes and then checks spawn
// conditions against the snapshot as it will look once they apply. pending
// are deltas already proposed earlier in the same pass.
func (e *Evaluator) Apply(env condition.Env, pending []state.Delta, eventTypes ...string) (Result, error) {
	var res Result
	for _, t := range eventTypes {
		ev, ok := e.events[t]
		if !ok {
			res.Unknown = append(res.Unknown, t)
			continue
		}
		res.Deltas = append(res.Deltas, state.AdjustExposure{EventType: ev.Type, Delta: ev.Delta, Cap: ev.Cap})
		logging.ExposureDebug("player %s: event %s -> exposure %+d (cap %d)", env.Snap.PlayerID, t, ev.Delta, ev.Cap)
	}

	preview, err := state.Preview(env.Snap, append(append([]state.Delta(nil), pending...), res.Deltas...), env.Now)
	if err != nil {
		return Result{}, err
	}
	spawned := e.Spawns(condition.Env{Snap: preview, Now: env.Now})
	res.Deltas = append(res.Deltas, spawned.Deltas...)
	res.Actions = spawned.Actions
	res.Spawned = spawned.Spawned
	return res, nil
}

// Spawns checks every unsatisfied spawn condition. Each newly satisfied one
// yields a SatisfySpawn delta and exactly one introduction action.
func (e *Evaluator) Spawns(env condition.Env) Result {
	var res Result
	for _, sp := range e.spawns {
		if env.Snap.SpawnSatisfied(sp.ID) || !sp.When.Eval(env) {
			continue
		}
		res.Deltas = append(res.Deltas, state.SatisfySpawn{ID: sp.ID, At: env.Now})
		res.Spawned = append(res.Spawned, sp.ID)

		intent := sp.Intent
		if intent == "" {
			intent = "introduce yourself to the player for the first time"
		}
		a := action.New(action.KindIntroduce, env.Snap.PlayerID, sp.AgentID, intent, "spawn:"+sp.ID)
		a.Channel = sp.Channel
		a.Delay = sp.Delay
		a.Mandatory = true
		a.SupersedeKey = "spawn:" + sp.ID
		res.Actions = append(res.Actions, a)
		logging.Exposure("player %s: spawn %s satisfied at exposure %d, introducing %s",
			env.Snap.PlayerID, sp.ID, env.Snap.World.Exposure, sp.AgentID)
	}
	return res
}
