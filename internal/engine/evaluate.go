package engine

import (
	"slices"
	"strings"
	"time"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/lifecycle"
	"argent/internal/logging"
	"argent/internal/narrative"
	"argent/internal/sharing"
	"argent/internal/state"
)

// maxPasses bounds evaluation of one commit. A pass only adds deltas that
// earlier passes enabled, such as a fired trigger's exposure event
// satisfying a spawn.
const maxPasses = 4

// input is what an operation brings to evaluation.
type input struct {
	pending   []state.Delta
	events    []string
	intros    []sharing.Introduction
	messageID string
}

type spawnHit struct {
	id, agent string
}

// plan is everything one evaluation proposes. deltas include the pending
// deltas of the input.
type plan struct {
	deltas      []state.Delta
	actions     []action.Action
	storyEvents []narrative.StoryEvent
	surface     []sharing.Surfacing

	fired       []narrative.Trigger
	transitions []lifecycle.Transition
	spawns      []spawnHit
	exchanges   []state.InterAgentExchange

	preview *state.Snapshot
}

// evaluate runs every evaluator over snap plus the pending deltas until a
// pass proposes nothing new. Order inside a pass: exposure events and spawn
// conditions, player-action story events, triggers and their effects,
// introductions, lifecycle guards, configured introductions.
func (e *Engine) evaluate(snap *state.Snapshot, in input, now time.Time) (plan, error) {
	m := e.model
	p := plan{deltas: slices.Clone(in.pending)}
	events := slices.Clone(in.events)
	intros := slices.Clone(in.intros)
	queued := make(map[string]bool)

	preview, err := state.Preview(snap, p.deltas, now)
	if err != nil {
		return plan{}, err
	}
	env := func() condition.Env { return condition.Env{Snap: preview, Now: now} }
	refresh := func() error {
		var err error
		preview, err = state.Preview(snap, p.deltas, now)
		return err
	}

	for pass := 0; pass < maxPasses; pass++ {
		before := len(p.deltas)

		xr, err := m.Exposure.Apply(condition.Env{Snap: snap, Now: now}, p.deltas, events...)
		if err != nil {
			return plan{}, err
		}
		for _, t := range xr.Unknown {
			logging.EngineWarn("player %s: unknown exposure event %q ignored", snap.PlayerID, t)
		}
		p.deltas = append(p.deltas, xr.Deltas...)
		p.actions = append(p.actions, xr.Actions...)
		for _, a := range xr.Actions {
			p.spawns = append(p.spawns, spawnHit{id: strings.TrimPrefix(a.Source, "spawn:"), agent: a.AgentID})
		}
		if err := refresh(); err != nil {
			return plan{}, err
		}

		for _, t := range events {
			for _, ev := range m.EventsOn(narrative.EventPlayerAction, t) {
				if queued[ev.ID] || preview.HasMilestone(ev.MilestoneID()) {
					continue
				}
				queued[ev.ID] = true
				p.storyEvents = append(p.storyEvents, ev)
			}
		}
		events = nil

		tr := condition.Evaluate(m.ConditionTriggers(), env())
		p.deltas = append(p.deltas, tr.Deltas...)
		for _, ct := range tr.Fired {
			t, ok := m.Trigger(ct.ID)
			if !ok {
				continue
			}
			p.fired = append(p.fired, t)
			p.deltas = append(p.deltas, t.Effects.Deltas(now, in.messageID)...)
			events = append(events, t.Effects.Exposure...)
			if t.Effects.Introduce != nil {
				intros = append(intros, *t.Effects.Introduce)
			}
			if t.Action != nil {
				a := t.Action.Action(action.KindGenerate, snap.PlayerID, "trigger:"+t.ID)
				a.SupersedeKey = "trigger:" + t.ID
				p.actions = append(p.actions, a)
			}
		}
		if err := refresh(); err != nil {
			return plan{}, err
		}

		for _, it := range intros {
			r := m.Sharing.Introduce(env(), it.A, it.B, it.Reason)
			if len(r.Deltas) == 0 {
				continue
			}
			p.deltas = append(p.deltas, r.Deltas...)
			p.exchanges = append(p.exchanges, r.Exchanges...)
			p.surface = append(p.surface, r.Surface...)
			if err := refresh(); err != nil {
				return plan{}, err
			}
		}
		intros = nil

		lr := m.Lifecycle.Evaluate(env())
		p.deltas = append(p.deltas, lr.Deltas...)
		p.actions = append(p.actions, lr.Actions...)
		p.transitions = append(p.transitions, lr.Transitions...)
		if err := refresh(); err != nil {
			return plan{}, err
		}

		sr := m.Sharing.Sweep(env())
		p.deltas = append(p.deltas, sr.Deltas...)
		p.exchanges = append(p.exchanges, sr.Exchanges...)
		p.surface = append(p.surface, sr.Surface...)
		if err := refresh(); err != nil {
			return plan{}, err
		}

		if len(p.deltas) == before && len(events) == 0 {
			break
		}
	}
	p.preview = preview
	return p, nil
}

// audit records what a committed plan did.
func (p plan) audit(playerID string) {
	a := logging.Audit(playerID)
	for _, t := range p.fired {
		agent := ""
		if t.Action != nil {
			agent = t.Action.AgentID
		}
		a.TriggerFired(t.ID, agent)
	}
	for _, t := range p.transitions {
		a.LifecycleTransition(t.AgentID, string(t.From), string(t.To), t.Reason)
	}
	for _, s := range p.spawns {
		a.SpawnSatisfied(s.id, s.agent)
	}
	for _, x := range p.exchanges {
		a.ExchangeRecorded(x.From, x.To, len(x.Shared)+len(x.Traded), len(x.Withheld))
	}
}
