// Package lifecycle runs the per-agent engaged -> cooling -> silent -> gone
// machine and decides whether an agent answers an inbound message.
package lifecycle

import (
	"fmt"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/logging"
	"argent/internal/state"
)

// DefaultModifiers are used for stages a policy does not configure.
var DefaultModifiers = map[state.Stage]state.Modifiers{
	state.StageEngaged: {ResponseProbability: 1, DelayMultiplier: 1, Tone: "warm"},
	state.StageCooling: {ResponseProbability: 1, DelayMultiplier: 2, Tone: "guarded"},
	state.StageSilent:  {ResponseProbability: 0.25, DelayMultiplier: 4, Tone: "cold"},
	state.StageGone:    {ResponseProbability: 0, DelayMultiplier: 1, Tone: "absent"},
}

// Policy is one agent's lifecycle configuration.
type Policy struct {
	AgentID string
	Channel string
	// Guards[s] is the condition for entering stage s. Stages without a
	// guard are never entered by evaluation.
	Guards    map[state.Stage]condition.Expr
	Modifiers map[state.Stage]state.Modifiers
	// Signals[s] is the intent of the message announcing entry into s.
	Signals     map[state.Stage]string
	SignalDelay action.DelayRange
}

// ModifiersFor returns the configured or default modifiers of stage.
func (p Policy) ModifiersFor(stage state.Stage) state.Modifiers {
	if m, ok := p.Modifiers[stage]; ok {
		return m
	}
	return DefaultModifiers[stage]
}

// Transition describes one stage change proposed by Evaluate.
type Transition struct {
	AgentID string
	From    state.Stage
	To      state.Stage
	Reason  string
}

// Result is the output of one evaluation pass.
type Result struct {
	Deltas      []state.Delta
	Actions     []action.Action
	Transitions []Transition
}

// Machine evaluates every configured agent.
type Machine struct {
	policies []Policy
}

// NewMachine returns a machine over policies, evaluated in the given order.
func NewMachine(policies []Policy) *Machine {
	return &Machine{policies: policies}
}

// Policy returns the policy of agentID.
func (m *Machine) Policy(agentID string) (Policy, bool) {
	for _, p := range m.policies {
		if p.AgentID == agentID {
			return p, true
		}
	}
	return Policy{}, false
}

// Evaluate moves each agent to the furthest stage whose guard holds. Stages
// may be skipped but never revisited. Every transition yields exactly one
// mandatory signal action, except a transition into gone, which yields none.
func (m *Machine) Evaluate(env condition.Env) Result {
	var res Result
	for _, p := range m.policies {
		cur := env.Snap.Stage(p.AgentID)
		if cur == state.StageGone {
			continue
		}
		target := cur
		for i := len(state.Stages) - 1; i > cur.Rank(); i-- {
			st := state.Stages[i]
			if g, ok := p.Guards[st]; ok && g.Eval(env) {
				target = st
				break
			}
		}
		if target == cur {
			continue
		}

		reason := fmt.Sprintf("guard %s: %s", target, p.Guards[target])
		res.Deltas = append(res.Deltas, state.TransitionLifecycle{
			AgentID:   p.AgentID,
			To:        target,
			Reason:    reason,
			Modifiers: p.ModifiersFor(target),
			At:        env.Now,
		})
		res.Transitions = append(res.Transitions, Transition{AgentID: p.AgentID, From: cur, To: target, Reason: reason})
		logging.Lifecycle("player %s: %s %s -> %s", env.Snap.PlayerID, p.AgentID, cur, target)

		if target == state.StageGone {
			continue
		}
		intent := p.Signals[target]
		if intent == "" {
			intent = fmt.Sprintf("let the player feel that you are becoming %s toward them", target)
		}
		a := action.New(action.KindTransitionSignal, env.Snap.PlayerID, p.AgentID, intent, "lifecycle:"+string(target))
		a.Channel = p.Channel
		a.Delay = p.SignalDelay
		a.Mandatory = true
		a.SupersedeKey = p.AgentID + ":lifecycle"
		a.Metadata = map[string]string{"from": string(cur), "to": string(target)}
		res.Actions = append(res.Actions, a)
	}
	return res
}

// Decision is the outcome of ShouldRespond.
type Decision struct {
	Respond   bool
	Stage     state.Stage
	Modifiers state.Modifiers
	Reason    string
}

// ShouldRespond decides whether agentID answers message messageID. Gone
// agents never answer. Below probability 1 the answer is a Bernoulli draw
// seeded on player, message and agent, so the same message always gets the
// same decision.
func ShouldRespond(snap *state.Snapshot, messageID, agentID string) Decision {
	stage := snap.Stage(agentID)
	mods := DefaultModifiers[stage]
	if ls, ok := snap.LifecycleOf(agentID); ok {
		mods = ls.Modifiers
	}
	d := Decision{Stage: stage, Modifiers: mods}
	switch {
	case stage == state.StageGone:
		d.Reason = "agent is gone"
	case mods.ResponseProbability >= 1:
		d.Respond = true
		d.Reason = "always responds in " + string(stage)
	default:
		draw := action.Seeded(snap.PlayerID, messageID, agentID).Float64()
		d.Respond = draw < mods.ResponseProbability
		d.Reason = fmt.Sprintf("draw %.3f vs p=%.2f in %s", draw, mods.ResponseProbability, stage)
	}
	logging.LifecycleDebug("player %s: %s respond=%v (%s)", snap.PlayerID, agentID, d.Respond, d.Reason)
	return d
}

// Suppressed reports whether a queued action must be dropped for the
// agent's current stage. Mandatory actions override probabilistic
// suppression but nothing reaches a gone agent's player.
func Suppressed(snap *state.Snapshot, a action.Action) (bool, string) {
	stage := snap.Stage(a.AgentID)
	if stage == state.StageGone {
		return true, "agent is gone"
	}
	if a.Mandatory || a.InReplyTo != "" {
		return false, ""
	}
	ls, ok := snap.LifecycleOf(a.AgentID)
	if !ok || ls.Modifiers.ResponseProbability >= 1 {
		return false, ""
	}
	if action.Seeded(snap.PlayerID, a.ID, a.AgentID).Float64() < ls.Modifiers.ResponseProbability {
		return false, ""
	}
	return true, fmt.Sprintf("%s suppresses unsolicited contact", stage)
}
