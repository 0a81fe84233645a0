// Package engagement classifies how recently a player has been active and
// paces outbound contact accordingly.
package engagement

import (
	"sort"
	"strconv"
	"time"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/logging"
	"argent/internal/state"
)

const day = 24 * time.Hour

// DefaultThresholds is the silence after which each tier is entered.
var DefaultThresholds = map[state.Tier]time.Duration{
	state.TierCasual:  3 * day,
	state.TierDormant: 7 * day,
	state.TierLapsed:  14 * day,
	state.TierChurned: 21 * day,
}

// DefaultPacing multiplies outbound delays per tier.
var DefaultPacing = map[state.Tier]float64{
	state.TierActive:  1,
	state.TierCasual:  1.5,
	state.TierDormant: 2,
	state.TierLapsed:  3,
	state.TierChurned: 4,
}

// Reengage describes the nudge sent on entering a tier. An empty AgentID
// picks the most trusted agent that is not gone.
type Reengage struct {
	AgentID string
	Channel string
	Intent  string
	Delay   action.DelayRange
}

// Policy holds tier thresholds and what to do on entering each tier.
type Policy struct {
	Thresholds map[state.Tier]time.Duration
	Pacing     map[state.Tier]float64
	Reengage   map[state.Tier]Reengage
	// ExposureEvents names an exposure event applied on entering a tier.
	ExposureEvents map[state.Tier]string
}

// DefaultPolicy returns the stock thresholds with generic nudges for the
// three tiers that get one.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds: DefaultThresholds,
		Pacing:     DefaultPacing,
		Reengage: map[state.Tier]Reengage{
			state.TierCasual:  {Intent: "check in lightly; the player has gone quiet"},
			state.TierDormant: {Intent: "raise something unresolved to pull the player back"},
			state.TierLapsed:  {Intent: "last attempt: make it personal and urgent"},
		},
	}
}

// Result is the output of one sweep for one player.
type Result struct {
	From, To   state.Tier
	Deltas     []state.Delta
	Actions    []action.Action
	EventTypes []string
}

// Changed reports whether the sweep moved the player.
func (r Result) Changed() bool { return r.To != r.From }

// Classify returns the tier the elapsed silence puts the player in.
func (p Policy) Classify(snap *state.Snapshot, now time.Time) state.Tier {
	since := snap.Engagement.LastInbound
	if since.IsZero() {
		since = snap.Player.GameStartedAt
	}
	if since.IsZero() {
		since = snap.Player.CreatedAt
	}
	silent := now.Sub(since)

	tier := state.TierActive
	for _, t := range state.Tiers[1:] {
		if th, ok := p.Thresholds[t]; ok && silent >= th {
			tier = t
		}
	}
	return tier
}

// PacingFor returns the delay multiplier for a tier.
func (p Policy) PacingFor(t state.Tier) float64 {
	if m, ok := p.Pacing[t]; ok && m > 0 {
		return m
	}
	return 1
}

// Sweep recomputes the tier. It only moves forward; an inbound message is
// the only way back to active. Entering a tier with a Reengage entry yields
// exactly one reengage action, however many tiers were skipped.
func (p Policy) Sweep(env condition.Env) Result {
	snap := env.Snap
	res := Result{From: snap.Engagement.Tier, To: snap.Engagement.Tier}
	next := p.Classify(snap, env.Now)
	if next.Rank() <= res.From.Rank() {
		return res
	}
	res.To = next

	re, nudge := p.Reengage[next]
	var agent string
	if nudge {
		agent = re.AgentID
		if agent == "" {
			agent = mostTrusted(snap)
		}
		nudge = agent != ""
	}
	res.Deltas = append(res.Deltas, state.AdvanceEngagement{To: next, Attempted: nudge, At: env.Now})

	if nudge {
		a := action.New(action.KindReengage, snap.PlayerID, agent, re.Intent, "engagement:"+string(next))
		a.Channel = re.Channel
		a.Delay = re.Delay
		a.Pacing = p.PacingFor(next)
		a.SupersedeKey = "reengage"
		a.Metadata = map[string]string{"tier": string(next), "attempt": strconv.Itoa(snap.Engagement.Attempts + 1)}
		res.Actions = append(res.Actions, a)
	}
	if ev := p.ExposureEvents[next]; ev != "" {
		res.EventTypes = append(res.EventTypes, ev)
	}

	logging.Engagement("player %s: %s -> %s (nudge=%v)", snap.PlayerID, res.From, next, nudge)
	return res
}

// mostTrusted picks the highest-trust agent that can still speak. Ties go
// to the lexically smaller id.
func mostTrusted(snap *state.Snapshot) string {
	agents := snap.Agents()
	sort.SliceStable(agents, func(i, j int) bool {
		return snap.TrustScore(agents[i]) > snap.TrustScore(agents[j])
	})
	for _, a := range agents {
		if snap.Stage(a) != state.StageGone {
			return a
		}
	}
	return ""
}
