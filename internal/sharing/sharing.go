// Package sharing decides what agents tell each other once they know of
// each other.
//
// The decision is a pure function of static per-agent policy and current
// trust in the other agent. The outcome is recorded once per pair as
// InterAgentExchange records; revealing an exchange to the player is a
// separate delayed job.
package sharing

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/logging"
	"argent/internal/state"
)

// Decision is the policy outcome for one fact.
type Decision string

const (
	Share    Decision = "share"
	Withhold Decision = "withhold"
	Trade    Decision = "trade"
)

// Default thresholds on trust in the other agent.
const (
	DefaultShareThreshold = 25
	DefaultTradeThreshold = 0
)

// Policy is one agent's disclosure policy. Set entries match a fact's
// category exactly or its text case-insensitively.
type Policy struct {
	AgentID         string
	AlwaysShares    []string
	AlwaysWithholds []string
	TradesFor       []string
	ShareThreshold  int
	TradeThreshold  int
	// BaseTrust seeds trust in another agent before any exchange.
	BaseTrust map[string]int
	// Leak, when set, reveals received knowledge to the player later.
	Leak *Leak
}

// Leak configures delayed surfacing of what an agent received.
type Leak struct {
	Delay  action.DelayRange
	Intent string
}

func matches(set []string, f state.KnowledgeFact) bool {
	text := strings.ToLower(f.Text)
	for _, m := range set {
		m = strings.ToLower(m)
		if m == strings.ToLower(f.Category) || strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// Decide applies the policy to one fact. Withholding dominates, then
// sharing, then trading (only with enough trust); anything else is shared
// when trust reaches the share threshold.
func (p Policy) Decide(f state.KnowledgeFact, trust int) Decision {
	switch {
	case matches(p.AlwaysWithholds, f):
		return Withhold
	case matches(p.AlwaysShares, f):
		return Share
	case matches(p.TradesFor, f):
		if trust >= p.TradeThreshold {
			return Trade
		}
		return Withhold
	case trust >= p.ShareThreshold:
		return Share
	default:
		return Withhold
	}
}

// Introduction makes two agents aware of each other when When holds.
type Introduction struct {
	A, B   string
	Reason string
	When   condition.Expr
}

// Surfacing asks for an exchange to be revealed after a delay.
type Surfacing struct {
	ExchangeID string
	AgentID    string
	Delay      action.DelayRange
	Intent     string
}

// Result is the output of one evaluation.
type Result struct {
	Deltas    []state.Delta
	Exchanges []state.InterAgentExchange
	Surface   []Surfacing
}

// Evaluator holds every agent's policy.
type Evaluator struct {
	policies      map[string]Policy
	introductions []Introduction
}

// NewEvaluator builds an evaluator. Thresholds are taken as given, so a
// zero ShareThreshold shares with any agent trusted at zero or more.
func NewEvaluator(policies []Policy, intros []Introduction) *Evaluator {
	m := make(map[string]Policy, len(policies))
	for _, p := range policies {
		m[p.AgentID] = p
	}
	return &Evaluator{policies: m, introductions: intros}
}

func (e *Evaluator) trust(snap *state.Snapshot, from, to string) int {
	if v, ok := snap.AgentTrustIn(from, to); ok {
		return v
	}
	return e.policies[from].BaseTrust[to]
}

// Introduce makes a and b mutually aware and evaluates both directions of
// disclosure. A pair already aware yields nothing, so repeated calls are
// safe.
func (e *Evaluator) Introduce(env condition.Env, a, b, reason string) Result {
	var res Result
	if a == b || env.Snap.Aware(a, b) {
		return res
	}
	_, okA := e.policies[a]
	_, okB := e.policies[b]
	if !okA || !okB {
		return res
	}
	res.Deltas = append(res.Deltas, state.MarkAware{A: a, B: b, At: env.Now})

	ab := e.decideAll(env.Snap, a, b)
	ba := e.decideAll(env.Snap, b, a)
	// a trade needs something coming back
	if len(ab[Trade]) == 0 || len(ba[Trade]) == 0 {
		ab[Withhold] = append(ab[Withhold], ab[Trade]...)
		ba[Withhold] = append(ba[Withhold], ba[Trade]...)
		ab[Trade], ba[Trade] = nil, nil
	}

	for _, dir := range []struct {
		from, to string
		out      map[Decision][]string
	}{{a, b, ab}, {b, a, ba}} {
		if _, ok := env.Snap.AgentTrustIn(dir.from, dir.to); !ok {
			res.Deltas = append(res.Deltas, state.AdjustAgentTrust{From: dir.from, To: dir.to, Base: e.trust(env.Snap, dir.from, dir.to)})
		}
		x := state.InterAgentExchange{
			ID:       uuid.NewString(),
			From:     dir.from,
			To:       dir.to,
			Reason:   reason,
			Shared:   dir.out[Share],
			Traded:   dir.out[Trade],
			Withheld: dir.out[Withhold],
			At:       env.Now,
		}
		res.Deltas = append(res.Deltas, state.RecordExchange{Exchange: x})
		res.Exchanges = append(res.Exchanges, x)

		if leak := e.policies[dir.to].Leak; leak != nil && len(x.Shared)+len(x.Traded) > 0 {
			res.Surface = append(res.Surface, Surfacing{ExchangeID: x.ID, AgentID: dir.to, Delay: leak.Delay, Intent: leak.Intent})
		}
		logging.Sharing("player %s: %s -> %s (%s): shared=%d traded=%d withheld=%d",
			env.Snap.PlayerID, dir.from, dir.to, reason, len(x.Shared), len(x.Traded), len(x.Withheld))
	}
	return res
}

// decideAll classifies every fact from could disclose and to does not
// already have.
func (e *Evaluator) decideAll(snap *state.Snapshot, from, to string) map[Decision][]string {
	p := e.policies[from]
	trust := e.trust(snap, from, to)
	known := snap.AvailableKnowledge(to)
	out := map[Decision][]string{}
	for _, f := range snap.AvailableKnowledge(from) {
		if slices.ContainsFunc(known, func(k state.KnowledgeFact) bool { return k.ID == f.ID }) {
			continue
		}
		d := p.Decide(f, trust)
		out[d] = append(out[d], f.ID)
	}
	return out
}

// Sweep runs configured introductions whose conditions hold.
func (e *Evaluator) Sweep(env condition.Env) Result {
	var res Result
	for _, in := range e.introductions {
		if env.Snap.Aware(in.A, in.B) || !in.When.Eval(env) {
			continue
		}
		r := e.Introduce(env, in.A, in.B, in.Reason)
		res.Deltas = append(res.Deltas, r.Deltas...)
		res.Exchanges = append(res.Exchanges, r.Exchanges...)
		res.Surface = append(res.Surface, r.Surface...)
	}
	return res
}
