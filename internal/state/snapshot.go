package state

import (
	"maps"
	"slices"
	"sort"
	"time"
)

// Snapshot is a point-in-time copy of one player's aggregate. Treat it as
// read-only; Fold returns a new value instead of mutating its input.
type Snapshot struct {
	PlayerID string `json:"player_id"`
	Version  int64  `json:"version"`

	Player      Player                      `json:"player"`
	Trust       map[string]TrustRecord      `json:"trust,omitempty"`
	TrustEvents []TrustEvent                `json:"trust_events,omitempty"`
	Knowledge   []KnowledgeFact             `json:"knowledge,omitempty"`
	Milestones  map[string]Milestone        `json:"milestones,omitempty"`
	Claims      []Claim                     `json:"claims,omitempty"`
	Lifecycle   map[string]LifecycleState   `json:"lifecycle,omitempty"`
	World       WorldState                  `json:"world"`
	Engagement  EngagementState             `json:"engagement"`
	Channels    map[string]ChannelOwnership `json:"channels,omitempty"`
	Exchanges   []InterAgentExchange        `json:"exchanges,omitempty"`

	// AgentKnowledge maps an agent to fact IDs it learned from other agents.
	AgentKnowledge map[string][]string `json:"agent_knowledge,omitempty"`
	// AgentTrust holds one agent's trust in another, keyed "from>to".
	AgentTrust map[string]int `json:"agent_trust,omitempty"`
	// Awareness holds mutually aware agent pairs, keyed by PairKey.
	Awareness map[string]time.Time `json:"awareness,omitempty"`

	Firings map[string]TriggerFiring `json:"firings,omitempty"`
	// Edges remembers the last evaluated value of each rising-edge condition.
	Edges map[string]bool `json:"edges,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Empty returns the snapshot of a player that does not exist yet.
func Empty(playerID string) *Snapshot {
	return &Snapshot{PlayerID: playerID, Engagement: EngagementState{Tier: TierActive}}
}

// Exists reports whether the player has been initialized.
func (s *Snapshot) Exists() bool { return s.Player.ID != "" }

// TrustScore returns the player's trust with agent, 0 if never set.
func (s *Snapshot) TrustScore(agentID string) int {
	return s.Trust[agentID].Score
}

// HasMilestone reports whether a milestone was reached.
func (s *Snapshot) HasMilestone(id string) bool {
	_, ok := s.Milestones[id]
	return ok
}

// Stage returns the agent's lifecycle stage, engaged if never set.
func (s *Snapshot) Stage(agentID string) Stage {
	if ls, ok := s.Lifecycle[agentID]; ok {
		return ls.Stage
	}
	return StageEngaged
}

// LifecycleOf returns the agent's lifecycle state and whether one exists.
func (s *Snapshot) LifecycleOf(agentID string) (LifecycleState, bool) {
	ls, ok := s.Lifecycle[agentID]
	return ls, ok
}

// HasFired reports whether a trigger already fired for this player.
func (s *Snapshot) HasFired(triggerID string) bool {
	_, ok := s.Firings[triggerID]
	return ok
}

// Edge returns the last recorded value of a rising-edge condition.
func (s *Snapshot) Edge(key string) bool { return s.Edges[key] }

// SpawnSatisfied reports whether a spawn condition was satisfied.
func (s *Snapshot) SpawnSatisfied(id string) bool {
	_, ok := s.World.Spawns[id]
	return ok
}

// DeadlinePassed reports whether a deadline flag is set.
func (s *Snapshot) DeadlinePassed(id string) bool {
	_, ok := s.World.Deadlines[id]
	return ok
}

// Fact returns the knowledge fact with the given id.
func (s *Snapshot) Fact(id string) (KnowledgeFact, bool) {
	for _, f := range s.Knowledge {
		if f.ID == id {
			return f, true
		}
	}
	return KnowledgeFact{}, false
}

// Claim returns the claim with the given id.
func (s *Snapshot) Claim(id string) (Claim, bool) {
	for _, c := range s.Claims {
		if c.ID == id {
			return c, true
		}
	}
	return Claim{}, false
}

// ClaimsBy returns an agent's claims, most recent first.
func (s *Snapshot) ClaimsBy(agentID string) []Claim {
	var out []Claim
	for i := len(s.Claims) - 1; i >= 0; i-- {
		if s.Claims[i].AgentID == agentID {
			out = append(out, s.Claims[i])
		}
	}
	return out
}

// TrustEventsFor returns an agent's trust events, most recent first.
func (s *Snapshot) TrustEventsFor(agentID string) []TrustEvent {
	var out []TrustEvent
	for i := len(s.TrustEvents) - 1; i >= 0; i-- {
		if s.TrustEvents[i].AgentID == agentID {
			out = append(out, s.TrustEvents[i])
		}
	}
	return out
}

// PairKey returns the order-independent key of an agent pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// AgentTrustKey returns the directed key for one agent's trust in another.
func AgentTrustKey(from, to string) string { return from + ">" + to }

// Aware reports whether two agents are mutually aware.
func (s *Snapshot) Aware(a, b string) bool {
	_, ok := s.Awareness[PairKey(a, b)]
	return ok
}

// AgentTrustIn returns from's trust in to and whether it was ever recorded.
func (s *Snapshot) AgentTrustIn(from, to string) (int, bool) {
	v, ok := s.AgentTrust[AgentTrustKey(from, to)]
	return v, ok
}

// AvailableKnowledge returns the facts an agent may draw on: facts it is the
// source of plus facts it learned through exchanges.
func (s *Snapshot) AvailableKnowledge(agentID string) []KnowledgeFact {
	learned := make(map[string]bool, len(s.AgentKnowledge[agentID]))
	for _, id := range s.AgentKnowledge[agentID] {
		learned[id] = true
	}
	var out []KnowledgeFact
	for _, f := range s.Knowledge {
		if f.SourceAgent == agentID || learned[f.ID] {
			out = append(out, f)
		}
	}
	return out
}

// Owner returns the agent owning a channel, if any.
func (s *Snapshot) Owner(channel string) (string, bool) {
	c, ok := s.Channels[channel]
	if !ok || c.Owner == "" {
		return "", false
	}
	return c.Owner, true
}

// Agents returns every agent with a trust or lifecycle record, sorted.
func (s *Snapshot) Agents() []string {
	seen := make(map[string]bool)
	for a := range s.Trust {
		seen[a] = true
	}
	for a := range s.Lifecycle {
		seen[a] = true
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Trust = maps.Clone(s.Trust)
	c.TrustEvents = slices.Clone(s.TrustEvents)
	c.Knowledge = slices.Clone(s.Knowledge)
	c.Milestones = maps.Clone(s.Milestones)
	c.Claims = slices.Clone(s.Claims)
	c.Lifecycle = maps.Clone(s.Lifecycle)
	c.World.Spawns = maps.Clone(s.World.Spawns)
	c.World.Deadlines = maps.Clone(s.World.Deadlines)
	c.World.EventTotals = maps.Clone(s.World.EventTotals)
	c.Engagement.MessageCounts = maps.Clone(s.Engagement.MessageCounts)
	c.AgentTrust = maps.Clone(s.AgentTrust)
	c.Awareness = maps.Clone(s.Awareness)
	c.Firings = maps.Clone(s.Firings)
	c.Edges = maps.Clone(s.Edges)

	if s.Channels != nil {
		c.Channels = make(map[string]ChannelOwnership, len(s.Channels))
		for k, v := range s.Channels {
			v.Previous = slices.Clone(v.Previous)
			c.Channels[k] = v
		}
	}
	if s.AgentKnowledge != nil {
		c.AgentKnowledge = make(map[string][]string, len(s.AgentKnowledge))
		for k, v := range s.AgentKnowledge {
			c.AgentKnowledge[k] = slices.Clone(v)
		}
	}
	if s.Exchanges != nil {
		c.Exchanges = make([]InterAgentExchange, len(s.Exchanges))
		for i, x := range s.Exchanges {
			x.Shared = slices.Clone(x.Shared)
			x.Traded = slices.Clone(x.Traded)
			x.Withheld = slices.Clone(x.Withheld)
			c.Exchanges[i] = x
		}
	}
	return &c
}
