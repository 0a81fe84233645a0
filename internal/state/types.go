// Package state defines the per-player aggregate and the closed set of
// deltas that mutate it.
//
// Every component outside the store works on a read-only Snapshot and
// proposes deltas. Fold applies a batch in the declared order on a private
// copy, so a batch either produces a complete new snapshot or an error and
// nothing else.
package state

import (
	"fmt"
	"strings"
	"time"
)

// Trust and exposure bounds.
const (
	TrustMin    = -100
	TrustMax    = 100
	ExposureMin = 0
	ExposureMax = 100
)

// Stage is an agent's lifecycle stage for one player.
type Stage string

const (
	StageEngaged Stage = "engaged"
	StageCooling Stage = "cooling"
	StageSilent  Stage = "silent"
	StageGone    Stage = "gone"
)

// Stages lists lifecycle stages in forward order.
var Stages = []Stage{StageEngaged, StageCooling, StageSilent, StageGone}

// Rank returns the stage position in forward order, or -1 if unknown.
func (s Stage) Rank() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool { return s.Rank() >= 0 }

// Tier is a player's engagement classification.
type Tier string

const (
	TierActive  Tier = "active"
	TierCasual  Tier = "casual"
	TierDormant Tier = "dormant"
	TierLapsed  Tier = "lapsed"
	TierChurned Tier = "churned"
)

// Tiers lists engagement tiers from most to least active.
var Tiers = []Tier{TierActive, TierCasual, TierDormant, TierLapsed, TierChurned}

// Rank returns the tier position, or -1 if unknown.
func (t Tier) Rank() int {
	for i, tr := range Tiers {
		if tr == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// Significance grades how much a claim matters to consistency.
type Significance string

const (
	SignificanceLow      Significance = "low"
	SignificanceMedium   Significance = "medium"
	SignificanceHigh     Significance = "high"
	SignificanceCritical Significance = "critical"
)

var significanceOrder = []Significance{SignificanceLow, SignificanceMedium, SignificanceHigh, SignificanceCritical}

// Rank returns 0..3, or -1 if unknown.
func (s Significance) Rank() int {
	for i, v := range significanceOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// AtLeast reports whether s is as significant as min.
func (s Significance) AtLeast(min Significance) bool {
	return s.Rank() >= min.Rank() && s.Rank() >= 0
}

// ParseSignificance parses a significance name case-insensitively.
func ParseSignificance(v string) (Significance, error) {
	s := Significance(strings.ToLower(strings.TrimSpace(v)))
	if s.Rank() < 0 {
		return "", fmt.Errorf("unknown significance %q", v)
	}
	return s, nil
}

// ClaimType classifies a claim.
type ClaimType string

const (
	ClaimAction  ClaimType = "action"
	ClaimFact    ClaimType = "fact"
	ClaimOpinion ClaimType = "opinion"
	ClaimPromise ClaimType = "promise"
)

// Valid reports whether t is a known claim type.
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimAction, ClaimFact, ClaimOpinion, ClaimPromise:
		return true
	}
	return false
}

// Inheritance describes how much context a new channel owner receives.
type Inheritance string

const (
	InheritFull    Inheritance = "full"
	InheritPartial Inheritance = "partial"
	InheritNone    Inheritance = "none"
)

// Valid reports whether i is a known inheritance type.
func (i Inheritance) Valid() bool {
	switch i {
	case InheritFull, InheritPartial, InheritNone:
		return true
	}
	return false
}

// Player is the root identity of an aggregate.
type Player struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	GameStartedAt time.Time `json:"game_started_at,omitempty"`
}

// TrustRecord is a player's standing with one agent.
type TrustRecord struct {
	Score           int       `json:"score"`
	Interactions    int       `json:"interactions"`
	LastInteraction time.Time `json:"last_interaction,omitempty"`
}

// TrustEvent is an append-only audit entry for a trust change.
type TrustEvent struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// KnowledgeFact is something the player has learned.
type KnowledgeFact struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Category    string    `json:"category"`
	SourceAgent string    `json:"source_agent,omitempty"`
	At          time.Time `json:"at"`
}

// Milestone is a one-time story progress marker.
type Milestone struct {
	ID        string            `json:"id"`
	ReachedAt time.Time         `json:"reached_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Claim is a discrete statement an agent made. Negated marks the opposite
// polarity of the same subject ("I did not delete it").
type Claim struct {
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	Text           string       `json:"text"`
	Subject        string       `json:"subject"`
	Negated        bool         `json:"negated"`
	Type           ClaimType    `json:"type"`
	GroundTruth    bool         `json:"ground_truth"`
	Significance   Significance `json:"significance"`
	At             time.Time    `json:"at"`
	ContradictedBy string       `json:"contradicted_by,omitempty"`
}

// Modifiers shape how an agent behaves in its current stage.
type Modifiers struct {
	ResponseProbability float64 `json:"response_probability" yaml:"response_probability"`
	DelayMultiplier     float64 `json:"delay_multiplier" yaml:"delay_multiplier"`
	Tone                string  `json:"tone" yaml:"tone"`
}

// Validate checks modifier ranges.
func (m Modifiers) Validate() error {
	if m.ResponseProbability < 0 || m.ResponseProbability > 1 {
		return fmt.Errorf("response probability %.2f outside [0,1]", m.ResponseProbability)
	}
	if m.DelayMultiplier < 1 {
		return fmt.Errorf("delay multiplier %.2f below 1", m.DelayMultiplier)
	}
	return nil
}

// LifecycleState is one agent's stage for a player.
type LifecycleState struct {
	Stage     Stage     `json:"stage"`
	Reason    string    `json:"reason"`
	EnteredAt time.Time `json:"entered_at"`
	Modifiers Modifiers `json:"modifiers"`
}

// WorldState holds per-player world flags.
type WorldState struct {
	Exposure int `json:"exposure"`
	// Spawns is the monotonically growing set of satisfied spawn conditions.
	Spawns map[string]time.Time `json:"spawns,omitempty"`
	// Deadlines holds deadline-passed flags.
	Deadlines map[string]time.Time `json:"deadlines,omitempty"`
	// EventTotals tracks the magnitude already applied per capped event type.
	EventTotals map[string]int `json:"event_totals,omitempty"`
}

// EngagementState classifies recent player activity.
type EngagementState struct {
	Tier          Tier           `json:"tier"`
	TierEnteredAt time.Time      `json:"tier_entered_at,omitempty"`
	LastInbound   time.Time      `json:"last_inbound,omitempty"`
	LastOutbound  time.Time      `json:"last_outbound,omitempty"`
	Attempts      int            `json:"attempts"`
	MessageCounts map[string]int `json:"message_counts,omitempty"`
}

// ChannelOwnership tracks which agent speaks on a channel.
type ChannelOwnership struct {
	Channel     string      `json:"channel"`
	Owner       string      `json:"owner"`
	Previous    []string    `json:"previous,omitempty"`
	Inheritance Inheritance `json:"inheritance"`
	HandedOffAt time.Time   `json:"handed_off_at,omitempty"`
}

// InterAgentExchange records one sharing evaluation between two agents.
// Only Surfaced/SurfacedAt may change after it is written.
type InterAgentExchange struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason"`
	Shared     []string  `json:"shared,omitempty"`
	Traded     []string  `json:"traded,omitempty"`
	Withheld   []string  `json:"withheld,omitempty"`
	Surfaced   bool      `json:"surfaced"`
	SurfacedAt time.Time `json:"surfaced_at,omitempty"`
	At         time.Time `json:"at"`
}

// TriggerFiring guards a trigger against firing twice for one player.
type TriggerFiring struct {
	TriggerID string    `json:"trigger_id"`
	FiredAt   time.Time `json:"fired_at"`
}
