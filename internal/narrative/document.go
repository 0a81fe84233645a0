// Package narrative loads the static story configuration: agents, triggers,
// story events, lifecycle guards, spawns, sharing policies and claim rules.
//
// The YAML document is decoded into the plain types in this file and then
// compiled into a Model. Compilation collects every problem it finds and
// returns them together as faults.ValidationErrors; a Model is only built
// from a configuration with none.
package narrative

import (
	"argent/internal/condition"
	"argent/internal/state"
)

// Document is the decoded narrative file.
type Document struct {
	Version       string             `yaml:"version"`
	Agents        []AgentDoc         `yaml:"agents"`
	Triggers      []TriggerDoc       `yaml:"triggers"`
	StoryEvents   []StoryEventDoc    `yaml:"story_events"`
	Exposure      []ExposureEventDoc `yaml:"exposure_events"`
	Spawns        []SpawnDoc         `yaml:"spawns"`
	Engagement    *EngagementDoc     `yaml:"engagement"`
	Introductions []IntroductionDoc  `yaml:"introductions"`
	Conflicts     []ConflictDoc      `yaml:"conflicts"`
	Categories    []CategoryDoc      `yaml:"knowledge_categories"`
}

// DelayDoc is a delay window written as durations ("90s", "4h", "2d").
type DelayDoc struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// AgentDoc defines one character.
type AgentDoc struct {
	ID         string       `yaml:"id"`
	Name       string       `yaml:"name"`
	Channel    string       `yaml:"channel"`
	Goal       string       `yaml:"goal"`
	Persona    []string     `yaml:"persona"`
	Background string       `yaml:"background"`
	Voice      string       `yaml:"voice"`
	ReplyDelay DelayDoc     `yaml:"reply_delay"`
	Lifecycle  LifecycleDoc `yaml:"lifecycle"`
	Sharing    *SharingDoc  `yaml:"sharing"`
	ClaimRules []RuleDoc    `yaml:"claim_rules"`
}

// LifecycleDoc holds the stage guards of one agent. Keys are stage names.
type LifecycleDoc struct {
	Guards      map[string]condition.Spec `yaml:"guards"`
	Modifiers   map[string]ModifiersDoc   `yaml:"modifiers"`
	Signals     map[string]string         `yaml:"signals"`
	SignalDelay DelayDoc                  `yaml:"signal_delay"`
}

// ModifiersDoc overrides part of a stage's behavior. Unset fields keep
// the base values.
type ModifiersDoc struct {
	ResponseProbability *float64 `yaml:"response_probability"`
	DelayMultiplier     *float64 `yaml:"delay_multiplier"`
	Tone                *string  `yaml:"tone"`
}

// Over returns base with the set fields replaced.
func (d ModifiersDoc) Over(base state.Modifiers) state.Modifiers {
	if d.ResponseProbability != nil {
		base.ResponseProbability = *d.ResponseProbability
	}
	if d.DelayMultiplier != nil {
		base.DelayMultiplier = *d.DelayMultiplier
	}
	if d.Tone != nil {
		base.Tone = *d.Tone
	}
	return base
}

// SharingDoc is one agent's disclosure policy.
type SharingDoc struct {
	AlwaysShares    []string       `yaml:"always_shares"`
	AlwaysWithholds []string       `yaml:"always_withholds"`
	TradesFor       []string       `yaml:"trades_for"`
	ShareThreshold  *int           `yaml:"share_threshold"`
	TradeThreshold  *int           `yaml:"trade_threshold"`
	BaseTrust       map[string]int `yaml:"base_trust"`
	Leak            *LeakDoc       `yaml:"leak"`
}

// LeakDoc configures delayed surfacing of received knowledge.
type LeakDoc struct {
	Delay  DelayDoc `yaml:"delay"`
	Intent string   `yaml:"intent"`
}

// RuleDoc is a ground-truth claim rule.
type RuleDoc struct {
	Pattern string `yaml:"pattern"`
	Truth   bool   `yaml:"truth"`
	Subject string `yaml:"subject"`
}

// TriggerDoc is a named condition with effects and an optional message.
type TriggerDoc struct {
	ID       string          `yaml:"id"`
	Priority int             `yaml:"priority"`
	When     *condition.Spec `yaml:"when"`
	Effects  EffectsDoc      `yaml:"effects"`
	Action   *ActionDoc      `yaml:"action"`
}

// EffectsDoc lists state changes applied when a trigger fires or a story
// event runs.
type EffectsDoc struct {
	Trust      []TrustEffectDoc     `yaml:"trust"`
	Knowledge  []KnowledgeEffectDoc `yaml:"knowledge"`
	Milestones []string             `yaml:"milestones"`
	Deadlines  []string             `yaml:"deadlines"`
	Exposure   []string             `yaml:"exposure_events"`
	HandOff    *HandOffDoc          `yaml:"handoff"`
	Modifiers  []ModifierEffectDoc  `yaml:"modifiers"`
	Introduce  *IntroductionDoc     `yaml:"introduce"`
}

// TrustEffectDoc adjusts one agent's trust.
type TrustEffectDoc struct {
	Agent  string `yaml:"agent"`
	Delta  int    `yaml:"delta"`
	Reason string `yaml:"reason"`
}

// KnowledgeEffectDoc grants the player a fact.
type KnowledgeEffectDoc struct {
	Text     string `yaml:"text"`
	Category string `yaml:"category"`
	Agent    string `yaml:"agent"`
}

// HandOffDoc moves a channel to another agent.
type HandOffDoc struct {
	Channel     string `yaml:"channel"`
	To          string `yaml:"to"`
	Inheritance string `yaml:"inheritance"`
}

// ModifierEffectDoc changes an agent's behavior without changing its stage.
type ModifierEffectDoc struct {
	Agent     string       `yaml:"agent"`
	Modifiers ModifiersDoc `yaml:",inline"`
}

// ActionDoc describes the message a trigger or story event sends.
type ActionDoc struct {
	Agent     string   `yaml:"agent"`
	Channel   string   `yaml:"channel"`
	Intent    string   `yaml:"intent"`
	Delay     DelayDoc `yaml:"delay"`
	Mandatory bool     `yaml:"mandatory"`
}

// StoryEventDoc is a scheduled story beat.
type StoryEventDoc struct {
	ID      string     `yaml:"id"`
	Trigger string     `yaml:"trigger"` // game_start, after, player_action
	After   string     `yaml:"after"`
	On      string     `yaml:"on"` // exposure event type for player_action
	Delay   DelayDoc   `yaml:"delay"`
	Action  *ActionDoc `yaml:"action"`
	Effects EffectsDoc `yaml:"effects"`
}

// ExposureEventDoc is the exposure effect of a classified event type.
type ExposureEventDoc struct {
	Type        string `yaml:"type"`
	Delta       int    `yaml:"delta"`
	Cap         int    `yaml:"cap"`
	Description string `yaml:"description"`
}

// SpawnDoc introduces a new agent once its condition holds.
type SpawnDoc struct {
	ID      string          `yaml:"id"`
	Agent   string          `yaml:"agent"`
	Channel string          `yaml:"channel"`
	Intent  string          `yaml:"intent"`
	When    *condition.Spec `yaml:"when"`
	Delay   DelayDoc        `yaml:"delay"`
}

// EngagementDoc overrides the engagement thresholds and nudges.
type EngagementDoc struct {
	Thresholds     map[string]string      `yaml:"thresholds"`
	Pacing         map[string]float64     `yaml:"pacing"`
	Reengage       map[string]ReengageDoc `yaml:"reengage"`
	ExposureEvents map[string]string      `yaml:"exposure_events"`
}

// ReengageDoc is the nudge sent on entering a tier.
type ReengageDoc struct {
	Agent   string   `yaml:"agent"`
	Channel string   `yaml:"channel"`
	Intent  string   `yaml:"intent"`
	Delay   DelayDoc `yaml:"delay"`
}

// IntroductionDoc makes two agents aware of each other.
type IntroductionDoc struct {
	A      string          `yaml:"a"`
	B      string          `yaml:"b"`
	Reason string          `yaml:"reason"`
	When   *condition.Spec `yaml:"when"`
}

// ConflictDoc declares two claim subjects incompatible.
type ConflictDoc struct {
	Agent   string `yaml:"agent"`
	Subject string `yaml:"subject"`
	With    string `yaml:"with"`
}

// CategoryDoc tags facts containing any keyword with Name. Categories are
// tried in order.
type CategoryDoc struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}
