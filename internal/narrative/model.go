package narrative

import (
	"slices"
	"strings"
	"time"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/condition"
	"argent/internal/engagement"
	"argent/internal/exposure"
	"argent/internal/lifecycle"
	"argent/internal/sharing"
	"argent/internal/state"
)

// Agent is a compiled character definition.
type Agent struct {
	Profile    assembler.Profile
	Channel    string
	Goal       string
	ReplyDelay action.DelayRange
}

// Template is the message a trigger or story event sends.
type Template struct {
	AgentID   string
	Channel   string
	Intent    string
	Delay     action.DelayRange
	Mandatory bool
}

// Action builds the queued action for playerID.
func (t Template) Action(kind action.Kind, playerID, source string) action.Action {
	a := action.New(kind, playerID, t.AgentID, t.Intent, source)
	a.Channel = t.Channel
	a.Delay = t.Delay
	a.Mandatory = t.Mandatory
	return a
}

// Effects are the state changes of a fired trigger or a story event.
type Effects struct {
	Trust      []TrustEffect
	Knowledge  []state.KnowledgeFact
	Milestones []string
	Deadlines  []string
	Exposure   []string
	HandOff    *state.HandOffChannel
	Modifiers  []state.SetModifiers
	Introduce  *sharing.Introduction
}

// TrustEffect is one trust adjustment.
type TrustEffect struct {
	AgentID string
	Delta   int
	Reason  string
}

// Empty reports whether the effects change nothing.
func (e Effects) Empty() bool {
	return len(e.Trust) == 0 && len(e.Knowledge) == 0 && len(e.Milestones) == 0 &&
		len(e.Deadlines) == 0 && len(e.Exposure) == 0 && e.HandOff == nil &&
		len(e.Modifiers) == 0 && e.Introduce == nil
}

// Deltas renders the effects as deltas stamped at now. Exposure events and
// introductions are not included: they go through their evaluators.
func (e Effects) Deltas(now time.Time, messageID string) []state.Delta {
	var out []state.Delta
	for _, t := range e.Trust {
		d := state.Trust(t.AgentID, t.Delta, t.Reason, messageID)
		d.At = now
		out = append(out, d)
	}
	for _, f := range e.Knowledge {
		d := state.Knowledge(f.Text, f.Category, f.SourceAgent)
		d.Fact.At = now
		out = append(out, d)
	}
	for _, m := range e.Milestones {
		out = append(out, state.ReachMilestone{ID: m, At: now})
	}
	for _, id := range e.Deadlines {
		out = append(out, state.PassDeadline{ID: id, At: now})
	}
	if e.HandOff != nil {
		h := *e.HandOff
		h.At = now
		out = append(out, h)
	}
	for _, m := range e.Modifiers {
		out = append(out, m)
	}
	return out
}

// Trigger is a compiled trigger with what it does.
type Trigger struct {
	condition.Trigger
	Effects Effects
	Action  *Template
}

// EventKind says when a story event runs.
type EventKind string

const (
	EventGameStart    EventKind = "game_start"
	EventAfter        EventKind = "after"
	EventPlayerAction EventKind = "player_action"
)

// StoryEvent is a compiled story beat. Each runs at most once per player;
// running it reaches the milestone named by MilestoneID.
type StoryEvent struct {
	ID      string
	Kind    EventKind
	After   string
	On      string
	Delay   action.DelayRange
	Action  *Template
	Effects Effects
}

// MilestoneID is the milestone recorded when the event runs.
func (e StoryEvent) MilestoneID() string { return "event:" + e.ID }

// Category maps keywords to a knowledge category.
type Category struct {
	Name     string
	Keywords []string
}

// Model is the compiled, read-only narrative.
type Model struct {
	Agents        []Agent
	Triggers      []Trigger
	StoryEvents   []StoryEvent
	Lifecycle     *lifecycle.Machine
	Exposure      *exposure.Evaluator
	Sharing       *sharing.Evaluator
	Engagement    engagement.Policy
	ClaimRules    []claims.Rule
	Conflicts     []claims.Conflict
	Categories    []Category
	Introductions []sharing.Introduction

	agents map[string]int
}

// Agent returns the agent with id.
func (m *Model) Agent(id string) (Agent, bool) {
	i, ok := m.agents[id]
	if !ok {
		return Agent{}, false
	}
	return m.Agents[i], true
}

// AgentIDs lists agents in declaration order.
func (m *Model) AgentIDs() []string {
	out := make([]string, len(m.Agents))
	for i, a := range m.Agents {
		out[i] = a.Profile.ID
	}
	return out
}

// ConditionTriggers returns the bare triggers for condition.Evaluate.
func (m *Model) ConditionTriggers() []condition.Trigger {
	out := make([]condition.Trigger, len(m.Triggers))
	for i, t := range m.Triggers {
		out[i] = t.Trigger
	}
	return out
}

// Trigger returns the trigger with id.
func (m *Model) Trigger(id string) (Trigger, bool) {
	for _, t := range m.Triggers {
		if t.ID == id {
			return t, true
		}
	}
	return Trigger{}, false
}

// StoryEvent returns the event with id.
func (m *Model) StoryEvent(id string) (StoryEvent, bool) {
	for _, e := range m.StoryEvents {
		if e.ID == id {
			return e, true
		}
	}
	return StoryEvent{}, false
}

// EventsOn returns events of kind, filtered by key: the preceding event
// for EventAfter, the player action type for EventPlayerAction.
func (m *Model) EventsOn(kind EventKind, key string) []StoryEvent {
	var out []StoryEvent
	for _, e := range m.StoryEvents {
		if e.Kind != kind {
			continue
		}
		switch kind {
		case EventAfter:
			if e.After != key {
				continue
			}
		case EventPlayerAction:
			if e.On != key {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// InferCategory tags a fact the caller did not categorize: the first
// category whose keyword appears in the text, then an agent named in the
// text, then "general".
func (m *Model) InferCategory(text string) string {
	lower := strings.ToLower(text)
	for _, c := range m.Categories {
		for _, k := range c.Keywords {
			if strings.Contains(lower, strings.ToLower(k)) {
				return c.Name
			}
		}
	}
	if named := m.MentionedAgents(text, ""); len(named) > 0 {
		return "agent"
	}
	return "general"
}

// MentionedAgents returns the agents whose id or name appears as a word in
// text, excluding except.
func (m *Model) MentionedAgents(text, except string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	})
	joined := " " + strings.Join(words, " ") + " "
	var out []string
	for _, a := range m.Agents {
		id := a.Profile.ID
		if id == except {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(a.Profile.Name))
		if slices.Contains(words, strings.ToLower(id)) ||
			(name != "" && strings.Contains(joined, " "+name+" ")) {
			out = append(out, id)
		}
	}
	return out
}
