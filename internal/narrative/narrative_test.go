package narrative

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argent/internal/action"
	"argent/internal/faults"
	"argent/internal/state"
)

const minimal = `
agents:
  - id: ember
    name: Ember
    channel: email
  - id: miro
    channel: sms
exposure_events:
  - {type: used_key, delta: 30}
triggers:
  - id: warn
    when: {field: trust.ember, op: "<=", value: -10}
    action: {agent: ember, intent: warn them, delay: {min: 1m, max: 5m}}
story_events:
  - id: first
    trigger: game_start
    action: {agent: ember, intent: hello}
  - id: second
    trigger: after
    after: first
    delay: {min: 4h, max: 6h}
    action: {agent: miro, intent: hi}
  - id: opened
    trigger: player_action
    on: used_key
    effects: {milestones: [key_used]}
knowledge_categories:
  - {name: key, keywords: [key, code]}
`

func TestShippedNarrativeCompiles(t *testing.T) {
	m, err := Load("../../narrative.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"ember", "miro", "kessler"}, m.AgentIDs())
	assert.Len(t, m.StoryEvents, 3)
	assert.NotNil(t, m.Lifecycle)
	assert.NotNil(t, m.Exposure)
	assert.NotNil(t, m.Sharing)
	assert.Equal(t, []string{"asked_about_project", "forwarded_message", "used_key", "went_quiet"}, m.Exposure.Types())
	assert.Len(t, m.ClaimRules, 2)
}

func TestParseMinimal(t *testing.T) {
	m, err := Parse([]byte(minimal))
	require.NoError(t, err)

	a, ok := m.Agent("miro")
	require.True(t, ok)
	assert.Equal(t, "miro", a.Profile.Name, "name defaults to id")

	tr, ok := m.Trigger("warn")
	require.True(t, ok)
	require.NotNil(t, tr.Action)
	assert.Equal(t, action.DelayRange{Min: time.Minute, Max: 5 * time.Minute}, tr.Action.Delay)

	after := m.EventsOn(EventAfter, "first")
	require.Len(t, after, 1)
	assert.Equal(t, "second", after[0].ID)
	assert.Equal(t, 4*time.Hour, after[0].Delay.Min)

	acts := m.EventsOn(EventPlayerAction, "used_key")
	require.Len(t, acts, 1)
	assert.Equal(t, "event:opened", acts[0].MilestoneID())
	assert.Empty(t, m.EventsOn(EventPlayerAction, "other"))
}

func TestCompileCollectsEveryError(t *testing.T) {
	src := `
agents:
  - id: ember
    channel: email
    lifecycle:
      guards:
        engaged: {always: true}
        cooling: {field: trust.nobody, op: "<=", value: 1}
      modifiers:
        silent: {response_probability: 2}
    claim_rules:
      - pattern: "(unclosed"
  - id: ember
triggers:
  - id: t1
    when: {milestone: m}
    action: {agent: ghost, intent: x}
  - id: t1
    when: {milestone: m}
story_events:
  - id: e1
    trigger: after
    after: nowhere
  - id: e2
    trigger: sometimes
spawns:
  - id: s1
    agent: ember
engagement:
  thresholds: {casual: 10d, dormant: 5d}
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))

	var list faults.ValidationErrors
	require.True(t, errors.As(err, &list))
	msg := err.Error()
	for _, want := range []string{
		"duplicate agent id",
		"not a stage an agent can enter",
		`unknown agent "nobody"`,
		"response probability",
		"invalid pattern",
		`unknown agent "ghost"`,
		"duplicate trigger id",
		`unknown preceding event "nowhere"`,
		`unknown trigger "sometimes"`,
		"condition is required",
		"dormant must come after casual",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestPartialModifiersKeepDefaults(t *testing.T) {
	doc := `
agents:
  - id: ember
    channel: email
    lifecycle:
      modifiers:
        cooling: {tone: clipped}
        silent: {delay_multiplier: 8}
exposure_events:
  - {type: used_key, delta: 30}
story_events:
  - id: opened
    trigger: player_action
    on: used_key
    effects:
      modifiers:
        - {agent: ember, tone: wary}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	p, ok := m.Lifecycle.Policy("ember")
	require.True(t, ok)
	tests := []struct {
		stage state.Stage
		want  state.Modifiers
	}{
		{state.StageCooling, state.Modifiers{ResponseProbability: 1, DelayMultiplier: 2, Tone: "clipped"}},
		{state.StageSilent, state.Modifiers{ResponseProbability: 0.25, DelayMultiplier: 8, Tone: "cold"}},
		{state.StageEngaged, state.Modifiers{ResponseProbability: 1, DelayMultiplier: 1, Tone: "warm"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			assert.Equal(t, tt.want, p.ModifiersFor(tt.stage))
		})
	}

	evs := m.EventsOn(EventPlayerAction, "used_key")
	require.Len(t, evs, 1)
	assert.Equal(t, []state.SetModifiers{{AgentID: "ember", Modifiers: state.Modifiers{ResponseProbability: 1, DelayMultiplier: 1, Tone: "wary"}}}, evs[0].Effects.Modifiers)
}

func TestUnknownFieldsRejected(t *testing.T) {
	_, err := Parse([]byte("agents:\n  - id: ember\n    channel: email\n    mood: grumpy\n"))
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))
}

func TestStoryEventCycle(t *testing.T) {
	src := `
agents: [{id: ember, channel: email}]
story_events:
  - {id: a, trigger: after, after: b}
  - {id: b, trigger: after, after: a}
`
	_, err := Parse([]byte(src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestInferCategory(t *testing.T) {
	m, err := Parse([]byte(minimal))
	require.NoError(t, err)

	tests := []struct {
		text string
		want string
	}{
		{"The access KEY is 4471", "key"},
		{"The door code changed", "key"},
		{"Ember used to work there", "agent"},
		{"It rains on Thursdays", "general"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, m.InferCategory(tt.text))
		})
	}
}

func TestMentionedAgents(t *testing.T) {
	m, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, []string{"miro"}, m.MentionedAgents("Have you talked to Miro?", "ember"))
	assert.Equal(t, []string{"ember", "miro"}, m.MentionedAgents("ember and miro both lie", ""))
	assert.Empty(t, m.MentionedAgents("embers are warm", ""))
}

func TestEffectsDeltas(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	e := Effects{
		Trust:      []TrustEffect{{AgentID: "ember", Delta: -5, Reason: "r"}},
		Knowledge:  []state.KnowledgeFact{{Text: "f", Category: "key"}},
		Milestones: []string{"m"},
		Deadlines:  []string{"d"},
		HandOff:    &state.HandOffChannel{Channel: "email", To: "miro", Inheritance: state.InheritFull},
		Modifiers:  []state.SetModifiers{{AgentID: "ember", Modifiers: state.Modifiers{ResponseProbability: 1, DelayMultiplier: 1}}},
	}
	assert.False(t, e.Empty())
	assert.True(t, Effects{}.Empty())

	ds := e.Deltas(at, "msg1")
	require.Len(t, ds, 6)
	trust := ds[0].(state.AdjustTrust)
	assert.Equal(t, "msg1", trust.MessageID)
	assert.Equal(t, at, trust.At)
	assert.NotEmpty(t, trust.EventID)
	assert.Equal(t, at, ds[4].(state.HandOffChannel).At)
}
