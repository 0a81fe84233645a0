package condition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"argent/internal/faults"
	"argent/internal/state"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(t *testing.T, deltas ...state.Delta) *state.Snapshot {
	t.Helper()
	base := []state.Delta{state.InitPlayer{PlayerID: "p1", At: t0}, state.StartGame{At: t0}}
	s, err := state.Fold(state.Empty("p1"), append(base, deltas...), t0)
	require.NoError(t, err)
	return s
}

func compileYAML(t *testing.T, src string) Expr {
	t.Helper()
	var spec Spec
	require.NoError(t, yaml.Unmarshal([]byte(src), &spec))
	expr, err := Compiler{Source: "trigger", ID: "test", Agents: map[string]bool{"ember": true, "miro": true}}.Compile(&spec, "")
	require.NoError(t, err)
	return expr
}

func TestFieldComparisons(t *testing.T) {
	snap := snapshot(t,
		state.Trust("ember", -55, "betrayal", "m1"),
		state.AdjustExposure{EventType: "key_used", Delta: 30},
		state.ReachMilestone{ID: "first_contact"},
		state.Knowledge("The key opens the Kessler vault", "key", "ember"),
		state.TransitionLifecycle{AgentID: "miro", To: state.StageCooling, Modifiers: state.Modifiers{ResponseProbability: 1, DelayMultiplier: 2}},
	)
	env := Env{Snap: snap, Now: t0.Add(4 * 24 * time.Hour)}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"trust at threshold", "{field: trust.ember, op: '<=', value: -50}", true},
		{"trust of untouched agent is zero", "{field: trust.miro, op: '==', value: 0}", true},
		{"exposure", "{field: exposure, op: gte, value: 30}", true},
		{"interactions", "{field: interactions.ember, op: '==', value: 1}", true},
		{"lifecycle rank", "{field: lifecycle.miro, op: '>=', value: cooling}", true},
		{"lifecycle default engaged", "{field: lifecycle.ember, op: '==', value: engaged}", true},
		{"engagement tier", "{field: engagement, op: '==', value: active}", true},
		{"days in state since game start", "{field: days_in_state.ember, op: '>=', value: 3}", true},
		{"days in state since transition", "{field: days_in_state.miro, op: '<', value: 5}", true},
		{"unrecorded agent trust is false", "{field: agent_trust.ember.miro, op: '>=', value: -100}", false},
		{"milestone", "{milestone: first_contact}", true},
		{"missing milestone", "{milestone: key_used}", false},
		{"knowledge is case-insensitive", "{knowledge_contains: KESSLER VAULT}", true},
		{"knowledge absent", "{knowledge_contains: dashboard}", false},
		{"always", "{always: true}", true},
		{"nested", `
all:
  - field: trust.ember
    op: "<"
    value: 0
  - any:
      - milestone: nope
      - not: {spawned: kessler}
`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compileYAML(t, tt.src).Eval(env))
		})
	}
}

func TestTimeSince(t *testing.T) {
	snap := snapshot(t, state.ReachMilestone{ID: "first_contact", At: t0})

	expr := compileYAML(t, `{time_since: {event: "milestone:first_contact", op: ">=", duration: 3d}}`)
	assert.False(t, expr.Eval(Env{Snap: snap, Now: t0.Add(71 * time.Hour)}))
	assert.True(t, expr.Eval(Env{Snap: snap, Now: t0.Add(72 * time.Hour)}))

	absent := compileYAML(t, `{time_since: {event: "milestone:never", op: ">=", duration: 0s}}`)
	assert.False(t, absent.Eval(Env{Snap: snap, Now: t0.Add(time.Hour)}), "absent events never satisfy")

	inbound := compileYAML(t, `{time_since: {event: last_inbound, op: ">", duration: 1h}}`)
	assert.False(t, inbound.Eval(Env{Snap: snap, Now: t0.Add(48 * time.Hour)}))
}

func TestCompileRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty", "{}", "empty condition"},
		{"mixed kinds", "{milestone: a, spawned: b}", "mixes 2"},
		{"bad op", "{field: exposure, op: '~', value: 1}", "unknown operator"},
		{"unknown field", "{field: mood, op: '==', value: 1}", "unknown field"},
		{"unknown agent", "{field: trust.kessler, op: '==', value: 1}", "unknown agent"},
		{"string for number", "{field: exposure, op: '>', value: high}", "numeric value"},
		{"bad stage", "{field: lifecycle.miro, op: '==', value: sulking}", "lifecycle stage"},
		{"bad duration", "{time_since: {event: game_start, op: '>', duration: soon}}", "invalid duration"},
		{"bad event", "{time_since: {event: birthday, op: '>', duration: 1h}}", "unknown event"},
		{"empty all", "{all: []}", "at least one operand"},
		{"lifecycle event without agent", "{time_since: {event: lifecycle, op: '>=', duration: 3d}}", "missing agent id"},
		{"lifecycle event unknown agent", "{time_since: {event: 'lifecycle:kessler', op: '>=', duration: 3d}}", "unknown agent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var spec Spec
			require.NoError(t, yaml.Unmarshal([]byte(tt.src), &spec))
			_, err := Compiler{Source: "trigger", ID: "t1", Agents: map[string]bool{"miro": true}}.Compile(&spec, "")
			require.Error(t, err)
			assert.True(t, faults.IsValidation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompileCollectsEveryError(t *testing.T) {
	var spec Spec
	require.NoError(t, yaml.Unmarshal([]byte(`
all:
  - {field: mood, op: '==', value: 1}
  - {field: exposure, op: '~', value: 1}
`), &spec))
	_, err := Compile(&spec)
	var errs faults.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "condition.all[0].field")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("1.5d")
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	d, err = ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	_, err = ParseDuration("-2d")
	assert.Error(t, err)
}

func TestTriggerRisingEdge(t *testing.T) {
	trig := Trigger{ID: "miro_warning", When: compileYAML(t, "{field: trust.miro, op: '<=', value: -50}")}
	snap := snapshot(t)
	now := t0.Add(time.Hour)

	res := Evaluate([]Trigger{trig}, Env{Snap: snap, Now: now})
	assert.Empty(t, res.Fired)
	assert.Empty(t, res.Deltas, "false and never true records nothing")

	snap, err := state.Fold(snap, []state.Delta{state.Trust("miro", -60, "lied", "m2")}, now)
	require.NoError(t, err)

	res = Evaluate([]Trigger{trig}, Env{Snap: snap, Now: now})
	require.Len(t, res.Fired, 1)
	snap, err = state.Fold(snap, res.Deltas, now)
	require.NoError(t, err)
	assert.True(t, snap.HasFired("miro_warning"))

	again := Evaluate([]Trigger{trig}, Env{Snap: snap, Now: now})
	assert.Empty(t, again.Fired, "already-true condition must not refire")
	assert.Empty(t, again.Deltas)

	// falling and rising again still never refires
	snap, err = state.Fold(snap, []state.Delta{state.Trust("miro", 30, "apology", "m3")}, now)
	require.NoError(t, err)
	res = Evaluate([]Trigger{trig}, Env{Snap: snap, Now: now})
	snap, err = state.Fold(snap, res.Deltas, now)
	require.NoError(t, err)
	assert.False(t, snap.Edge(EdgeKey("miro_warning")))

	snap, err = state.Fold(snap, []state.Delta{state.Trust("miro", -40, "lied again", "m4")}, now)
	require.NoError(t, err)
	res = Evaluate([]Trigger{trig}, Env{Snap: snap, Now: now})
	assert.Empty(t, res.Fired)
	assert.Len(t, snap.Firings, 1)
}

func TestTriggerPriorityOrder(t *testing.T) {
	always := compileYAML(t, "{always: true}")
	triggers := []Trigger{
		{ID: "low", Priority: 1, When: always},
		{ID: "high_a", Priority: 10, When: always},
		{ID: "high_b", Priority: 10, When: always},
		{ID: "mid", Priority: 5, When: always},
	}
	res := Evaluate(triggers, Env{Snap: snapshot(t), Now: t0})

	var ids []string
	for _, f := range res.Fired {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"high_a", "high_b", "mid", "low"}, ids)
}
