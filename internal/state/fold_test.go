package state

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newPlayer(t *testing.T, agents ...string) *Snapshot {
	t.Helper()
	deltas := []Delta{InitPlayer{PlayerID: "p1"}, StartGame{}}
	for _, a := range agents {
		deltas = append(deltas, InitTrust{AgentID: a})
	}
	s, err := Fold(Empty("p1"), deltas, t0)
	require.NoError(t, err)
	return s
}

func TestTrustDeltaScenario(t *testing.T) {
	s := newPlayer(t, "ember")
	require.Equal(t, 0, s.TrustScore("ember"))

	next, err := Fold(s, []Delta{Trust("ember", -15, "disagreed with Ember", "m1")}, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Equal(t, -15, next.TrustScore("ember"))
	require.Len(t, next.TrustEvents, 1)
	assert.Equal(t, "disagreed with Ember", next.TrustEvents[0].Reason)
	assert.Equal(t, "m1", next.TrustEvents[0].MessageID)
	assert.Equal(t, 1, next.Trust["ember"].Interactions)
	assert.Empty(t, next.Lifecycle)
	assert.Equal(t, s.Version+1, next.Version)
}

func TestTrustAlwaysClamped(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	s := newPlayer(t, "ember", "miro")
	for i := 0; i < 500; i++ {
		agent := []string{"ember", "miro"}[r.IntN(2)]
		var err error
		s, err = Fold(s, []Delta{Trust(agent, r.IntN(161)-80, "fuzz", "")}, t0)
		require.NoError(t, err)
		for a, rec := range s.Trust {
			require.GreaterOrEqual(t, rec.Score, TrustMin, a)
			require.LessOrEqual(t, rec.Score, TrustMax, a)
		}
	}
}

func TestZeroTrustDeltaIsNoop(t *testing.T) {
	s := newPlayer(t, "ember")
	next, err := Fold(s, []Delta{Trust("ember", 0, "shrug", "")}, t0)
	require.NoError(t, err)
	assert.Empty(t, next.TrustEvents)
	assert.Equal(t, 0, next.Trust["ember"].Interactions)
}

func TestOrderIsDeclared(t *testing.T) {
	in := []Delta{
		AdvanceEngagement{To: TierCasual},
		AdjustExposure{EventType: "key_used", Delta: 30},
		TransitionLifecycle{AgentID: "miro", To: StageCooling, Modifiers: Modifiers{ResponseProbability: 1, DelayMultiplier: 2}},
		ReachMilestone{ID: "m"},
		Knowledge("the key opens a dashboard", "key", "ember"),
		Trust("ember", 5, "a", ""),
		Trust("ember", -3, "b", ""),
	}
	var kinds []Kind
	for _, d := range Order(in) {
		kinds = append(kinds, d.Kind())
	}
	assert.Equal(t, []Kind{KindTrust, KindTrust, KindKnowledge, KindMilestone, KindLifecycle, KindExposure, KindEngagement}, kinds)

	ordered := Order(in)
	assert.Equal(t, "a", ordered[0].(AdjustTrust).Reason, "same kind keeps proposal order")
}

func TestBatchIsAllOrNothing(t *testing.T) {
	s := newPlayer(t, "miro")
	s, err := Fold(s, []Delta{TransitionLifecycle{AgentID: "miro", To: StageSilent, Modifiers: Modifiers{ResponseProbability: 0.2, DelayMultiplier: 4}}}, t0)
	require.NoError(t, err)

	_, err = Fold(s, []Delta{
		Trust("miro", 10, "apology", ""),
		TransitionLifecycle{AgentID: "miro", To: StageCooling, Modifiers: Modifiers{ResponseProbability: 1, DelayMultiplier: 1}},
	}, t0)
	require.ErrorIs(t, err, ErrBackwardTransition)

	assert.Equal(t, 0, s.TrustScore("miro"), "base snapshot untouched")
	assert.Empty(t, s.TrustEvents)
}

func TestLifecycleForwardOnly(t *testing.T) {
	s := newPlayer(t, "ember")
	mods := Modifiers{ResponseProbability: 1, DelayMultiplier: 1}

	var err error
	for _, st := range []Stage{StageCooling, StageCooling, StageGone} {
		s, err = Fold(s, []Delta{TransitionLifecycle{AgentID: "ember", To: st, Modifiers: mods}}, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, StageGone, s.Stage("ember"))

	_, err = Fold(s, []Delta{TransitionLifecycle{AgentID: "ember", To: StageSilent, Modifiers: mods}}, t0)
	assert.ErrorIs(t, err, ErrTerminalStage)

	s2, err := Fold(s, []Delta{SetModifiers{AgentID: "ember", Modifiers: Modifiers{ResponseProbability: 0.5, DelayMultiplier: 2}}}, t0)
	require.NoError(t, err)
	assert.Equal(t, mods, s2.Lifecycle["ember"].Modifiers, "gone ignores modifier changes")
}

func TestExposureClampAndCap(t *testing.T) {
	s := newPlayer(t)
	s, err := Fold(s, []Delta{AdjustExposure{EventType: "seed", Delta: 45}}, t0)
	require.NoError(t, err)

	s, err = Fold(s, []Delta{AdjustExposure{EventType: "key_used", Delta: 30}}, t0)
	require.NoError(t, err)
	assert.Equal(t, 75, s.World.Exposure)

	for i := 0; i < 5; i++ {
		s, err = Fold(s, []Delta{AdjustExposure{EventType: "lurking", Delta: 5, Cap: 15}}, t0)
		require.NoError(t, err)
	}
	assert.Equal(t, 90, s.World.Exposure, "capped at +15 total")

	s, err = Fold(s, []Delta{AdjustExposure{EventType: "key_used", Delta: 30}}, t0)
	require.NoError(t, err)
	assert.Equal(t, ExposureMax, s.World.Exposure)

	s, err = Fold(s, []Delta{AdjustExposure{EventType: "silence", Delta: -250}}, t0)
	require.NoError(t, err)
	assert.Equal(t, ExposureMin, s.World.Exposure)
}

func TestEngagementMonotonicUntilInbound(t *testing.T) {
	s := newPlayer(t)
	s, err := Fold(s, []Delta{AdvanceEngagement{To: TierDormant, Attempted: true}}, t0)
	require.NoError(t, err)
	s, err = Fold(s, []Delta{AdvanceEngagement{To: TierCasual, Attempted: true}}, t0)
	require.NoError(t, err)
	assert.Equal(t, TierDormant, s.Engagement.Tier)
	assert.Equal(t, 1, s.Engagement.Attempts)

	s, err = Fold(s, []Delta{RecordInbound{AgentID: "ember", MessageID: "m"}}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, TierActive, s.Engagement.Tier)
	assert.Equal(t, 0, s.Engagement.Attempts)
	assert.Equal(t, t0.Add(time.Hour), s.Engagement.LastInbound)
	assert.Equal(t, 1, s.Engagement.MessageCounts["ember"])
}

func TestMilestoneAndFiringIdempotent(t *testing.T) {
	s := newPlayer(t)
	s, err := Fold(s, []Delta{ReachMilestone{ID: "first_contact"}, RecordFiring{TriggerID: "t1"}}, t0)
	require.NoError(t, err)
	s2, err := Fold(s, []Delta{ReachMilestone{ID: "first_contact"}, RecordFiring{TriggerID: "t1"}}, t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, t0, s2.Milestones["first_contact"].ReachedAt)
	assert.Equal(t, t0, s2.Firings["t1"].FiredAt)
	assert.Len(t, s2.Firings, 1)
}

func TestClaimsAndContradictionLink(t *testing.T) {
	s := newPlayer(t)
	first := Claim{ID: "c1", AgentID: "ember", Text: "I deleted the key", Subject: "delete key", Type: ClaimAction, Significance: SignificanceHigh}
	second := Claim{ID: "c2", AgentID: "ember", Text: "I never deleted the key", Subject: "delete key", Negated: true, Type: ClaimAction, Significance: SignificanceHigh, ContradictedBy: "c1"}

	s, err := Fold(s, []Delta{RecordClaim{Claim: first}, RecordClaim{Claim: second}}, t0)
	require.NoError(t, err)
	c2, ok := s.Claim("c2")
	require.True(t, ok)
	assert.Equal(t, "c1", c2.ContradictedBy)

	_, err = Fold(s, []Delta{RecordClaim{Claim: Claim{AgentID: "ember", Text: "x", ContradictedBy: "missing"}}}, t0)
	assert.ErrorIs(t, err, ErrNotFound)

	s, err = Fold(s, []Delta{LinkContradiction{ClaimID: "c1", ContradictedBy: "c2"}}, t0)
	require.NoError(t, err)
	s, err = Fold(s, []Delta{LinkContradiction{ClaimID: "c1", ContradictedBy: "c1"}}, t0)
	require.NoError(t, err)
	c1, _ := s.Claim("c1")
	assert.Equal(t, "c2", c1.ContradictedBy, "first link wins")
}

func TestChannelHandOff(t *testing.T) {
	s := newPlayer(t)
	s, err := Fold(s, []Delta{HandOffChannel{Channel: "sms", To: "miro", Inheritance: InheritNone}}, t0)
	require.NoError(t, err)
	s, err = Fold(s, []Delta{HandOffChannel{Channel: "sms", To: "ember", Inheritance: InheritPartial}}, t0)
	require.NoError(t, err)
	s, err = Fold(s, []Delta{HandOffChannel{Channel: "sms", To: "ember", Inheritance: InheritFull}}, t0)
	require.NoError(t, err)

	c := s.Channels["sms"]
	assert.Equal(t, "ember", c.Owner)
	assert.Equal(t, []string{"miro"}, c.Previous)
	assert.Equal(t, InheritPartial, c.Inheritance, "same owner is a no-op")
}

func TestExchangeExtendsReceiverKnowledge(t *testing.T) {
	s := newPlayer(t)
	fact := Knowledge("the dashboard logs every login", "dashboard", "ember")
	s, err := Fold(s, []Delta{fact}, t0)
	require.NoError(t, err)

	x := InterAgentExchange{ID: "x1", From: "ember", To: "miro", Reason: "forwarded", Shared: []string{fact.Fact.ID}}
	s, err = Fold(s, []Delta{MarkAware{A: "miro", B: "ember"}, RecordExchange{Exchange: x}}, t0)
	require.NoError(t, err)

	assert.True(t, s.Aware("ember", "miro"))
	got := s.AvailableKnowledge("miro")
	require.Len(t, got, 1)
	assert.Equal(t, fact.Fact.ID, got[0].ID)

	s, err = Fold(s, []Delta{SurfaceExchange{ExchangeID: "x1"}}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, s.Exchanges[0].Surfaced)

	_, err = Fold(s, []Delta{SurfaceExchange{ExchangeID: "nope"}}, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeltaOnMissingPlayer(t *testing.T) {
	_, err := Fold(Empty("p1"), []Delta{Trust("ember", 1, "r", "")}, t0)
	assert.True(t, errors.Is(err, ErrNoPlayer))
}

func TestCloneIsDeep(t *testing.T) {
	s := newPlayer(t, "ember")
	s, err := Fold(s, []Delta{
		HandOffChannel{Channel: "email", To: "ember", Inheritance: InheritFull},
		RecordExchange{Exchange: InterAgentExchange{ID: "x", From: "ember", To: "miro", Shared: []string{"f"}}},
	}, t0)
	require.NoError(t, err)

	c := s.Clone()
	require.Empty(t, cmp.Diff(s, c))

	c.AgentKnowledge["miro"][0] = "mutated"
	c.Trust["ember"] = TrustRecord{Score: 99}
	assert.Equal(t, "f", s.AgentKnowledge["miro"][0])
	assert.Equal(t, 0, s.TrustScore("ember"))
}

func TestPreviewKeepsVersion(t *testing.T) {
	s := newPlayer(t)
	p, err := Preview(s, []Delta{AdjustExposure{EventType: "x", Delta: 10}}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, s.Version, p.Version)
	assert.Equal(t, 10, p.World.Exposure)
	assert.Equal(t, 0, s.World.Exposure)
}

func TestEncodeCarriesKind(t *testing.T) {
	b, err := Encode(ReachMilestone{ID: "m1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"milestone","data":{"id":"m1","at":"0001-01-01T00:00:00Z"}}`, string(b))
}
