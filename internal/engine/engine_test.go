package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/convcache"
	"argent/internal/delivery"
	"argent/internal/faults"
	"argent/internal/llm"
	"argent/internal/narrative"
	"argent/internal/scheduler"
	"argent/internal/state"
	"argent/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started by an init() in a transitive dependency (genai -> cloud auth -> opencensus), not by engine code.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const story = `
agents:
  - id: ember
    name: Ember
    channel: email
    goal: Get the player to delete the key.
    reply_delay: {min: 1m, max: 2m}
    lifecycle:
      guards:
        cooling: {field: trust.ember, op: "<=", value: -50}
        gone: {milestone: betrayed}
      modifiers:
        cooling: {response_probability: 1, delay_multiplier: 2, tone: guarded}
      signals:
        cooling: Pull back from the player.
    sharing:
      always_shares: [key]
  - id: miro
    name: Miro
    channel: sms
    sharing:
      leak:
        delay: {min: 1h, max: 1h}
        intent: Let slip what Ember told you.
  - id: kessler
    name: Kessler
    channel: email

exposure_events:
  - {type: used_key, delta: 30}
  - {type: forwarded_message, delta: 40}

spawns:
  - id: kessler_notices
    agent: kessler
    when: {field: exposure, op: ">=", value: 60}

triggers:
  - id: betrayal
    when: {field: trust.ember, op: "<=", value: -90}
    effects: {milestones: [betrayed]}

story_events:
  - id: first_contact
    trigger: game_start
    action: {agent: ember, intent: Send the first email., mandatory: true}
  - id: follow_up
    trigger: after
    after: first_contact
    delay: {min: 4h, max: 6h}
    action: {agent: miro, intent: Text the player., mandatory: true}
  - id: dashboard_opened
    trigger: player_action
    on: used_key
    effects: {milestones: [key_used]}

knowledge_categories:
  - {name: key, keywords: [key]}
`

// =============================================================================
// FAKES
// =============================================================================

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeGenerator struct {
	mu      sync.Mutex
	script  []string // the last entry repeats
	bundles []assembler.Bundle
}

func (g *fakeGenerator) Generate(_ context.Context, b assembler.Bundle) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bundles = append(g.bundles, b)
	if len(g.script) == 0 {
		return b.AgentID + " writes back.", nil
	}
	text := g.script[0]
	if len(g.script) > 1 {
		g.script = g.script[1:]
	}
	return text, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.bundles)
}

func (g *fakeGenerator) bundle(i int) assembler.Bundle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bundles[i]
}

type fakeExtractor struct {
	byText map[string][]claims.Candidate
}

func (x *fakeExtractor) Extract(_ context.Context, _ string, text string) ([]claims.Candidate, error) {
	return x.byText[text], nil
}

type fakeClassifier struct {
	mu   sync.Mutex
	next llm.Classification
	err  error
	seen []llm.Exchange
}

func (c *fakeClassifier) Classify(_ context.Context, x llm.Exchange) (llm.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, x)
	if c.err != nil {
		return llm.Neutral("unavailable"), c.err
	}
	return c.next, nil
}

func (c *fakeClassifier) set(cl llm.Classification) {
	c.mu.Lock()
	c.next = cl
	c.mu.Unlock()
}

// switchSender fails while down is set.
type switchSender struct {
	down  atomic.Bool
	inner *delivery.LogSender
}

func (s *switchSender) Send(ctx context.Context, msg delivery.Outbound) (string, error) {
	if s.down.Load() {
		return "", errors.New("gateway unavailable")
	}
	return s.inner.Send(ctx, msg)
}

// recorder keeps every scheduled job.
type recorder struct {
	scheduler.Scheduler
	mu   sync.Mutex
	jobs []scheduler.Job
}

func (r *recorder) Schedule(ctx context.Context, job scheduler.Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()
	return r.Scheduler.Schedule(ctx, job)
}

func (r *recorder) actions(t *testing.T, kind action.Kind) []action.Action {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []action.Action
	for _, j := range r.jobs {
		if j.Kind != scheduler.KindAction && j.Kind != scheduler.KindRetryAction {
			continue
		}
		a, err := action.Decode(j)
		require.NoError(t, err)
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (r *recorder) byID(id string) (scheduler.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.jobs) - 1; i >= 0; i-- {
		if r.jobs[i].ID == id {
			return r.jobs[i], true
		}
	}
	return scheduler.Job{}, false
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	eng    *Engine
	store  *store.Memory
	sched  *recorder
	runner *scheduler.Runner
	sender *switchSender
	sent   *delivery.LogSender
	gen    *fakeGenerator
	ext    *fakeExtractor
	cls    *fakeClassifier
	clock  *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	model, err := narrative.Parse([]byte(story))
	require.NoError(t, err)

	st := store.NewMemory()
	sched := &recorder{Scheduler: scheduler.NewMemory()}
	sent := &delivery.LogSender{}
	sender := &switchSender{inner: sent}
	gw := delivery.NewDispatcher(delivery.ChannelWeb)
	for _, ch := range []string{"email", "sms", delivery.ChannelWeb} {
		gw.Register(ch, sender)
	}

	h := &harness{
		store:  st,
		sched:  sched,
		sender: sender,
		sent:   sent,
		gen:    &fakeGenerator{},
		ext:    &fakeExtractor{byText: map[string][]claims.Candidate{}},
		cls:    &fakeClassifier{},
		clock:  &clock{t: t0},
	}
	h.eng, err = New(Deps{
		Store:         st,
		Committer:     store.NewCommitter(st, store.NewLocker(), time.Second, 3),
		Scheduler:     sched,
		Model:         model,
		Tracker:       claims.NewTracker(claims.Config{}, nil, model.ClaimRules, model.Conflicts),
		Assembler:     assembler.New(assembler.DefaultShares()),
		Generator:     h.gen,
		Extractor:     h.ext,
		Classifier:    h.cls,
		Conversations: convcache.NewMemory(50),
		Gateway:       gw,
	}, Options{
		ExternalRetries:  2,
		RetryInitial:     time.Millisecond,
		RetryMax:         2 * time.Millisecond,
		RequeueDelay:     time.Minute,
		MaxRegenerations: 3,
	})
	require.NoError(t, err)
	h.eng.SetClock(h.clock.now)

	h.runner = scheduler.NewRunner(sched, scheduler.RunnerConfig{Concurrency: 1})
	h.runner.SetClock(h.clock.now)
	h.eng.Register(h.runner)
	return h
}

// drain runs due jobs until none are left.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 20; i++ {
		n, err := h.runner.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("jobs kept coming")
}

func (h *harness) snap(t *testing.T, player string) *state.Snapshot {
	t.Helper()
	s, err := h.store.Snapshot(context.Background(), player)
	require.NoError(t, err)
	return s
}

func (h *harness) inbound(t *testing.T, player, agent, text string) InboundResult {
	t.Helper()
	res, err := h.eng.HandleInbound(context.Background(), Inbound{PlayerID: player, AgentID: agent, Text: text})
	require.NoError(t, err)
	return res
}

func count(actions []action.Action, kind action.Kind) int {
	n := 0
	for _, a := range actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func mandatory(player, agent, intent string) action.Action {
	a := action.New(action.KindGenerate, player, agent, intent, "test")
	a.Mandatory = true
	return a
}

// =============================================================================
// TESTS
// =============================================================================

func TestStartGameIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	snap, err := h.eng.StartGame(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, t0, snap.Player.GameStartedAt)
	assert.Len(t, snap.Trust, 3)

	h.clock.advance(time.Minute)
	again, err := h.eng.StartGame(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, snap.Version, again.Version)
	assert.Equal(t, t0, again.Player.GameStartedAt)

	n, err := h.sched.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the first start schedules the opening event")
}

func TestStoryEventsChain(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.StartGame(context.Background(), "p1")
	require.NoError(t, err)

	h.drain(t)
	require.Len(t, h.sent.Sent(), 1)
	assert.True(t, h.snap(t, "p1").HasMilestone("event:first_contact"))
	assert.False(t, h.snap(t, "p1").HasMilestone("event:follow_up"))

	h.clock.advance(7 * time.Hour)
	h.drain(t)

	var got []string
	for _, m := range h.sent.Sent() {
		got = append(got, m.AgentID+"/"+m.Channel)
	}
	if diff := cmp.Diff([]string{"ember/email", "miro/sms"}, got); diff != "" {
		t.Errorf("deliveries (-want +got):\n%s", diff)
	}
	assert.True(t, h.snap(t, "p1").HasMilestone("event:follow_up"))

	// replaying the first event changes nothing
	job, ok := h.sched.byID("p1:event:first_contact")
	require.True(t, ok)
	before := h.snap(t, "p1").Version
	require.NoError(t, h.eng.HandleStoryEvent(context.Background(), job))
	assert.Equal(t, before, h.snap(t, "p1").Version)
}

func TestTrustDropTransitionsOnce(t *testing.T) {
	h := newHarness(t)
	h.cls.set(llm.Classification{TrustDelta: -20, TrustReason: "hostile"})

	var queued []action.Action
	for i := 0; i < 4; i++ {
		res := h.inbound(t, "p1", "ember", "Tell me the truth or else.")
		assert.True(t, res.Decision.Respond)
		queued = append(queued, res.Queued...)
	}

	snap := h.snap(t, "p1")
	assert.Equal(t, -80, snap.TrustScore("ember"))
	assert.Equal(t, state.StageCooling, snap.Stage("ember"))
	assert.Equal(t, 1, count(queued, action.KindTransitionSignal))
	assert.Equal(t, 4, count(queued, action.KindGenerate), "every message still gets a reply")

	ls, ok := snap.LifecycleOf("ember")
	require.True(t, ok)
	assert.Equal(t, "guarded", ls.Modifiers.Tone)
	assert.Len(t, snap.TrustEventsFor("ember"), 4)
}

func TestExposureSpawnsOnce(t *testing.T) {
	h := newHarness(t)

	var queued []action.Action
	for _, ev := range []string{"used_key", "used_key", "forwarded_message"} {
		h.cls.set(llm.Classification{Events: []string{ev}})
		queued = append(queued, h.inbound(t, "p1", "miro", "I did something.").Queued...)
	}

	snap := h.snap(t, "p1")
	assert.Equal(t, 100, snap.World.Exposure)
	assert.True(t, snap.SpawnSatisfied("kessler_notices"))
	require.Equal(t, 1, count(queued, action.KindIntroduce))
	assert.Len(t, h.sched.actions(t, action.KindIntroduce), 1)

	h.clock.advance(time.Hour)
	h.drain(t)
	assert.True(t, h.snap(t, "p1").HasMilestone("key_used"), "player action story event ran")

	var kessler int
	for _, m := range h.sent.Sent() {
		if m.AgentID == "kessler" {
			kessler++
		}
	}
	assert.Equal(t, 1, kessler)
}

func TestInboundRecordsKnowledgeOnce(t *testing.T) {
	h := newHarness(t)
	h.cls.set(llm.Classification{Knowledge: []string{"The access key opens a dashboard."}})

	h.inbound(t, "p1", "ember", "What is this?")
	h.cls.set(llm.Classification{Knowledge: []string{"the access key opens a dashboard."}})
	h.inbound(t, "p1", "ember", "Again?")

	snap := h.snap(t, "p1")
	require.Len(t, snap.Knowledge, 1)
	assert.Equal(t, "key", snap.Knowledge[0].Category)
	assert.Equal(t, "ember", snap.Knowledge[0].SourceAgent)
	assert.Equal(t, 2, snap.Engagement.MessageCounts["ember"])
}

func TestClassifierOutageDegrades(t *testing.T) {
	h := newHarness(t)
	h.cls.err = faults.External("llm", errors.New("503"))

	res := h.inbound(t, "p1", "ember", "hello?")
	assert.Equal(t, 0, res.Classification.TrustDelta)
	assert.True(t, res.Decision.Respond)
	assert.Equal(t, 0, res.Snapshot.TrustScore("ember"))
	assert.Equal(t, 1, res.Snapshot.Engagement.MessageCounts["ember"])
	assert.Len(t, h.cls.seen, 2, "retried before degrading")
}

func TestInboundRejectsUnknownAgent(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.HandleInbound(context.Background(), Inbound{PlayerID: "p1", AgentID: "nobody", Text: "hi"})
	require.Error(t, err)
	assert.True(t, faults.IsValidation(err))
}

func TestReplyUsesPreviousAgentMessage(t *testing.T) {
	h := newHarness(t)
	initPlayer(t, h, "p1")
	h.gen.script = []string{"Did you get my key?"}

	h.inbound(t, "p1", "ember", "Who are you?")
	h.clock.advance(5 * time.Minute)
	h.drain(t)
	require.NotEmpty(t, h.sent.Sent())

	h.inbound(t, "p1", "ember", "Yes I did.")
	last := h.cls.seen[len(h.cls.seen)-1]
	assert.Equal(t, "Did you get my key?", last.AgentResponse)
	assert.Equal(t, "Yes I did.", last.PlayerMessage)
	require.Len(t, last.Context, 2)
	assert.True(t, last.Context[0].FromPlayer)
}

func TestEngagementSweepNudgesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.eng.StartGame(ctx, "p1")
	require.NoError(t, err)

	h.clock.advance(4 * 24 * time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.eng.SweepPlayer(ctx, "p1"))
		}()
	}
	wg.Wait()
	require.NoError(t, h.eng.Sweep(ctx))

	snap := h.snap(t, "p1")
	assert.Equal(t, state.TierCasual, snap.Engagement.Tier)
	assert.Equal(t, 1, snap.Engagement.Attempts)
	nudges := h.sched.actions(t, action.KindReengage)
	require.Len(t, nudges, 1)
	assert.Equal(t, 1.5, nudges[0].Pacing)
}

func TestConsistencyRegenerates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedClaim(t, h, "p1")

	bad := "I never sent the key."
	good := "I sent the key by mistake, I am sorry."
	h.gen.script = []string{bad, good}
	h.ext.byText[bad] = []claims.Candidate{{Text: bad, Subject: "sent the key", Negated: true, Significance: state.SignificanceHigh}}
	h.ext.byText[good] = []claims.Candidate{{Text: good, Subject: "sent the key", Significance: state.SignificanceHigh}}

	require.NoError(t, h.eng.ProcessAction(ctx, mandatory("p1", "ember", "Explain yourself.")))

	sent := h.sent.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, good, sent[0].Body)
	assert.Equal(t, 2, h.gen.calls())
	assert.NotContains(t, h.gen.bundle(0).Render(), "Do not claim")
	assert.Contains(t, h.gen.bundle(1).Render(), `Do not claim: "I never sent the key."`)
	assert.Len(t, h.snap(t, "p1").ClaimsBy("ember"), 2)
}

func TestConsistencySuppressesAfterBudget(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedClaim(t, h, "p1")

	bad := "I never sent the key."
	h.gen.script = []string{bad}
	h.ext.byText[bad] = []claims.Candidate{{Text: bad, Subject: "sent the key", Negated: true, Significance: state.SignificanceHigh}}

	require.NoError(t, h.eng.ProcessAction(ctx, mandatory("p1", "ember", "Explain yourself.")))
	assert.Empty(t, h.sent.Sent())
	assert.Equal(t, 3, h.gen.calls())
	snap := h.snap(t, "p1")
	assert.Len(t, snap.ClaimsBy("ember"), 1)
	assert.True(t, snap.Engagement.LastOutbound.IsZero())
}

func TestDeliveryFailureRequeuesDraft(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initPlayer(t, h, "p1")

	h.sender.down.Store(true)
	a := mandatory("p1", "ember", "Check in.")
	require.NoError(t, h.eng.ProcessAction(ctx, a))
	assert.Empty(t, h.sent.Sent())

	job, ok := h.sched.byID(action.RetryID(a.ID, 1))
	require.True(t, ok)
	assert.Equal(t, scheduler.KindRetryAction, job.Kind)
	assert.Equal(t, 1, job.Attempt)
	retried, err := action.Decode(job)
	require.NoError(t, err)
	assert.Equal(t, "ember writes back.", retried.Draft)

	snap := h.snap(t, "p1")
	assert.False(t, snap.Engagement.LastOutbound.IsZero(), "state committed before delivery")

	h.sender.down.Store(false)
	h.clock.advance(2 * time.Minute)
	h.drain(t)

	var bodies []string
	for _, m := range h.sent.Sent() {
		if m.ID == a.ID {
			bodies = append(bodies, m.Body)
		}
	}
	assert.Equal(t, []string{"ember writes back."}, bodies)
	assert.Equal(t, 1, h.gen.calls(), "the draft is not generated again")
	assert.Equal(t, snap.Engagement.MessageCounts["ember"], h.snap(t, "p1").Engagement.MessageCounts["ember"],
		"the retry does not record the message again")
}

func TestDeliveryRetriesUntilDelivered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initPlayer(t, h, "p1")
	h.sender.down.Store(true)

	a := mandatory("p1", "ember", "Check in.")
	require.NoError(t, h.eng.ProcessAction(ctx, a))

	// first retry fails too and schedules the second
	h.clock.advance(2 * time.Minute)
	h.drain(t)
	n, err := h.sched.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "second retry is pending")
	_, ok := h.sched.byID(action.RetryID(a.ID, 2))
	require.True(t, ok)
	assert.Empty(t, h.sent.Sent())

	h.sender.down.Store(false)
	h.clock.advance(time.Hour)
	h.drain(t)

	sent := h.sent.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, a.ID, sent[0].ID)
	assert.Equal(t, 1, h.gen.calls())
	assert.Equal(t, 1, h.snap(t, "p1").Engagement.MessageCounts["ember"])
}

func TestDeliveryDropsAfterMaxRequeues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	initPlayer(t, h, "p1")
	h.sender.down.Store(true)

	a := mandatory("p1", "ember", "Check in.")
	a.Draft = "Already approved."
	require.NoError(t, h.eng.process(ctx, a, h.eng.opts.MaxRequeues))
	_, ok := h.sched.byID(action.RetryID(a.ID, h.eng.opts.MaxRequeues+1))
	assert.False(t, ok)
}

func TestGoneAgentStaysSilent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.eng.StartGame(ctx, "p1")
	require.NoError(t, err)

	_, err = h.eng.deps.Committer.Update(ctx, "p1", func(*state.Snapshot) ([]state.Delta, error) {
		return []state.Delta{state.ReachMilestone{ID: "betrayed"}}, nil
	})
	require.NoError(t, err)
	require.NoError(t, h.eng.SweepPlayer(ctx, "p1"))
	require.Equal(t, state.StageGone, h.snap(t, "p1").Stage("ember"))
	assert.Empty(t, h.sched.actions(t, action.KindTransitionSignal), "gone sends no signal")

	require.NoError(t, h.eng.ProcessAction(ctx, mandatory("p1", "ember", "Say goodbye.")))
	assert.Equal(t, 0, h.gen.calls())

	res := h.inbound(t, "p1", "ember", "Are you there?")
	assert.False(t, res.Decision.Respond)
	assert.Zero(t, count(res.Queued, action.KindGenerate))
}

func TestMentionSharesAndSurfaces(t *testing.T) {
	h := newHarness(t)
	h.cls.set(llm.Classification{Knowledge: []string{"The access key opens a dashboard."}})

	h.inbound(t, "p1", "ember", "Has Miro seen this?")
	snap := h.snap(t, "p1")
	require.True(t, snap.Aware("ember", "miro"))
	var toMiro state.InterAgentExchange
	for _, x := range snap.Exchanges {
		if x.To == "miro" {
			toMiro = x
		}
	}
	require.Len(t, toMiro.Shared, 1)
	assert.False(t, toMiro.Surfaced)

	h.clock.advance(2 * time.Hour)
	h.drain(t)

	snap = h.snap(t, "p1")
	for _, x := range snap.Exchanges {
		if x.ID == toMiro.ID {
			assert.True(t, x.Surfaced)
		}
	}
	var fromMiro []delivery.Outbound
	for _, m := range h.sent.Sent() {
		if m.AgentID == "miro" {
			fromMiro = append(fromMiro, m)
		}
	}
	require.Len(t, fromMiro, 1)
	assert.Equal(t, "sms", fromMiro[0].Channel)

	var surfaced bool
	for i := 0; i < h.gen.calls(); i++ {
		b := h.gen.bundle(i)
		if b.AgentID == "miro" && strings.Contains(b.Render(), "The access key opens a dashboard.") {
			surfaced = true
		}
	}
	assert.True(t, surfaced, "surfacing intent carries the shared fact")
}

// initPlayer creates a player without starting the game, so no story
// events are queued.
func initPlayer(t *testing.T, h *harness, player string) {
	t.Helper()
	_, err := h.eng.deps.Committer.Update(context.Background(), player, func(*state.Snapshot) ([]state.Delta, error) {
		return []state.Delta{state.InitPlayer{PlayerID: player}, state.InitTrust{AgentID: "ember"}}, nil
	})
	require.NoError(t, err)
}

func seedClaim(t *testing.T, h *harness, player string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.eng.StartGame(ctx, player)
	require.NoError(t, err)
	_, err = h.eng.deps.Committer.Update(ctx, player, func(*state.Snapshot) ([]state.Delta, error) {
		return []state.Delta{state.RecordClaim{Claim: state.Claim{
			ID: "c1", AgentID: "ember", Text: "I sent you the key by mistake.", Subject: "sent the key",
			Type: state.ClaimAction, GroundTruth: true, Significance: state.SignificanceHigh, At: t0,
		}}}, nil
	})
	require.NoError(t, err)
}

func TestPreviewContextCommitsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedClaim(t, h, "p1")
	before := h.snap(t, "p1").Version

	b, err := h.eng.PreviewContext(ctx, "p1", "ember", "Ask about the key.", "what key?")
	require.NoError(t, err)
	out := b.Render()
	assert.Contains(t, out, "Goal for this message: Ask about the key.")
	assert.Contains(t, out, "I sent you the key by mistake.")
	assert.Equal(t, before, h.snap(t, "p1").Version)
	assert.Zero(t, h.gen.calls())

	_, err = h.eng.PreviewContext(ctx, "p1", "nobody", "x", "")
	assert.True(t, faults.IsValidation(err))
}
