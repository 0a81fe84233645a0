package assembler

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"argent/internal/faults"
	"argent/internal/logging"
	"argent/internal/state"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func snapshot(t *testing.T) *state.Snapshot {
	t.Helper()
	s, err := state.Fold(state.Empty("p1"), []state.Delta{
		state.InitPlayer{PlayerID: "p1"},
		state.InitTrust{AgentID: "ember"},
		state.Trust("ember", 35, "shared the key photo", ""),
		state.Trust("ember", -5, "doubted Ember", ""),
		state.AddKnowledge{Fact: state.KnowledgeFact{ID: "f1", Text: "The key opens the vault", Category: "key"}},
		state.AddKnowledge{Fact: state.KnowledgeFact{ID: "f2", Text: "the KEY opens the vault ", Category: "key"}},
		state.AddKnowledge{Fact: state.KnowledgeFact{ID: "f3", Text: "Kessler runs the night shift", Category: "general"}},
		state.RecordInbound{AgentID: "ember", MessageID: "m1"},
		state.TransitionLifecycle{AgentID: "ember", To: state.StageCooling, Reason: "trust fell",
			Modifiers: state.Modifiers{ResponseProbability: 1, DelayMultiplier: 2, Tone: "guarded"}},
	}, t0)
	require.NoError(t, err)
	return s
}

func request(t *testing.T) Request {
	return Request{
		Snap:    snapshot(t),
		Profile: Profile{ID: "ember", Name: "Ember", Persona: []string{"wry", "careful"}, Background: "Former analyst at Kessler."},
		Conversation: []Message{
			{FromPlayer: true, Text: "who are you?", At: t0},
			{Text: "a friend, for now", At: t0.Add(time.Minute)},
		},
		Memories: []Memory{{Text: "Player mentioned a sister", Score: 0.4}, {Text: "Player found the key", Score: 0.9}},
		Claims:   []state.Claim{{Text: "I never met Kessler", Significance: state.SignificanceHigh}},
		Intent:   "answer the question honestly",
		Message:  "what does the key open?",
	}
}

func TestAssembleFitsEverything(t *testing.T) {
	b, err := New(DefaultShares()).Assemble(request(t))
	require.NoError(t, err)

	var sections []Section
	for _, blk := range b.Blocks {
		sections = append(sections, blk.Section)
		assert.Zero(t, blk.Dropped, blk.Section)
	}
	if diff := cmp.Diff(order, sections); diff != "" {
		t.Fatalf("section order (-want +got):\n%s", diff)
	}
	assert.LessOrEqual(t, b.Total, b.Budget)

	conv := b.Block(SectionConversation).Items
	require.Len(t, conv, 2)
	assert.Equal(t, "Player: who are you?", conv[0].Text, "rendered oldest first")

	mem := b.Block(SectionMemory).Items
	require.Len(t, mem, 3)
	assert.Contains(t, mem[0].Text, "I never met Kessler")
	assert.Equal(t, "Memory: Player found the key", mem[1].Text)

	rendered := b.Render()
	assert.Contains(t, rendered, "## What to do now")
	assert.Contains(t, rendered, "The player just wrote: what does the key open?")
	assert.Contains(t, rendered, "Keep the tone guarded.")
}

func TestStateSection(t *testing.T) {
	b, err := New(DefaultShares()).Assemble(request(t))
	require.NoError(t, err)

	var texts []string
	for _, it := range b.Block(SectionState).Items {
		texts = append(texts, it.Text)
	}
	assert.Equal(t, "Your trust in the player: 30 (moderate).", texts[0])
	assert.Contains(t, texts, "Your stance: cooling, tone guarded.")
	assert.Contains(t, texts, "Conversation so far: early (1 messages).")
	assert.Contains(t, texts, "Recently: doubted Ember (-5).")

	var known []string
	for _, s := range texts {
		if strings.HasPrefix(s, "The player knows: ") {
			known = append(known, s)
		}
	}
	// duplicates collapse case-insensitively, key facts first
	assert.Equal(t, []string{
		"The player knows: the KEY opens the vault ",
		"The player knows: Kessler runs the night shift",
	}, known)
}

func TestTruncationKeepsNewestConversation(t *testing.T) {
	req := request(t)
	req.Conversation = nil
	for i := 0; i < 80; i++ {
		req.Conversation = append(req.Conversation, Message{FromPlayer: i%2 == 0, Text: fmt.Sprintf("message %02d %s", i, strings.Repeat("x", 60))})
	}
	b, err := New(Shares{Total: 600, Agent: 20, State: 18, Conversation: 28, Memory: 14}).Assemble(req)
	require.NoError(t, err)

	conv := b.Block(SectionConversation)
	assert.Positive(t, conv.Dropped)
	require.NotEmpty(t, conv.Items)
	assert.Contains(t, conv.Items[len(conv.Items)-1].Text, "message 79")
	assert.LessOrEqual(t, b.Total, 600)
}

func TestSpareBudgetIsRedistributed(t *testing.T) {
	req := request(t)
	req.Memories, req.Claims = nil, nil
	req.Conversation = nil
	for i := 0; i < 200; i++ {
		req.Conversation = append(req.Conversation, Message{Text: strings.Repeat("y", 40)})
	}
	b, err := New(DefaultShares()).Assemble(req)
	require.NoError(t, err)

	assert.Greater(t, b.Block(SectionConversation).Tokens, 2800*28/100)
	assert.LessOrEqual(t, b.Total, 2800)
}

func TestInstructionsNeverTruncated(t *testing.T) {
	req := request(t)
	req.Message = strings.Repeat("z", 12000)

	_, err := New(DefaultShares()).Assemble(req)
	var be *faults.BudgetExceeded
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "instructions", be.Section)
	assert.True(t, be.Required)
}

func TestTotalNeverExceedsBudget(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	a := New(Shares{Total: 900, Agent: 20, State: 18, Conversation: 28, Memory: 14})
	for i := 0; i < 200; i++ {
		req := request(t)
		req.Profile.Background = strings.Repeat("b", r.IntN(3000))
		req.Message = strings.Repeat("m", r.IntN(1200))
		req.Conversation = nil
		for j := r.IntN(40); j > 0; j-- {
			req.Conversation = append(req.Conversation, Message{Text: strings.Repeat("c", r.IntN(500))})
		}
		req.Memories = nil
		for j := r.IntN(20); j > 0; j-- {
			req.Memories = append(req.Memories, Memory{Text: strings.Repeat("k", r.IntN(400)), Score: r.Float64()})
		}

		b, err := a.Assemble(req)
		if err != nil {
			var be *faults.BudgetExceeded
			require.ErrorAs(t, err, &be)
			continue
		}
		sum := 0
		for _, blk := range b.Blocks {
			sum += blk.Tokens
		}
		require.Equal(t, b.Total, sum)
		require.LessOrEqual(t, b.Total, 900, "iteration %d", i)
		assert.Zero(t, b.Block(SectionInstructions).Dropped)
	}
}

func TestAgentTruncationIsAudited(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logging.SetRoot(zap.New(core))
	t.Cleanup(func() { logging.SetRoot(nil) })

	req := request(t)
	req.Profile.Background = strings.Repeat("long history ", 1000)
	b, err := New(DefaultShares()).Assemble(req)
	require.NoError(t, err)
	require.Equal(t, 1, b.Block(SectionAgent).Dropped)

	entries := logs.FilterLoggerName("audit").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "agent", entries[0].ContextMap()["target"])
}

func TestBandsAndStages(t *testing.T) {
	bands := map[int]string{60: "high", 59: "moderate", 30: "moderate", 0: "neutral", -1: "low", -30: "low", -31: "very low"}
	for score, want := range bands {
		assert.Equal(t, want, TrustBand(score), score)
	}
	stages := map[int]string{0: "first contact", 4: "early", 5: "developing", 15: "ongoing"}
	for n, want := range stages {
		assert.Equal(t, want, ConversationStage(n), n)
	}
}

func TestCountString(t *testing.T) {
	tc := NewTokenCounter()
	assert.Equal(t, 0, tc.CountString(""))
	assert.Equal(t, 1, tc.CountString("abc"))
	assert.Equal(t, 1, tc.CountString("abcd"))
	assert.Equal(t, 2, tc.CountString("abcde"))
	assert.Equal(t, 1, tc.CountString("日本"))
}
