package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"argent/internal/action"
	"argent/internal/convcache"
	"argent/internal/faults"
	"argent/internal/lifecycle"
	"argent/internal/llm"
	"argent/internal/logging"
	"argent/internal/sharing"
	"argent/internal/state"
)

// Inbound is one player message addressed to an agent.
type Inbound struct {
	PlayerID  string
	AgentID   string
	MessageID string
	Text      string
	Channel   string
	At        time.Time
}

// InboundResult reports what handling a message did.
type InboundResult struct {
	Snapshot       *state.Snapshot
	Classification llm.Classification
	Decision       lifecycle.Decision
	Queued         []action.Action
}

// HandleInbound classifies the message, commits its effects with
// everything they trigger, and queues the agent's reply when the agent's
// lifecycle stage lets it answer. A classifier outage degrades to a
// neutral classification; the message is still recorded.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) (InboundResult, error) {
	ctx, span := startSpan(ctx, "engine.inbound", in.PlayerID, attribute.String("agent.id", in.AgentID))
	defer span.End()

	agent, ok := e.model.Agent(in.AgentID)
	if !ok {
		return InboundResult{}, fail(span, faults.Validationf("inbound", in.MessageID, "agent_id", "unknown agent %q", in.AgentID))
	}
	if in.PlayerID == "" {
		return InboundResult{}, fail(span, faults.Validationf("inbound", in.MessageID, "player_id", "player id is required"))
	}
	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	if in.At.IsZero() {
		in.At = e.now()
	}
	if in.Channel == "" {
		in.Channel = agent.Channel
	}
	log := logging.ForPlayer(logging.CategoryEngine, in.PlayerID)

	snap, err := e.deps.Store.Snapshot(ctx, in.PlayerID)
	if err != nil {
		return InboundResult{}, fail(span, err)
	}
	if !snap.Exists() {
		if _, err := e.StartGame(ctx, in.PlayerID); err != nil {
			return InboundResult{}, fail(span, err)
		}
	}

	history := e.recent(ctx, in.PlayerID, in.AgentID)
	var lastAgent string
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].FromPlayer {
			lastAgent = history[i].Text
			break
		}
	}

	cls, err := retry(ctx, e, "classify", func() (llm.Classification, error) {
		return e.deps.Classifier.Classify(ctx, llm.Exchange{
			AgentID:       in.AgentID,
			AgentGoal:     agent.Goal,
			PlayerMessage: in.Text,
			AgentResponse: lastAgent,
			Context:       history,
			EventTypes:    e.model.Exposure.Types(),
		})
	})
	if err != nil {
		log.Warn("classification of %s failed, continuing neutral: %v", in.MessageID, err)
		cls = llm.Neutral("classification unavailable")
	}

	now := e.now()
	var (
		p   plan
		dec lifecycle.Decision
	)
	snap, err = e.deps.Committer.Update(ctx, in.PlayerID, func(snap *state.Snapshot) ([]state.Delta, error) {
		p, dec = plan{}, lifecycle.Decision{}
		pending := []state.Delta{state.RecordInbound{AgentID: in.AgentID, MessageID: in.MessageID, At: in.At}}
		if cls.TrustDelta != 0 {
			d := state.Trust(in.AgentID, cls.TrustDelta, cls.TrustReason, in.MessageID)
			d.At = in.At
			pending = append(pending, d)
		}
		pending = append(pending, e.revealed(snap, in.AgentID, cls.Knowledge, in.At)...)

		var intros []sharing.Introduction
		for _, other := range e.model.MentionedAgents(in.Text, in.AgentID) {
			intros = append(intros, sharing.Introduction{A: in.AgentID, B: other, Reason: "player mentioned " + other})
		}

		res, err := e.evaluate(snap, input{pending: pending, events: cls.Events, intros: intros, messageID: in.MessageID}, now)
		if err != nil {
			return nil, err
		}
		dec = lifecycle.ShouldRespond(res.preview, in.MessageID, in.AgentID)
		if dec.Respond {
			reply := action.New(action.KindGenerate, in.PlayerID, in.AgentID, "reply to the player's latest message", "inbound:"+in.MessageID)
			reply.ID = in.MessageID + ":reply"
			reply.Channel = in.Channel
			reply.InReplyTo = in.MessageID
			reply.Message = in.Text
			reply.Delay = agent.ReplyDelay
			reply.SupersedeKey = in.AgentID + ":reply"
			res.actions = append([]action.Action{reply}, res.actions...)
		}
		p = res
		return res.deltas, nil
	})
	if err != nil {
		return InboundResult{}, fail(span, err)
	}
	log.Info("message %s to %s: trust %+d, %d fact(s), respond=%v (%s)",
		in.MessageID, in.AgentID, cls.TrustDelta, len(cls.Knowledge), dec.Respond, dec.Reason)

	if e.deps.Conversations != nil {
		entry := convcache.Entry{FromPlayer: true, Text: in.Text, At: in.At}
		if err := e.deps.Conversations.Append(ctx, in.PlayerID, in.AgentID, entry); err != nil {
			log.Warn("conversation cache append failed: %v", err)
		}
	}

	err = e.dispatch(ctx, snap, p, now)
	return InboundResult{Snapshot: snap, Classification: cls, Decision: dec, Queued: p.actions}, fail(span, err)
}

// revealed turns classified knowledge into facts attributed to agentID,
// skipping text the player already knows.
func (e *Engine) revealed(snap *state.Snapshot, agentID string, texts []string, at time.Time) []state.Delta {
	var out []state.Delta
	seen := make(map[string]bool)
	for _, f := range snap.Knowledge {
		seen[strings.ToLower(f.Text)] = true
	}
	for _, t := range texts {
		t = strings.TrimSpace(t)
		key := strings.ToLower(t)
		if t == "" || seen[key] {
			continue
		}
		seen[key] = true
		d := state.Knowledge(t, e.model.InferCategory(t), agentID)
		d.Fact.At = at
		out = append(out, d)
	}
	return out
}

// recent reads the conversation window oldest first. A cache failure
// yields an empty history.
func (e *Engine) recent(ctx context.Context, playerID, agentID string) []convcache.Entry {
	if e.deps.Conversations == nil {
		return nil
	}
	h, err := e.deps.Conversations.Recent(ctx, playerID, agentID, e.opts.ConversationWindow)
	if err != nil {
		logging.EngineWarn("player %s: conversation cache read failed: %v", playerID, err)
		return nil
	}
	return h
}
