package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/convcache"
	"argent/internal/delivery"
	"argent/internal/faults"
	"argent/internal/lifecycle"
	"argent/internal/logging"
	"argent/internal/memory"
	"argent/internal/narrative"
	"argent/internal/scheduler"
	"argent/internal/state"
)

// contextClaims is how many stored claims go into the memory section.
const contextClaims = 15

var errExhausted = errors.New("regeneration budget exhausted")

// draft is approved text with the claim deltas it carries.
type draft struct {
	text  string
	cands []claims.Candidate
	check claims.Result
}

// HandleAction runs an action or retry_action job.
func (e *Engine) HandleAction(ctx context.Context, job scheduler.Job) error {
	a, err := action.Decode(job)
	if err != nil {
		return err
	}
	attempt := 0
	if job.Kind == scheduler.KindRetryAction {
		attempt = job.Attempt
	}
	return e.process(ctx, a, attempt)
}

// ProcessAction generates, checks, commits and delivers one action now.
func (e *Engine) ProcessAction(ctx context.Context, a action.Action) error {
	return e.process(ctx, a, 0)
}

// process is the generation pipeline. attempt counts earlier requeues of
// the same action.
//
// The pipeline commits before it delivers: claims and the outbound record
// are durable once the text is approved, and a delivery failure requeues
// the approved text as a draft instead of generating again.
func (e *Engine) process(ctx context.Context, a action.Action, attempt int) error {
	ctx, span := startSpan(ctx, "engine.action", a.PlayerID,
		attribute.String("agent.id", a.AgentID),
		attribute.String("action.kind", string(a.Kind)),
		attribute.Int("action.attempt", attempt))
	defer span.End()
	log := logging.ForPlayer(logging.CategoryEngine, a.PlayerID)
	audit := logging.Audit(a.PlayerID)

	agent, ok := e.model.Agent(a.AgentID)
	if !ok {
		log.Warn("action %s names unknown agent %q, dropping", a.ID, a.AgentID)
		return nil
	}
	snap, err := e.deps.Store.Snapshot(ctx, a.PlayerID)
	if err != nil {
		return fail(span, err)
	}
	if !snap.Exists() {
		log.Warn("action %s for unknown player, dropping", a.ID)
		return nil
	}
	if a.Channel == "" {
		a.Channel = agent.Channel
	}

	if a.Draft == "" {
		if sup, why := lifecycle.Suppressed(snap, a); sup {
			log.Info("%s action %s for %s suppressed: %s", a.Kind, a.ID, a.AgentID, why)
			return nil
		}
		d, err := e.compose(ctx, snap, a, agent)
		switch {
		case err == nil:
		case errors.Is(err, errExhausted):
			log.Warn("action %s for %s withheld after %d attempts", a.ID, a.AgentID, e.opts.MaxRegenerations)
			return nil
		case faults.IsBudget(err):
			var be *faults.BudgetExceeded
			errors.As(err, &be)
			audit.BudgetExceeded(a.AgentID, be.Section, 0)
			log.Warn("action %s for %s skipped this cycle: %v", a.ID, a.AgentID, err)
			return nil
		case faults.IsRetryable(err):
			return fail(span, e.requeue(ctx, a, attempt, err))
		default:
			return fail(span, err)
		}

		switch err := e.commit(ctx, snap, a, d); {
		case err == nil:
		case errors.Is(err, errDropped):
			return nil
		case faults.IsRetryable(err), isConsistency(err):
			return fail(span, e.requeue(ctx, a, attempt, err))
		default:
			return fail(span, err)
		}
		a.Draft = d.text
		e.remember(ctx, a, d.text)
	}

	rec, err := retry(ctx, e, "deliver", func() (delivery.Receipt, error) {
		return e.deps.Gateway.Deliver(ctx, delivery.Outbound{
			ID:        a.ID,
			PlayerID:  a.PlayerID,
			AgentID:   a.AgentID,
			Channel:   a.Channel,
			Body:      a.Draft,
			InReplyTo: a.InReplyTo,
			At:        e.now(),
		})
	})
	if err != nil {
		return fail(span, e.requeue(ctx, a, attempt, err))
	}
	log.Info("%s from %s delivered via %s (%s)", a.Kind, a.AgentID, rec.Channel, a.Source)
	return nil
}

var errDropped = errors.New("action no longer applies")

func isConsistency(err error) bool {
	var cv *faults.ConsistencyViolation
	return errors.As(err, &cv)
}

// compose runs assemble, generate, extract, check until the text passes or
// the regeneration budget runs out. Each blocked attempt adds the
// violations as negative constraints for the next.
func (e *Engine) compose(ctx context.Context, snap *state.Snapshot, a action.Action, agent narrative.Agent) (draft, error) {
	audit := logging.Audit(a.PlayerID)
	history := e.recent(ctx, a.PlayerID, a.AgentID)
	conv := make([]assembler.Message, len(history))
	for i, h := range history {
		conv[i] = assembler.Message{FromPlayer: h.FromPlayer, Text: h.Text, At: h.At}
	}
	mems := e.memories(ctx, a)

	var (
		constraints []string
		lastClaims  []string
	)
	for attempt := 1; attempt <= e.opts.MaxRegenerations; attempt++ {
		bundle, err := e.deps.Assembler.Assemble(assembler.Request{
			Snap:         snap,
			Profile:      agent.Profile,
			Conversation: conv,
			Memories:     mems,
			Claims:       claims.Recent(snap, a.AgentID, contextClaims),
			Constraints:  constraints,
			Intent:       a.Intent,
			Message:      a.Message,
		})
		if err != nil {
			return draft{}, err
		}
		text, err := retry(ctx, e, "generate", func() (string, error) {
			return e.deps.Generator.Generate(ctx, bundle)
		})
		if err != nil {
			return draft{}, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			logging.EngineWarn("player %s: empty generation for %s (attempt %d)", a.PlayerID, a.AgentID, attempt)
			constraints = append(constraints, "Write an actual message; do not return an empty reply.")
			continue
		}
		cands, err := retry(ctx, e, "extract claims", func() ([]claims.Candidate, error) {
			return e.deps.Extractor.Extract(ctx, a.AgentID, text)
		})
		if err != nil {
			return draft{}, err
		}
		res, err := e.deps.Tracker.Check(ctx, snap, a.AgentID, cands, e.now())
		if err == nil {
			return draft{text: text, cands: cands, check: res}, nil
		}
		var cv *faults.ConsistencyViolation
		if !errors.As(err, &cv) {
			return draft{}, err
		}
		audit.ConsistencyViolation(a.AgentID, cv.Claims, attempt)
		constraints = append(constraints, claims.NegativeConstraints(res.Blocking())...)
		lastClaims = cv.Claims
	}
	audit.DeliverySuppressed(a.AgentID, a.ID, lastClaims)
	return draft{}, errExhausted
}

// commit applies the draft's claims, the outbound record and everything
// they trigger. When the state moved since the draft was checked the
// claims are checked again against the fresh history.
func (e *Engine) commit(ctx context.Context, checked *state.Snapshot, a action.Action, d draft) error {
	now := e.now()
	var p plan
	snap, err := e.deps.Committer.Update(ctx, a.PlayerID, func(snap *state.Snapshot) ([]state.Delta, error) {
		p = plan{}
		if !snap.Exists() {
			return nil, errDropped
		}
		if sup, why := lifecycle.Suppressed(snap, a); sup {
			logging.EngineDebug("player %s: action %s suppressed at commit: %s", a.PlayerID, a.ID, why)
			return nil, errDropped
		}
		pending := d.check.Deltas
		if snap.Version != checked.Version {
			res, err := e.deps.Tracker.Check(ctx, snap, a.AgentID, d.cands, now)
			if err != nil {
				return nil, err
			}
			pending = res.Deltas
		}
		pending = append(append([]state.Delta(nil), pending...), state.RecordOutbound{AgentID: a.AgentID, At: now})
		if a.Kind == action.KindSurface {
			if id := a.Metadata["exchange_id"]; id != "" {
				pending = append(pending, state.SurfaceExchange{ExchangeID: id, At: now})
			}
		}
		res, err := e.evaluate(snap, input{pending: pending}, now)
		if err != nil {
			return nil, err
		}
		p = res
		return res.deltas, nil
	})
	if err != nil {
		return err
	}
	if err := e.dispatch(ctx, snap, p, now); err != nil {
		logging.EngineWarn("player %s: follow-ups of %s partly failed: %v", a.PlayerID, a.ID, err)
	}
	return nil
}

// memories searches semantic memory for the action's message or intent.
// Failures degrade to no memories.
func (e *Engine) memories(ctx context.Context, a action.Action) []assembler.Memory {
	if e.deps.Memory == nil {
		return nil
	}
	query := a.Message
	if query == "" {
		query = a.Intent
	}
	hits, err := retry(ctx, e, "memory search", func() ([]memory.Hit, error) {
		return e.deps.Memory.Search(ctx, a.PlayerID, a.AgentID, query, e.opts.MemoryResults)
	})
	if err != nil {
		logging.EngineWarn("player %s: memory search for %s failed: %v", a.PlayerID, a.AgentID, err)
		return nil
	}
	out := make([]assembler.Memory, len(hits))
	for i, h := range hits {
		out[i] = assembler.Memory{Text: h.Content, Score: h.Score}
	}
	return out
}

// remember appends approved text to the conversation cache and semantic
// memory. Both are best effort.
func (e *Engine) remember(ctx context.Context, a action.Action, text string) {
	now := e.now()
	if e.deps.Conversations != nil {
		if err := e.deps.Conversations.Append(ctx, a.PlayerID, a.AgentID, convcache.Entry{Text: text, At: now}); err != nil {
			logging.EngineWarn("player %s: conversation cache append failed: %v", a.PlayerID, err)
		}
	}
	if e.deps.Memory != nil {
		if _, err := retry(ctx, e, "memory index", func() (struct{}, error) {
			return struct{}{}, e.deps.Memory.Index(ctx, a.PlayerID, a.AgentID, a.ID, text)
		}); err != nil {
			logging.EngineWarn("player %s: memory index failed: %v", a.PlayerID, err)
		}
	}
}

// requeue schedules a for another try, or drops it once MaxRequeues is
// spent.
func (e *Engine) requeue(ctx context.Context, a action.Action, attempt int, cause error) error {
	audit := logging.Audit(a.PlayerID)
	next := attempt + 1
	if next > e.opts.MaxRequeues {
		logging.EngineError("player %s: action %s for %s dropped after %d requeue(s): %v",
			a.PlayerID, a.ID, a.AgentID, attempt, cause)
		audit.Log(logging.AuditEvent{
			Type:    logging.AuditDeliverySuppressed,
			AgentID: a.AgentID,
			Target:  a.ID,
			Reason:  "requeue budget exhausted: " + cause.Error(),
		})
		return nil
	}
	audit.ActionRequeued(a.AgentID, a.ID, cause)
	return e.queue.Requeue(ctx, e.now(), a, next, e.opts.RequeueDelay*time.Duration(next))
}
