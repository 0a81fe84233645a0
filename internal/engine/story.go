package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"argent/internal/action"
	"argent/internal/logging"
	"argent/internal/narrative"
	"argent/internal/scheduler"
	"argent/internal/sharing"
	"argent/internal/state"
)

type storyPayload struct {
	EventID string `json:"event_id"`
}

type surfacePayload struct {
	ExchangeID string `json:"exchange_id"`
	AgentID    string `json:"agent_id"`
	Intent     string `json:"intent,omitempty"`
}

// StartGame creates the player if needed and starts their game once. The
// game-start story events are scheduled by the call that actually started
// it; later calls return the current snapshot.
func (e *Engine) StartGame(ctx context.Context, playerID string) (*state.Snapshot, error) {
	ctx, span := startSpan(ctx, "engine.start_game", playerID)
	defer span.End()

	now := e.now()
	var p plan
	started := false
	snap, err := e.deps.Committer.Update(ctx, playerID, func(snap *state.Snapshot) ([]state.Delta, error) {
		started, p = false, plan{}
		if snap.Exists() && !snap.Player.GameStartedAt.IsZero() {
			return nil, nil
		}
		pending := []state.Delta{
			state.InitPlayer{PlayerID: playerID, At: now},
			state.StartGame{At: now},
		}
		for _, id := range e.model.AgentIDs() {
			pending = append(pending, state.InitTrust{AgentID: id})
		}
		pl, err := e.evaluate(snap, input{pending: pending}, now)
		if err != nil {
			return nil, err
		}
		started, p = true, pl
		return pl.deltas, nil
	})
	if err != nil {
		return nil, fail(span, fmt.Errorf("starting game for %s: %w", playerID, err))
	}
	if !started {
		return snap, nil
	}

	logging.Engine("player %s: game started with %d agent(s)", playerID, len(e.model.Agents))
	p.storyEvents = append(p.storyEvents, e.model.EventsOn(narrative.EventGameStart, "")...)
	return snap, fail(span, e.dispatch(ctx, snap, p, now))
}

// HandleStoryEvent runs a scheduled story event. An event runs at most
// once per player; its milestone is the guard.
func (e *Engine) HandleStoryEvent(ctx context.Context, job scheduler.Job) error {
	var pl storyPayload
	if err := json.Unmarshal(job.Payload, &pl); err != nil {
		return fmt.Errorf("decoding story event job %s: %w", job.ID, err)
	}
	ev, ok := e.model.StoryEvent(pl.EventID)
	if !ok {
		logging.EngineWarn("player %s: story event %q no longer exists, dropping", job.PlayerID, pl.EventID)
		return nil
	}

	ctx, span := startSpan(ctx, "engine.story_event", job.PlayerID, attribute.String("event.id", ev.ID))
	defer span.End()

	now := e.now()
	var p plan
	snap, err := e.deps.Committer.Update(ctx, job.PlayerID, func(snap *state.Snapshot) ([]state.Delta, error) {
		p = plan{}
		if !snap.Exists() || snap.HasMilestone(ev.MilestoneID()) {
			return nil, nil
		}
		pending := append([]state.Delta{
			state.ReachMilestone{ID: ev.MilestoneID(), At: now, Metadata: map[string]string{"kind": string(ev.Kind)}},
		}, ev.Effects.Deltas(now, "")...)
		var intros []sharing.Introduction
		if ev.Effects.Introduce != nil {
			intros = append(intros, *ev.Effects.Introduce)
		}
		res, err := e.evaluate(snap, input{pending: pending, events: ev.Effects.Exposure, intros: intros}, now)
		if err != nil {
			return nil, err
		}
		p = res
		return res.deltas, nil
	})
	if err != nil {
		return fail(span, err)
	}
	if len(p.deltas) == 0 {
		logging.EngineDebug("player %s: story event %s already ran", job.PlayerID, ev.ID)
		return nil
	}

	logging.Engine("player %s: story event %s", job.PlayerID, ev.ID)
	if ev.Action != nil {
		a := ev.Action.Action(action.KindGenerate, job.PlayerID, "event:"+ev.ID)
		a.SupersedeKey = "event:" + ev.ID
		p.actions = append([]action.Action{a}, p.actions...)
	}
	p.storyEvents = append(p.storyEvents, e.model.EventsOn(narrative.EventAfter, ev.ID)...)
	return fail(span, e.dispatch(ctx, snap, p, now))
}

// HandleSurface reveals a recorded exchange through the agent that
// received it. Exchanges already surfaced, or whose agent is gone, are
// dropped.
func (e *Engine) HandleSurface(ctx context.Context, job scheduler.Job) error {
	var pl surfacePayload
	if err := json.Unmarshal(job.Payload, &pl); err != nil {
		return fmt.Errorf("decoding surface job %s: %w", job.ID, err)
	}
	snap, err := e.deps.Store.Snapshot(ctx, job.PlayerID)
	if err != nil {
		return err
	}
	var x *state.InterAgentExchange
	for i := range snap.Exchanges {
		if snap.Exchanges[i].ID == pl.ExchangeID {
			x = &snap.Exchanges[i]
			break
		}
	}
	if x == nil || x.Surfaced || snap.Stage(pl.AgentID) == state.StageGone {
		return nil
	}

	intent := pl.Intent
	if intent == "" {
		intent = fmt.Sprintf("let slip something you heard from %s", x.From)
	}
	var facts []string
	for _, id := range append(append([]string(nil), x.Shared...), x.Traded...) {
		if f, ok := snap.Fact(id); ok {
			facts = append(facts, f.Text)
		}
	}
	if len(facts) > 0 {
		intent += ". What you heard: " + strings.Join(facts, "; ")
	}

	a := action.New(action.KindSurface, job.PlayerID, pl.AgentID, intent, "exchange:"+x.ID)
	a.ID = "surface:" + x.ID
	a.Metadata = map[string]string{"exchange_id": x.ID, "from": x.From}
	return e.process(ctx, a, job.Attempt)
}

// dispatch queues what a committed plan asked for: paced actions, story
// events and surfacings. Failures are logged and joined; the state change
// they belong to is already durable.
func (e *Engine) dispatch(ctx context.Context, snap *state.Snapshot, p plan, now time.Time) error {
	p.audit(snap.PlayerID)

	var errs []error
	for _, a := range p.actions {
		a = e.paced(snap, a)
		if _, err := e.queue.Enqueue(ctx, now, a); err != nil {
			logging.EngineError("player %s: queueing %s action for %s: %v", snap.PlayerID, a.Kind, a.AgentID, err)
			errs = append(errs, err)
		}
	}
	for _, ev := range p.storyEvents {
		if err := e.scheduleEvent(ctx, snap.PlayerID, ev, now); err != nil {
			logging.EngineError("player %s: scheduling story event %s: %v", snap.PlayerID, ev.ID, err)
			errs = append(errs, err)
		}
	}
	for _, s := range p.surface {
		if err := e.scheduleSurface(ctx, snap.PlayerID, s, now); err != nil {
			logging.EngineError("player %s: scheduling surfacing of %s: %v", snap.PlayerID, s.ExchangeID, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// paced fills the channel and scales the delay by the engagement tier's
// pacing and the agent's lifecycle delay multiplier.
func (e *Engine) paced(snap *state.Snapshot, a action.Action) action.Action {
	if a.Channel == "" {
		if ag, ok := e.model.Agent(a.AgentID); ok {
			a.Channel = ag.Channel
		}
	}
	pacing := a.Pacing
	if pacing <= 0 {
		pacing = e.model.Engagement.PacingFor(snap.Engagement.Tier)
	}
	if ls, ok := snap.LifecycleOf(a.AgentID); ok && ls.Modifiers.DelayMultiplier > 1 {
		pacing *= ls.Modifiers.DelayMultiplier
	}
	a.Pacing = pacing
	return a
}

func (e *Engine) scheduleEvent(ctx context.Context, playerID string, ev narrative.StoryEvent, now time.Time) error {
	payload, err := json.Marshal(storyPayload{EventID: ev.ID})
	if err != nil {
		return err
	}
	delay := ev.Delay.Draw(action.Seeded(playerID, "event", ev.ID))
	return e.deps.Scheduler.Schedule(ctx, scheduler.Job{
		ID:       playerID + ":event:" + ev.ID,
		Kind:     scheduler.KindStoryEvent,
		PlayerID: playerID,
		Key:      "event:" + ev.ID,
		RunAt:    now.Add(delay),
		Payload:  payload,
	})
}

func (e *Engine) scheduleSurface(ctx context.Context, playerID string, s sharing.Surfacing, now time.Time) error {
	payload, err := json.Marshal(surfacePayload{ExchangeID: s.ExchangeID, AgentID: s.AgentID, Intent: s.Intent})
	if err != nil {
		return err
	}
	delay := s.Delay.Draw(action.Seeded(playerID, "surface", s.ExchangeID))
	return e.deps.Scheduler.Schedule(ctx, scheduler.Job{
		ID:       playerID + ":surface:" + s.ExchangeID,
		Kind:     scheduler.KindSurfaceExchange,
		PlayerID: playerID,
		RunAt:    now.Add(delay),
		Payload:  payload,
	})
}
