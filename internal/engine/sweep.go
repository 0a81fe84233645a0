package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"argent/internal/action"
	"argent/internal/condition"
	"argent/internal/logging"
	"argent/internal/scheduler"
	"argent/internal/state"
)

// Sweep re-evaluates every player: engagement tiers, time-based trigger
// and lifecycle conditions, spawns and configured introductions. One
// player's failure does not stop the others.
func (e *Engine) Sweep(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "engine.sweep")
	defer span.End()

	players, err := e.deps.Store.Players(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("listing players: %w", err))
	}
	timer := logging.StartTimer(logging.CategoryEngine, "sweep")
	defer timer.Stop()

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for _, id := range players {
		g.Go(func() error {
			if err := e.SweepPlayer(gctx, id); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				logging.EngineError("sweep of player %s failed: %v", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(span, err)
	}
	logging.Engine("sweep: %d player(s), %d failed", len(players), failed.Load())
	if n := failed.Load(); n > 0 {
		return fail(span, fmt.Errorf("sweep: %d of %d player(s) failed", n, len(players)))
	}
	return nil
}

// SweepPlayer re-evaluates one player. Running it twice at the same time
// proposes nothing the second time.
func (e *Engine) SweepPlayer(ctx context.Context, playerID string) error {
	ctx, span := startSpan(ctx, "engine.sweep_player", playerID)
	defer span.End()

	now := e.now()
	var p plan
	snap, err := e.deps.Committer.Update(ctx, playerID, func(snap *state.Snapshot) ([]state.Delta, error) {
		p = plan{}
		if !snap.Exists() {
			return nil, nil
		}
		eng := e.model.Engagement.Sweep(condition.Env{Snap: snap, Now: now})
		res, err := e.evaluate(snap, input{pending: eng.Deltas, events: eng.EventTypes}, now)
		if err != nil {
			return nil, err
		}
		res.actions = append(eng.Actions, res.actions...)
		p = res
		return res.deltas, nil
	})
	if err != nil {
		return fail(span, err)
	}
	if len(p.deltas) == 0 {
		return nil
	}
	return fail(span, e.dispatch(ctx, snap, p, now))
}

// HandleSweepPlayer runs a sweep_player job.
func (e *Engine) HandleSweepPlayer(ctx context.Context, job scheduler.Job) error {
	return e.SweepPlayer(ctx, job.PlayerID)
}

// Register attaches the engine's handlers and sweep to a runner.
func (e *Engine) Register(r *scheduler.Runner) {
	r.Handle(scheduler.KindAction, e.HandleAction)
	r.Handle(scheduler.KindRetryAction, e.HandleAction)
	r.Handle(scheduler.KindStoryEvent, e.HandleStoryEvent)
	r.Handle(scheduler.KindSurfaceExchange, e.HandleSurface)
	r.Handle(scheduler.KindSweepPlayer, e.HandleSweepPlayer)
	r.Sweep(e.Sweep)
	r.OnSuperseded = func(job scheduler.Job) {
		agent := ""
		if job.Kind == scheduler.KindAction || job.Kind == scheduler.KindRetryAction {
			if a, err := action.Decode(job); err == nil {
				agent = a.AgentID
			}
		}
		logging.Audit(job.PlayerID).ActionSuperseded(agent, job.ID, job.Key)
	}
}
