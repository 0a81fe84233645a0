package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"argent/internal/logging"
)

// Handler runs one job. Returning an error reschedules the job with a
// higher Attempt until MaxAttempts is reached.
type Handler func(ctx context.Context, job Job) error

// RunnerConfig bounds the runner.
type RunnerConfig struct {
	PollInterval time.Duration
	SweepEvery   time.Duration
	Concurrency  int
	BatchSize    int
	Lease        time.Duration
	RetryDelay   time.Duration
	MaxAttempts  int
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: 5 * time.Second,
		SweepEvery:   time.Hour,
		Concurrency:  8,
		BatchSize:    100,
		Lease:        2 * time.Minute,
		RetryDelay:   time.Minute,
		MaxAttempts:  5,
	}
}

// Runner polls a Scheduler and dispatches due jobs to handlers, and runs a
// periodic sweep.
type Runner struct {
	sched Scheduler
	cfg   RunnerConfig
	now   func() time.Time

	mu       sync.RWMutex
	handlers map[Kind]Handler
	sweep    func(ctx context.Context) error

	// OnSuperseded is called for jobs dropped because a newer job took their
	// slot.
	OnSuperseded func(job Job)
}

// NewRunner creates a runner over sched.
func NewRunner(sched Scheduler, cfg RunnerConfig) *Runner {
	def := DefaultRunnerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = def.SweepEvery
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Runner{sched: sched, cfg: cfg, now: time.Now, handlers: make(map[Kind]Handler)}
}

// Handle registers the handler for kind.
func (r *Runner) Handle(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Sweep registers the periodic sweep.
func (r *Runner) Sweep(fn func(ctx context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep = fn
}

// SetClock replaces the time source.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// RunOnce dispatches every currently due job and returns how many handlers
// ran. Jobs run concurrently up to the configured concurrency.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	jobs, err := r.sched.Due(ctx, now, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	logging.SchedulerDebug("%d job(s) due", len(jobs))

	var (
		mu  sync.Mutex
		ran int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			did, err := r.dispatch(gctx, job)
			if did {
				mu.Lock()
				ran++
				mu.Unlock()
			}
			return err
		})
	}
	err = g.Wait()
	return ran, err
}

// dispatch runs one job. Only scheduler failures are returned; handler
// failures are rescheduled or dropped here.
func (r *Runner) dispatch(ctx context.Context, job Job) (bool, error) {
	current, err := r.sched.Current(ctx, job)
	if err != nil {
		return false, err
	}
	if !current {
		logging.SchedulerDebug("job %s (%s) superseded for player %s", job.ID, job.Kind, job.PlayerID)
		if r.OnSuperseded != nil {
			r.OnSuperseded(job)
		}
		return false, r.sched.Ack(ctx, job)
	}

	r.mu.RLock()
	h, ok := r.handlers[job.Kind]
	r.mu.RUnlock()
	if !ok {
		logging.SchedulerError("job %s: %v: %s", job.ID, ErrUnknownKind, job.Kind)
		return false, r.sched.Ack(ctx, job)
	}

	herr := h(ctx, job)
	if herr == nil {
		return true, r.sched.Ack(ctx, job)
	}
	if errors.Is(herr, context.Canceled) && ctx.Err() != nil {
		// leased; becomes due again after the lease
		return true, nil
	}

	job.Attempt++
	if job.Attempt >= r.cfg.MaxAttempts {
		logging.SchedulerError("job %s (%s) for player %s failed %d times, dropping: %v",
			job.ID, job.Kind, job.PlayerID, job.Attempt, herr)
		return true, r.sched.Ack(ctx, job)
	}
	job.RunAt = r.now().Add(r.cfg.RetryDelay * time.Duration(job.Attempt))
	logging.SchedulerWarn("job %s (%s) failed (attempt %d), retry at %s: %v",
		job.ID, job.Kind, job.Attempt, job.RunAt.Format(time.RFC3339), herr)
	if err := r.sched.Schedule(ctx, job); err != nil {
		return true, fmt.Errorf("rescheduling job %s: %w", job.ID, err)
	}
	return true, nil
}

// Run polls until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	logging.Scheduler("runner started: poll=%v sweep=%v concurrency=%d",
		r.cfg.PollInterval, r.cfg.SweepEvery, r.cfg.Concurrency)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return every(ctx, r.cfg.PollInterval, func() {
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				logging.SchedulerError("poll failed: %v", err)
			}
		})
	})

	r.mu.RLock()
	sweep := r.sweep
	r.mu.RUnlock()
	if sweep != nil {
		g.Go(func() error {
			return every(ctx, r.cfg.SweepEvery, func() {
				timer := logging.StartTimer(logging.CategoryScheduler, "sweep")
				if err := sweep(ctx); err != nil && ctx.Err() == nil {
					logging.SchedulerError("sweep failed: %v", err)
				}
				timer.Stop()
			})
		})
	}

	err := g.Wait()
	logging.Scheduler("runner stopped")
	return err
}

func every(ctx context.Context, d time.Duration, fn func()) error {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}
