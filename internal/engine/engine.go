// Package engine wires the narrative model, the state store and the
// collaborators into the three entry points the outside world uses: an
// inbound player message, a due scheduled job, and the periodic sweep.
//
// Every state change goes through store.Committer, so the read, propose,
// apply loop for one player is serialized. Calls to external services
// (classification, generation, claim extraction, memory, delivery) happen
// outside the player lock where possible and are retried with exponential
// backoff; exhausted retries degrade or requeue and never reach the player.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"argent/internal/action"
	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/convcache"
	"argent/internal/delivery"
	"argent/internal/faults"
	"argent/internal/llm"
	"argent/internal/logging"
	"argent/internal/memory"
	"argent/internal/narrative"
	"argent/internal/scheduler"
	"argent/internal/store"
)

var tracer = otel.Tracer("argent/internal/engine")

// Generator turns an assembled context bundle into message text.
type Generator interface {
	Generate(ctx context.Context, b assembler.Bundle) (string, error)
}

// Classifier scores a player/agent exchange.
type Classifier interface {
	Classify(ctx context.Context, x llm.Exchange) (llm.Classification, error)
}

// Deps are the engine's collaborators. Memory and Conversations may be nil.
type Deps struct {
	Store         store.Store
	Committer     *store.Committer
	Scheduler     scheduler.Scheduler
	Model         *narrative.Model
	Tracker       *claims.Tracker
	Assembler     *assembler.Assembler
	Generator     Generator
	Extractor     claims.Extractor
	Classifier    Classifier
	Memory        memory.Service
	Conversations convcache.Cache
	Gateway       delivery.Gateway
}

// Options bound the engine's retry and context behavior.
type Options struct {
	MaxRegenerations   int
	ExternalRetries    int
	RetryInitial       time.Duration
	RetryMax           time.Duration
	RequeueDelay       time.Duration
	MaxRequeues        int
	ConversationWindow int
	MemoryResults      int
	SweepConcurrency   int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		MaxRegenerations:   3,
		ExternalRetries:    3,
		RetryInitial:       500 * time.Millisecond,
		RetryMax:           10 * time.Second,
		RequeueDelay:       5 * time.Minute,
		MaxRequeues:        3,
		ConversationWindow: 20,
		MemoryResults:      5,
		SweepConcurrency:   4,
	}
}

// Engine is the narrative engine.
type Engine struct {
	deps  Deps
	opts  Options
	model *narrative.Model
	queue *action.Queue
	now   func() time.Time
}

// New validates deps and returns an engine.
func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("engine: store is required")
	case deps.Committer == nil:
		return nil, fmt.Errorf("engine: committer is required")
	case deps.Scheduler == nil:
		return nil, fmt.Errorf("engine: scheduler is required")
	case deps.Model == nil:
		return nil, fmt.Errorf("engine: narrative model is required")
	case deps.Tracker == nil, deps.Assembler == nil:
		return nil, fmt.Errorf("engine: claim tracker and assembler are required")
	case deps.Generator == nil, deps.Extractor == nil, deps.Classifier == nil:
		return nil, fmt.Errorf("engine: generator, extractor and classifier are required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("engine: delivery gateway is required")
	}

	def := DefaultOptions()
	if opts.MaxRegenerations <= 0 {
		opts.MaxRegenerations = def.MaxRegenerations
	}
	if opts.ExternalRetries <= 0 {
		opts.ExternalRetries = def.ExternalRetries
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = def.RetryInitial
	}
	if opts.RetryMax < opts.RetryInitial {
		opts.RetryMax = max(def.RetryMax, opts.RetryInitial)
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = def.RequeueDelay
	}
	if opts.MaxRequeues <= 0 {
		opts.MaxRequeues = def.MaxRequeues
	}
	if opts.ConversationWindow <= 0 {
		opts.ConversationWindow = def.ConversationWindow
	}
	if opts.MemoryResults <= 0 {
		opts.MemoryResults = def.MemoryResults
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = def.SweepConcurrency
	}

	e := &Engine{
		deps:  deps,
		opts:  opts,
		model: deps.Model,
		queue: action.NewQueue(deps.Scheduler),
		now:   time.Now,
	}
	logging.Boot("engine ready: %d agent(s), %d trigger(s), %d story event(s)",
		len(e.model.Agents), len(e.model.Triggers), len(e.model.StoryEvents))
	return e, nil
}

// SetClock replaces the time source. The committer's clock is replaced too
// so applied deltas carry the same time.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.deps.Committer.Now = now
}

// Model returns the compiled narrative.
func (e *Engine) Model() *narrative.Model { return e.model }

// retry runs op with exponential backoff. Errors that are not retryable
// stop at once.
func retry[T any](ctx context.Context, e *Engine, what string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInitial
	b.MaxInterval = e.opts.RetryMax
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !faults.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(e.opts.ExternalRetries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logging.EngineWarn("%s failed, retrying in %v: %v", what, next, err)
		}),
	)
}

func startSpan(ctx context.Context, name, playerID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("player.id", playerID))
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
