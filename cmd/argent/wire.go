package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"argent/internal/assembler"
	"argent/internal/claims"
	"argent/internal/config"
	"argent/internal/convcache"
	"argent/internal/delivery"
	"argent/internal/embedding"
	"argent/internal/engine"
	"argent/internal/llm"
	"argent/internal/logging"
	"argent/internal/memory"
	"argent/internal/narrative"
	"argent/internal/scheduler"
	"argent/internal/state"
	"argent/internal/store"
	"argent/internal/store/postgres"
	"argent/internal/store/sqlite"
)

const (
	// conversationTTL bounds how long an idle conversation window is cached.
	conversationTTL = 30 * 24 * time.Hour
	// memoryMinScore drops weak semantic memory hits.
	memoryMinScore = 0.35
)

// runtime is everything a command needs, built from the loaded config.
type runtime struct {
	model   *narrative.Model
	store   store.Store
	sched   scheduler.Scheduler
	engine  *engine.Engine
	gateway *delivery.Dispatcher
	closers []func() error
}

// Close releases backends in reverse order of opening.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// openStore opens the configured state backend.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Backend {
	case "memory":
		logging.BootWarn("memory store selected: state is lost on exit")
		return store.NewMemory(), nil
	case "postgres":
		return postgres.New(ctx, c.Store.DSN)
	default:
		if dir := filepath.Dir(c.Store.Path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		return sqlite.Open(c.Store.Path, c.Store.Driver)
	}
}

// buildRuntime wires the engine and its collaborators.
func buildRuntime(ctx context.Context, c *config.Config) (*runtime, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "buildRuntime")
	defer timer.Stop()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	model, err := narrative.Load(c.NarrativePath)
	if err != nil {
		return nil, err
	}

	rt := &runtime{model: model}
	fail := func(err error) (*runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	st, err := openStore(ctx, c)
	if err != nil {
		return fail(fmt.Errorf("opening %s store: %w", c.Store.Backend, err))
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	var rdb *redis.Client
	if c.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: c.Redis.Addr, Password: c.Redis.Password, DB: c.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return fail(fmt.Errorf("connecting to redis at %s: %w", c.Redis.Addr, err))
		}
		rt.closers = append(rt.closers, rdb.Close)
		logging.Boot("redis connected: %s", c.Redis.Addr)
	}

	if c.Scheduler.Backend == "redis" {
		rt.sched = scheduler.NewRedis(rdb, c.Redis.KeyPrefix)
	} else {
		rt.sched = scheduler.NewMemory()
	}

	var conv convcache.Cache = convcache.NewMemory(c.Engine.ConversationWindow)
	if rdb != nil {
		conv = convcache.NewRedis(rdb, c.Redis.KeyPrefix, c.Engine.ConversationWindow, conversationTTL)
	}

	emb, err := embedding.NewEngine(ctx, embedding.Config{
		Provider:   c.Embedding.Provider,
		APIKey:     c.LLM.APIKey,
		Model:      c.Embedding.Model,
		Dimensions: c.Embedding.Dimensions,
		TaskType:   "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return fail(err)
	}

	gen, judge, err := llmClients(ctx, c)
	if err != nil {
		return fail(err)
	}

	tracker, err := buildTracker(c, emb, model)
	if err != nil {
		return fail(err)
	}

	rt.gateway = delivery.NewDispatcher(c.Delivery.FallbackChannel)
	log := &delivery.LogSender{}
	for _, ch := range []string{"email", "sms", delivery.ChannelWeb} {
		rt.gateway.Register(ch, log)
	}

	rt.engine, err = engine.New(engine.Deps{
		Store:     st,
		Committer: store.NewCommitter(st, store.NewLocker(), c.GetLockWait(), c.Engine.ConflictRetries),
		Scheduler: rt.sched,
		Model:     model,
		Tracker:   tracker,
		Assembler: assembler.New(assembler.Shares{
			Total:        c.Context.TotalBudget,
			Agent:        c.Context.AgentPercent,
			State:        c.Context.StatePercent,
			Conversation: c.Context.ConversationPercent,
			Memory:       c.Context.MemoryPercent,
		}),
		Generator:     llm.NewGenerator(gen),
		Extractor:     llm.NewExtractor(judge),
		Classifier:    llm.NewClassifier(judge),
		Memory:        memory.NewLocalIndex(emb, memoryMinScore, 0),
		Conversations: conv,
		Gateway:       rt.gateway,
	}, engine.Options{
		MaxRegenerations:   c.Engine.MaxRegenerations,
		ExternalRetries:    c.Engine.ExternalRetries,
		RetryInitial:       c.GetRetryInitial(),
		RetryMax:           c.GetRetryMax(),
		RequeueDelay:       c.GetRequeueDelay(),
		ConversationWindow: c.Engine.ConversationWindow,
		MemoryResults:      c.Engine.MemoryResults,
	})
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

// llmClients returns the generation client and the JSON client shared by
// classification and claim extraction.
func llmClients(ctx context.Context, c *config.Config) (llm.Client, llm.Client, error) {
	if c.LLM.Provider == "none" || c.LLM.Provider == "offline" {
		logging.BootWarn("LLM provider %q: generation echoes the message goal", c.LLM.Provider)
		return llm.OfflineClient{}, llm.OfflineClient{JSON: true}, nil
	}
	gen, err := llm.NewGenAIClient(ctx, llm.GenAIConfig{
		APIKey:          c.LLM.APIKey,
		Model:           c.LLM.Model,
		Temperature:     c.LLM.Temperature,
		MaxOutputTokens: c.LLM.MaxOutputTokens,
		Timeout:         c.GetLLMTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	judge, err := llm.NewGenAIClient(ctx, llm.GenAIConfig{
		APIKey:  c.LLM.APIKey,
		Model:   c.LLM.ClassifierModel,
		Timeout: c.GetClassifierTimeout(),
		JSON:    true,
	})
	if err != nil {
		return nil, nil, err
	}
	return gen, judge, nil
}

func buildTracker(c *config.Config, emb embedding.Engine, model *narrative.Model) (*claims.Tracker, error) {
	threshold, err := state.ParseSignificance(c.Engine.ClaimThreshold)
	if err != nil {
		return nil, fmt.Errorf("engine.claim_threshold: %w", err)
	}
	block, err := state.ParseSignificance(c.Engine.BlockSignificance)
	if err != nil {
		return nil, fmt.Errorf("engine.block_significance: %w", err)
	}
	return claims.NewTracker(claims.Config{
		Threshold:    threshold,
		Block:        block,
		HistoryLimit: c.Engine.ClaimHistoryLimit,
		Similarity:   c.Embedding.SimilarityThreshold,
	}, emb, model.ClaimRules, model.Conflicts), nil
}

// runnerConfig maps the scheduler section onto the runner.
func runnerConfig(c *config.Config) scheduler.RunnerConfig {
	rc := scheduler.DefaultRunnerConfig()
	rc.PollInterval = c.GetPollInterval()
	rc.SweepEvery = c.GetSweepEvery()
	if c.Scheduler.Concurrency > 0 {
		rc.Concurrency = c.Scheduler.Concurrency
	}
	if c.Scheduler.BatchSize > 0 {
		rc.BatchSize = c.Scheduler.BatchSize
	}
	return rc
}
