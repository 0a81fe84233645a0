// Package logging provides config-driven categorized logging for argent.
// Every category is a named child of a single zap root logger, so one sink
// and one level govern the whole process. Categories can be muted
// individually from the logging section of the engine config.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot   Category = "boot"   // Boot/initialization
	CategoryEngine Category = "engine" // Inbound handling, pipeline orchestration
	CategoryStore  Category = "store"  // Snapshot reads, delta applies, conflicts

	// Evaluator categories
	CategoryTrigger    Category = "trigger"    // Condition compile + trigger firing
	CategoryClaims     Category = "claims"     // Claim extraction and consistency checks
	CategoryContext    Category = "context"    // Context assembly and budget truncation
	CategoryLifecycle  Category = "lifecycle"  // Agent lifecycle transitions
	CategoryExposure   Category = "exposure"   // Exposure accumulation and spawns
	CategorySharing    Category = "sharing"    // Inter-agent exchanges
	CategoryEngagement Category = "engagement" // Engagement sweep and pacing

	// Collaborator categories
	CategoryScheduler Category = "scheduler" // Delayed jobs and periodic sweeps
	CategoryDelivery  Category = "delivery"  // Outbound dispatch
	CategoryLLM       Category = "llm"       // Generation and classification calls
	CategoryEmbedding Category = "embedding" // Embedding engine
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger is a category-scoped printf-style logger over zap.
type Logger struct {
	category Category
	z        *zap.Logger
	sugar    *zap.SugaredLogger
}

var (
	root        = zap.NewNop()
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories  map[string]bool
	loggers     = make(map[Category]*Logger)
	mu          sync.RWMutex
)

// Initialize builds a production zap logger from opts and installs it as the
// root for every category. The returned logger is owned by the caller, who
// should Sync it on shutdown.
func Initialize(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !opts.JSONFormat {
		cfg = zap.NewDevelopmentConfig()
	}
	atomicLevel.SetLevel(parseLevel(opts.Level))
	cfg.Level = atomicLevel

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	SetRoot(l)

	mu.Lock()
	categories = opts.Categories
	mu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("logging initialized (level=%s, json=%v)", atomicLevel.Level(), opts.JSONFormat)
	if len(opts.Categories) > 0 {
		enabled := 0
		for cat, on := range opts.Categories {
			if on {
				enabled++
			}
			boot.Debug("category '%s': %v", cat, on)
		}
		boot.Info("enabled categories: %d/%d", enabled, len(opts.Categories))
	}
	return l, nil
}

// SetRoot replaces the root logger. The CLI uses it to share the logger it
// built in PersistentPreRunE; tests use it with an observer core.
func SetRoot(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	root = l
	loggers = make(map[Category]*Logger)
}

// Root returns the current root zap logger.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// SetLevel changes the level of every category at runtime.
func SetLevel(level string) {
	atomicLevel.SetLevel(parseLevel(level))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		nop := zap.NewNop()
		return &Logger{category: category, z: nop, sugar: nop.Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := root.Named(string(category))
	l := &Logger{category: category, z: z, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// With returns a child logger carrying the given structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.z.With(fields...)
	return &Logger{category: l.category, z: z, sugar: z.Sugar()}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// StructuredLog writes a fully structured log entry with custom fields
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch parseLevel(level) {
	case zapcore.DebugLevel:
		l.z.Debug(msg, zf...)
	case zapcore.WarnLevel:
		l.z.Warn(msg, zf...)
	case zapcore.ErrorLevel:
		l.z.Error(msg, zf...)
	default:
		l.z.Info(msg, zf...)
	}
}

// ForPlayer returns a category logger tagged with a player id.
func ForPlayer(category Category, playerID string) *Logger {
	return Get(category).With(zap.String("player", playerID))
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Error(format, args...) }

func Engine(format string, args ...interface{})      { Get(CategoryEngine).Info(format, args...) }
func EngineDebug(format string, args ...interface{}) { Get(CategoryEngine).Debug(format, args...) }
func EngineWarn(format string, args ...interface{})  { Get(CategoryEngine).Warn(format, args...) }
func EngineError(format string, args ...interface{}) { Get(CategoryEngine).Error(format, args...) }

func Store(format string, args ...interface{})      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }
func StoreError(format string, args ...interface{}) { Get(CategoryStore).Error(format, args...) }

func Trigger(format string, args ...interface{})      { Get(CategoryTrigger).Info(format, args...) }
func TriggerDebug(format string, args ...interface{}) { Get(CategoryTrigger).Debug(format, args...) }

func Claims(format string, args ...interface{})      { Get(CategoryClaims).Info(format, args...) }
func ClaimsDebug(format string, args ...interface{}) { Get(CategoryClaims).Debug(format, args...) }
func ClaimsWarn(format string, args ...interface{})  { Get(CategoryClaims).Warn(format, args...) }

func Context(format string, args ...interface{})      { Get(CategoryContext).Info(format, args...) }
func ContextDebug(format string, args ...interface{}) { Get(CategoryContext).Debug(format, args...) }
func ContextWarn(format string, args ...interface{})  { Get(CategoryContext).Warn(format, args...) }

func Lifecycle(format string, args ...interface{}) { Get(CategoryLifecycle).Info(format, args...) }
func LifecycleDebug(format string, args ...interface{}) {
	Get(CategoryLifecycle).Debug(format, args...)
}

func Exposure(format string, args ...interface{})      { Get(CategoryExposure).Info(format, args...) }
func ExposureDebug(format string, args ...interface{}) { Get(CategoryExposure).Debug(format, args...) }

func Sharing(format string, args ...interface{})      { Get(CategorySharing).Info(format, args...) }
func SharingDebug(format string, args ...interface{}) { Get(CategorySharing).Debug(format, args...) }

func Engagement(format string, args ...interface{}) { Get(CategoryEngagement).Info(format, args...) }
func EngagementDebug(format string, args ...interface{}) {
	Get(CategoryEngagement).Debug(format, args...)
}

func Scheduler(format string, args ...interface{}) { Get(CategoryScheduler).Info(format, args...) }
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debug(format, args...)
}
func SchedulerWarn(format string, args ...interface{}) { Get(CategoryScheduler).Warn(format, args...) }
func SchedulerError(format string, args ...interface{}) {
	Get(CategoryScheduler).Error(format, args...)
}

func Delivery(format string, args ...interface{})      { Get(CategoryDelivery).Info(format, args...) }
func DeliveryDebug(format string, args ...interface{}) { Get(CategoryDelivery).Debug(format, args...) }
func DeliveryWarn(format string, args ...interface{})  { Get(CategoryDelivery).Warn(format, args...) }

func LLM(format string, args ...interface{})      { Get(CategoryLLM).Info(format, args...) }
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debug(format, args...) }
func LLMWarn(format string, args ...interface{})  { Get(CategoryLLM).Warn(format, args...) }

func Embedding(format string, args ...interface{}) { Get(CategoryEmbedding).Info(format, args...) }
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}
func EmbeddingWarn(format string, args ...interface{}) { Get(CategoryEmbedding).Warn(format, args...) }

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
