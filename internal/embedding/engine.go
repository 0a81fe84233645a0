// Package embedding turns short texts (claims, knowledge facts, memories)
// into vectors for semantic matching.
// Supports two backends: Google GenAI (cloud) and a lexical hashing engine
// that needs no network.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"

	"argent/internal/logging"
)

// =============================================================================
// EMBEDDING ENGINE INTERFACE
// =============================================================================

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates embeddings for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings
	Dimensions() int

	// Name returns the engine name
	Name() string
}

// TaskTuner is implemented by engines whose vectors depend on the intended
// use (query vs document, similarity). Engines without it ignore the hint.
type TaskTuner interface {
	WithTaskType(taskType string) Engine
}

// ForContent returns e tuned for the given content, or e itself.
func ForContent(e Engine, ct ContentType, isQuery bool) Engine {
	if t, ok := e.(TaskTuner); ok {
		return t.WithTaskType(SelectTaskType(ct, isQuery))
	}
	return e
}

// =============================================================================
// EMBEDDING CONFIGURATION
// =============================================================================

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "genai" or "lexical"
	Provider string `json:"provider"`

	APIKey     string `json:"api_key"`
	Model      string `json:"model"`      // Default: "text-embedding-004"
	Dimensions int    `json:"dimensions"` // lexical vector size, genai output size when set

	// TaskType for GenAI: "SEMANTIC_SIMILARITY", "RETRIEVAL_QUERY", "RETRIEVAL_DOCUMENT"
	TaskType string `json:"task_type"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:   "lexical",
		Model:      "text-embedding-004",
		Dimensions: 256,
		TaskType:   "SEMANTIC_SIMILARITY",
	}
}

// =============================================================================
// FACTORY
// =============================================================================

// NewEngine creates an embedding engine based on configuration.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	logging.EmbeddingDebug("Engine config: provider=%s, model=%s, dimensions=%d, task_type=%s",
		cfg.Provider, cfg.Model, cfg.Dimensions, cfg.TaskType)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "lexical", "":
		engine = NewLexicalEngine(cfg.Dimensions)
	case "genai":
		engine, err = NewGenAIEngine(ctx, cfg.APIKey, cfg.Model, cfg.TaskType, cfg.Dimensions)
	default:
		err = fmt.Errorf("unsupported embedding provider: %s (use 'genai' or 'lexical')", cfg.Provider)
	}
	if err != nil {
		logging.EmbeddingWarn("Failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("Embedding engine ready: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}

// =============================================================================
// COSINE SIMILARITY UTILITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical, 0 means orthogonal.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// SimilarityResult represents a similarity search result.
type SimilarityResult struct {
	Index      int
	Similarity float64
}

// FindTopK returns the indices of the K most similar corpus vectors,
// most similar first. Vectors of the wrong size are skipped.
func FindTopK(query []float32, corpus [][]float32, k int) []SimilarityResult {
	if k <= 0 {
		k = 10
	}

	results := make([]SimilarityResult, 0, len(corpus))
	skipped := 0
	for i, vec := range corpus {
		sim, err := CosineSimilarity(query, vec)
		if err != nil {
			skipped++
			continue
		}
		results = append(results, SimilarityResult{Index: i, Similarity: sim})
	}
	if skipped > 0 {
		logging.EmbeddingWarn("FindTopK: skipped %d vectors due to dimension mismatch", skipped)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results
}
