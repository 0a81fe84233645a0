// Package memory is the semantic-memory collaborator: it indexes past
// conversation excerpts per player and agent and returns the ones most
// relevant to a new message.
package memory

import (
	"context"
	"sync"

	"argent/internal/embedding"
	"argent/internal/faults"
	"argent/internal/logging"
)

// Hit is one search result.
type Hit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Service is the semantic memory contract.
type Service interface {
	Search(ctx context.Context, playerID, agentID, query string, topK int) ([]Hit, error)
	Index(ctx context.Context, playerID, agentID, id, content string) error
}

type entry struct {
	id      string
	content string
	vec     []float32
}

// LocalIndex keeps vectors in process. It is the offline stand-in for a
// hosted memory service and loses its contents on restart.
type LocalIndex struct {
	engine   embedding.Engine
	minScore float64

	mu      sync.RWMutex
	entries map[string][]entry
	limit   int
}

// NewLocalIndex returns an index over engine. Hits scoring below minScore
// are dropped; limit bounds entries kept per player and agent (oldest go
// first).
func NewLocalIndex(engine embedding.Engine, minScore float64, limit int) *LocalIndex {
	if limit <= 0 {
		limit = 500
	}
	return &LocalIndex{engine: engine, minScore: minScore, entries: make(map[string][]entry), limit: limit}
}

func key(playerID, agentID string) string { return playerID + "|" + agentID }

// Index embeds and stores content. Re-indexing an id replaces it.
func (l *LocalIndex) Index(ctx context.Context, playerID, agentID, id, content string) error {
	vec, err := embedding.ForContent(l.engine, embedding.ContentTypeMemory, false).Embed(ctx, content)
	if err != nil {
		return faults.External("memory", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	k := key(playerID, agentID)
	list := l.entries[k]
	for i := range list {
		if list[i].id == id {
			list[i] = entry{id: id, content: content, vec: vec}
			return nil
		}
	}
	list = append(list, entry{id: id, content: content, vec: vec})
	if len(list) > l.limit {
		list = list[len(list)-l.limit:]
	}
	l.entries[k] = list
	return nil
}

// Search returns up to topK entries most similar to query.
func (l *LocalIndex) Search(ctx context.Context, playerID, agentID, query string, topK int) ([]Hit, error) {
	l.mu.RLock()
	list := append([]entry(nil), l.entries[key(playerID, agentID)]...)
	l.mu.RUnlock()
	if len(list) == 0 || query == "" {
		return nil, nil
	}

	q, err := embedding.ForContent(l.engine, embedding.ContentTypeMemory, true).Embed(ctx, query)
	if err != nil {
		return nil, faults.External("memory", err)
	}
	corpus := make([][]float32, len(list))
	for i, e := range list {
		corpus[i] = e.vec
	}

	var hits []Hit
	for _, r := range embedding.FindTopK(q, corpus, topK) {
		if r.Similarity < l.minScore {
			continue
		}
		e := list[r.Index]
		hits = append(hits, Hit{ID: e.id, Content: e.content, Score: r.Similarity})
	}
	logging.EmbeddingDebug("memory search %s/%s: %d of %d entries matched", playerID, agentID, len(hits), len(list))
	return hits, nil
}
