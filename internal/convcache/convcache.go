// Package convcache holds the recent conversation between a player and an
// agent. The engine appends delivered and received messages; the context
// assembler reads the newest ones back.
package convcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"argent/internal/faults"
)

// Entry is one cached message.
type Entry struct {
	FromPlayer bool      `json:"from_player"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// Cache is the conversation cache contract. Recent returns up to n
// entries, oldest first.
type Cache interface {
	Append(ctx context.Context, playerID, agentID string, e Entry) error
	Recent(ctx context.Context, playerID, agentID string, n int) ([]Entry, error)
}

// =============================================================================
// REDIS
// =============================================================================

// Redis stores each conversation as a capped list under
// "{prefix}:conv:{player}:{agent}".
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	max    int64
	ttl    time.Duration
}

// NewRedis wraps a client. max caps each list; ttl, when positive, expires
// idle conversations.
func NewRedis(rdb redis.UniversalClient, prefix string, max int, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "argent"
	}
	if max <= 0 {
		max = 100
	}
	return &Redis{rdb: rdb, prefix: prefix, max: int64(max), ttl: ttl}
}

func (r *Redis) key(playerID, agentID string) string {
	return fmt.Sprintf("%s:conv:%s:%s", r.prefix, playerID, agentID)
}

// Append pushes an entry and trims the list in one round trip.
func (r *Redis) Append(ctx context.Context, playerID, agentID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	k := r.key(playerID, agentID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, k, data)
		p.LTrim(ctx, k, -r.max, -1)
		if r.ttl > 0 {
			p.Expire(ctx, k, r.ttl)
		}
		return nil
	})
	return faults.External("convcache", err)
}

// Recent reads the newest n entries.
func (r *Redis) Recent(ctx context.Context, playerID, agentID string, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := r.rdb.LRange(ctx, r.key(playerID, agentID), int64(-n), -1).Result()
	if err != nil {
		return nil, faults.External("convcache", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			// tolerate foreign writers; a bare string is a player message
			e = Entry{FromPlayer: true, Text: s}
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// MEMORY
// =============================================================================

// Memory is an in-process cache for tests and single-node runs.
type Memory struct {
	mu   sync.RWMutex
	max  int
	data map[string][]Entry
}

// NewMemory returns an empty cache capping each conversation at max.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 100
	}
	return &Memory{max: max, data: make(map[string][]Entry)}
}

func (m *Memory) Append(_ context.Context, playerID, agentID string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := playerID + "|" + agentID
	list := append(m.data[k], e)
	if len(list) > m.max {
		list = list[len(list)-m.max:]
	}
	m.data[k] = list
	return nil
}

func (m *Memory) Recent(_ context.Context, playerID, agentID string, n int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.data[playerID+"|"+agentID]
	if n < len(list) {
		list = list[len(list)-n:]
	}
	return append([]Entry(nil), list...), nil
}
