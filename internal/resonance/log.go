package resonance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/nidhogg/nuka-mind/internal/thought"
)

// MemoryLog keeps response history in process.
type MemoryLog struct {
	mu   sync.RWMutex
	byWA map[string][]thought.WAResponse
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{byWA: make(map[string][]thought.WAResponse)}
}

func (l *MemoryLog) Append(_ context.Context, r thought.WAResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byWA[r.WAID] = append(l.byWA[r.WAID], r)
	return nil
}

func (l *MemoryLog) Recent(_ context.Context, waID string, n int) ([]thought.WAResponse, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	all := l.byWA[waID]
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]thought.WAResponse, len(all))
	copy(out, all)
	return out, nil
}

const historyPrefix = "mind:wa:"

// RedisLog stores each reviewer's history as a Redis list.
type RedisLog struct {
	rdb *redis.Client
}

// NewRedisLog wraps an existing client.
func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb}
}

func (l *RedisLog) Append(ctx context.Context, r thought.WAResponse) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	key := historyPrefix + r.WAID
	if err := l.rdb.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("append to %s: %w", key, err)
	}
	return nil
}

func (l *RedisLog) Recent(ctx context.Context, waID string, n int) ([]thought.WAResponse, error) {
	key := historyPrefix + waID
	raw, err := l.rdb.LRange(ctx, key, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	out := make([]thought.WAResponse, 0, len(raw))
	for _, s := range raw {
		var r thought.WAResponse
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			return nil, fmt.Errorf("decode wa response: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
