package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Wake announces that new work may be claimable.
type Wake struct {
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

const (
	wakeStream    = "mind:wake"
	wakeStreamLen = 1000
)

// WakeBus carries wake-ups between processes over a Redis stream.
type WakeBus struct {
	rdb    *redis.Client
	block  time.Duration
	logger *zap.Logger
}

// NewWakeBus connects to Redis. block bounds each XREAD.
func NewWakeBus(ctx context.Context, redisURL string, block time.Duration, logger *zap.Logger) (*WakeBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if block <= 0 {
		block = time.Second
	}
	return &WakeBus{rdb: rdb, block: block, logger: logger}, nil
}

// Notify appends a wake-up to the stream.
func (b *WakeBus) Notify(ctx context.Context, taskID string) error {
	data, err := json.Marshal(Wake{TaskID: taskID, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: wakeStream,
		MaxLen: wakeStreamLen,
		Approx: true,
		Values: map[string]any{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish wake to %s: %w", wakeStream, err)
	}
	b.logger.Debug("published wake", zap.String("task_id", taskID))
	return nil
}

// Subscribe emits wake-ups published after the call. Cancel ctx to stop;
// the channel is closed when the reader exits.
func (b *WakeBus) Subscribe(ctx context.Context) <-chan Wake {
	ch := make(chan Wake, 16)

	go func() {
		defer close(ch)
		// Anchor on the subscribe time so wake-ups between reads are not lost.
		lastID := fmt.Sprintf("%d-0", time.Now().UnixMilli())

		for ctx.Err() == nil {
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{wakeStream, lastID},
				Count:   16,
				Block:   b.block,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read wake stream failed", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(b.block):
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var w Wake
					if json.Unmarshal([]byte(data), &w) != nil {
						continue
					}
					select {
					case ch <- w:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *WakeBus) Close() error {
	return b.rdb.Close()
}
