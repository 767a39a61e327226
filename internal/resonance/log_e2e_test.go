//go:build e2e

package resonance

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "start redis")
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err, "redis endpoint")
	opts, err := redis.ParseURL("redis://" + endpoint)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedisLogDrift(t *testing.T) {
	ctx := context.Background()
	log := NewRedisLog(startRedis(t))
	tr := NewTracker(log, zap.NewNop())

	for _, r := range responses("wa-redis", false, true, true, true, false, false) {
		require.NoError(t, tr.RecordResponse(ctx, r))
	}
	recent, err := log.Recent(ctx, "wa-redis", Window)
	require.NoError(t, err)
	require.Len(t, recent, Window)
	assert.Equal(t, "act-1", recent[0].ActionID)
	assert.Equal(t, "act-5", recent[4].ActionID)

	drift, err := tr.DetectDrift(ctx, "wa-redis", responses("wa-redis", false)[0])
	require.NoError(t, err)
	assert.True(t, drift)
}
