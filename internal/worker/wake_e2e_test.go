//go:build e2e

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

func TestWakeBusRoundTrip(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	bus, err := NewWakeBus(ctx, "redis://"+endpoint, 100*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := bus.Subscribe(subCtx)

	// Let the first XREAD anchor at "$" before publishing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, bus.Notify(ctx, "task-42"))

	select {
	case w := <-ch:
		assert.Equal(t, "task-42", w.TaskID)
	case <-time.After(5 * time.Second):
		t.Fatal("no wake received")
	}

	cancel()
	for range ch {
	}
}
