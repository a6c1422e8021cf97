package lease

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when FINOPS_TEST_REDIS_ADDR is set.
func TestRedisLease(t *testing.T) {
	addr := os.Getenv("FINOPS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FINOPS_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(addr)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	prefix := "finopsd-test:" + uuid.NewString() + ":"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewRedis(client, prefix, logger)
	b := NewRedis(client, prefix, logger)

	release, ok, err := a.TryAcquire(ctx, "sla_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryAcquire(ctx, "sla_sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryAcquire(ctx, "sla_sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A second release from the first holder must not free b's lease.
	release()
	_, ok, err = a.TryAcquire(ctx, "sla_sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	releaseB()
}
