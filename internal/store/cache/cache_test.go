package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A nil *Cache must behave as a transparent pass-through so the dispatcher
// and notifier can run with Redis unconfigured (spec.md Non-goals: Redis is
// an acceleration layer, never a required dependency).
func TestNilCache_IsPassThrough(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	require.NoError(t, c.PutSRN(ctx, "/cse-in1/ae1/cnt1", "ri-1"))

	_, ok, err := c.GetSRN(ctx, "/cse-in1/ae1/cnt1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.InvalidateSRN(ctx, "/cse-in1/ae1/cnt1"))

	count, err := c.IncrBatchCount(ctx, "sub-1", "http://example.org")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, c.ResetBatchCount(ctx, "sub-1", "http://example.org"))
	require.NoError(t, c.Close())
}
