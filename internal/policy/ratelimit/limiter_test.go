package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headless-fetch/internal/metrics"
)

func TestLimiterWaitSpacesSameHost(t *testing.T) {
	metrics.Init()
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "test.com"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	metrics.Init()
	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "a.example"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "b.example"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	require.NoError(t, l.Wait(ctx, "A.Example"))
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	metrics.Init()
	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "slow.example"))
}

func TestLimiterDisabled(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(ctx, "example.com"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterEmptyHost(t *testing.T) {
	l := New(Config{})
	require.NoError(t, l.Wait(context.Background(), ""))
	assert.Equal(t, 1, l.Hosts())
}
