package switchboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStateCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewStateCache(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx)
	require.False(t, ok)

	state := State{
		Components: map[string]ComponentFlag{
			"accounting_gateway_enforcement": {Name: "accounting_gateway_enforcement", Enabled: true},
		},
		Workflows:   map[string]WorkflowFlag{},
		Emergencies: map[string]EmergencyFlag{},
	}
	cache.Set(ctx, state)

	got, ok := cache.Get(ctx)
	require.True(t, ok)
	require.True(t, got.Components["accounting_gateway_enforcement"].Enabled)

	cache.Invalidate(ctx)
	_, ok = cache.Get(ctx)
	require.False(t, ok)
}

func TestStateCacheExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewStateCache(client, time.Second)
	ctx := context.Background()

	cache.Set(ctx, State{Components: map[string]ComponentFlag{}})
	mr.FastForward(2 * time.Second)

	_, ok := cache.Get(ctx)
	require.False(t, ok)
}

func TestStateCacheNilClient(t *testing.T) {
	cache := NewStateCache(nil, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, State{})
	_, ok := cache.Get(ctx)
	require.False(t, ok)
	cache.Invalidate(ctx)
}
