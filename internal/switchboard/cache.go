package switchboard

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateCacheKey = "switchboard:state"

// StateCache is a short-TTL read-through cache for flag state. Flag reads
// sit on the hot path of every gateway call; writes invalidate.
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache builds the cache. A nil client disables caching.
func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &StateCache{client: client, ttl: ttl}
}

// Get returns the cached state when present.
func (c *StateCache) Get(ctx context.Context) (State, bool) {
	if c == nil || c.client == nil {
		return State{}, false
	}
	raw, err := c.client.Get(ctx, stateCacheKey).Bytes()
	if err != nil {
		return State{}, false
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false
	}
	return state, true
}

// Set stores the state with the configured TTL.
func (c *StateCache) Set(ctx context.Context, state State) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, stateCacheKey, raw, c.ttl).Err()
}

// Invalidate drops the cached state after a flag write.
func (c *StateCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, stateCacheKey).Err()
}
