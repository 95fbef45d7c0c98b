package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"fitchat/internal/channel"
)

// CachedState is the per-channel reaction/receipt snapshot a chat session
// seeds itself from before live events arrive.
type CachedState struct {
	Reactions []*Reaction    `json:"reactions"`
	Receipts  []*ReadReceipt `json:"receipts"`
}

// Cache keeps CachedState snapshots in Redis. Best-effort: a failing
// cache degrades to empty seeds, never to a failed call.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "message-cache").Logger(),
	}
}

func stateKey(ref channel.Ref) string {
	return "fitchat:state:" + ref.String()
}

// Load returns the cached snapshot for ref, or nil on a miss.
func (c *Cache) Load(ctx context.Context, ref channel.Ref) *CachedState {
	raw, err := c.client.Get(ctx, stateKey(ref)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("channel", ref.String()).Msg("cache load failed")
		return nil
	}

	var state CachedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		c.log.Warn().Err(err).Str("channel", ref.String()).Msg("cache payload corrupt, dropping")
		c.client.Del(ctx, stateKey(ref))
		return nil
	}
	return &state
}

// Store writes the snapshot with the configured TTL.
func (c *Cache) Store(ctx context.Context, ref channel.Ref, state *CachedState) {
	raw, err := json.Marshal(state)
	if err != nil {
		c.log.Warn().Err(err).Str("channel", ref.String()).Msg("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, stateKey(ref), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("channel", ref.String()).Msg("cache store failed")
	}
}

// NewRedisClient connects and pings, failing fast on an unreachable
// server.
func NewRedisClient(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
