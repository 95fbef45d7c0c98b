package message

import (
	"database/sql"

	"github.com/go-redis/redis/v8"
	"github.com/google/wire"
	"github.com/rs/zerolog"

	"fitchat/config"
)

// ProvideRepository is a Wire provider function that creates the Postgres
// message repository.
func ProvideRepository(db *sql.DB) Repository {
	return NewPostgresRepository(db)
}

// ProvideRedisClient is a Wire provider function that connects to Redis.
func ProvideRedisClient(cfg *config.Config) (*redis.Client, error) {
	return NewRedisClient(cfg.RedisAddr)
}

// ProvideCache is a Wire provider function that creates the Redis-backed
// snapshot cache.
func ProvideCache(cfg *config.Config, client *redis.Client, log zerolog.Logger) *Cache {
	return NewCache(client, cfg.CacheTTL, log)
}

// ProvideService is a Wire provider function that creates the message
// store adapter.
func ProvideService(repo Repository, cache *Cache, log zerolog.Logger) *Service {
	return NewService(repo, cache, log)
}

var Set = wire.NewSet(ProvideRepository, ProvideRedisClient, ProvideCache, ProvideService)
