package db

import (
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns the client backing the presence bridge, or nil when
// no address is configured and the API runs as a single instance.
func ConnectRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}

	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		ClientName:   "convoy-presence",
		DialTimeout:  2 * time.Second,
		WriteTimeout: time.Second,
	})
}
