package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"

	goredis "github.com/redis/go-redis/v9"
)

// NewRedisClient connects to REDIS_ADDR. It returns nil without error when
// the variable is unset so callers can fall back to in-memory stores.
func NewRedisClient(ctx context.Context) (*goredis.Client, error) {
	addr := util.GetEnv("REDIS_ADDR")
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    util.GetEnv("REDIS_PASSWORD"),
		DB:          util.GetEnvInt("REDIS_DB", 0),
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
