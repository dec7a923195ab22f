package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "indaga:answer:"

// RedisCache stores answers as JSON strings with a per-entry TTL.
type RedisCache struct {
	rdb *goredis.Client
}

func NewRedisCache(rdb *goredis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*common.Answer, bool, error) {
	raw, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer: %w", err)
	}
	var a common.Answer
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return &a, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, answer common.Answer, ttl time.Duration) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer: %w", err)
	}
	return nil
}

func (r *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	pattern := keyPrefix + escapeGlob(prefix) + "*"
	removed := 0
	iter := r.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := r.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("redis invalidate: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("redis invalidate: %w", err)
	}
	return removed, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
