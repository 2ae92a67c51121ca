// Package cache mirrors the latest quote and a capped history per contract
// into Redis so other processes can read them without the API.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgnsrekt/chainscout/internal/tracker"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chainscout:"

// Redis implements tracker.Sink.
type Redis struct {
	client *redis.Client
	limit  int
}

// NewRedis connects to addr/db and keeps at most limit history entries per
// contract.
func NewRedis(addr string, db, limit int) *Redis {
	return NewRedisClient(redis.NewClient(&redis.Options{Addr: addr, DB: db}), limit)
}

func NewRedisClient(client *redis.Client, limit int) *Redis {
	if limit <= 0 {
		limit = tracker.DefaultCap
	}
	return &Redis{client: client, limit: limit}
}

func historyKey(key string) string { return keyPrefix + "history:" + key }
func latestKey(key string) string  { return keyPrefix + "latest:" + key }

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: ping: %w", err)
	}
	return nil
}

// Publish pushes dp onto the contract's history and replaces its latest
// value in one pipeline.
func (r *Redis) Publish(ctx context.Context, dp tracker.DataPoint) error {
	data, err := json.Marshal(dp)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", dp.Key, err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, historyKey(dp.Key), data)
	pipe.LTrim(ctx, historyKey(dp.Key), 0, int64(r.limit-1))
	pipe.Set(ctx, latestKey(dp.Key), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: write %s: %w", dp.Key, err)
	}
	return nil
}

// Latest returns the newest point for key. ok is false when nothing is
// cached.
func (r *Redis) Latest(ctx context.Context, key string) (tracker.DataPoint, bool, error) {
	data, err := r.client.Get(ctx, latestKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tracker.DataPoint{}, false, nil
	}
	if err != nil {
		return tracker.DataPoint{}, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	var dp tracker.DataPoint
	if err := json.Unmarshal(data, &dp); err != nil {
		return tracker.DataPoint{}, false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return dp, true, nil
}

// History returns up to n points for key, oldest first.
func (r *Redis) History(ctx context.Context, key string, n int) ([]tracker.DataPoint, error) {
	if n <= 0 || n > r.limit {
		n = r.limit
	}
	raw, err := r.client.LRange(ctx, historyKey(key), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: history %s: %w", key, err)
	}
	out := make([]tracker.DataPoint, len(raw))
	for i, s := range raw {
		// LPUSH stores newest first.
		if err := json.Unmarshal([]byte(s), &out[len(raw)-1-i]); err != nil {
			return nil, fmt.Errorf("cache: decode history %s: %w", key, err)
		}
	}
	return out, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
