// Package cache is an L2 profile_key -> snapshot location cache backed by
// Redis and shared across hosts; the firecracker driver consults it before
// falling back to the snapshot archive in internal/snapshotstore.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "capsule:snapshot:"

// Entry mirrors store.SnapshotRecord's cacheable fields.
type Entry struct {
	SnapshotPath string   `json:"snapshot_path"`
	MemPath      string   `json:"mem_path"`
	Dependencies []string `json:"dependencies"`
}

// Cache wraps a Redis client scoped to snapshot lookups.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Open connects to addr and verifies reachability. ttl <= 0 means entries
// never expire (Redis is an accelerator, not required for correctness).
func Open(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the cached entry for profileKey, if present.
func (c *Cache) Get(ctx context.Context, profileKey string) (*Entry, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+profileKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decode cached snapshot entry: %w", err)
	}
	return &e, true, nil
}

// Set stores entry for profileKey, overwriting any prior value.
func (c *Cache) Set(ctx context.Context, profileKey string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode snapshot entry: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+profileKey, data, c.ttl).Err()
}

// Invalidate drops the cached entry for profileKey, e.g. after
// re-provisioning replaces the underlying snapshot.
func (c *Cache) Invalidate(ctx context.Context, profileKey string) error {
	return c.client.Del(ctx, keyPrefix+profileKey).Err()
}
