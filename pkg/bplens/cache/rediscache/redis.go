// Package rediscache shares the keyword-count cache between runs and machines.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognicore/bplens/pkg/bplens/internalerr"
	"github.com/cognicore/bplens/pkg/bplens/keywords"
)

// DefaultPrefix namespaces cache keys by extraction rules version.
const DefaultPrefix = "bplens:kw:" + keywords.Version + ":"

// Cache stores keyword counts as JSON strings.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewClient returns a client with the pool and timeout settings used for
// batch runs.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
}

// New wraps client. A zero ttl keeps entries until evicted by Redis.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: DefaultPrefix, ttl: ttl}
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping failed: %v", internalerr.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(hash string) string {
	return c.prefix + hash
}

// Get returns the counts stored for hash. A missing key is a miss, not an
// error.
func (c *Cache) Get(ctx context.Context, hash string) (keywords.Counts, bool, error) {
	val, err := c.client.Get(ctx, c.key(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var counts keywords.Counts
	if err := json.Unmarshal([]byte(val), &counts); err != nil {
		return nil, false, fmt.Errorf("decode cached counts: %w", err)
	}
	return counts, true, nil
}

// Set stores counts for hash.
func (c *Cache) Set(ctx context.Context, hash string, counts keywords.Counts) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
