package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultIndexTTL is how long a fetched index is served before refetching
const DefaultIndexTTL = 5 * time.Minute

// IndexStore caches fetched registry indexes for a fixed TTL, keyed by registry URL
type IndexStore interface {
	Get(ctx context.Context, key string) (*Index, bool)
	Set(ctx context.Context, key string, index *Index) error
	Invalidate(ctx context.Context, key string) error
}

// MemoryStore keeps indexes in an in-process expirable LRU
type MemoryStore struct {
	cache *lru.LRU[string, *Index]
}

// NewMemoryStore creates an in-process store holding up to size indexes for ttl
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 16
	}
	return &MemoryStore{cache: lru.NewLRU[string, *Index](size, nil, ttl)}
}

// Get returns a fresh cached index
func (s *MemoryStore) Get(ctx context.Context, key string) (*Index, bool) {
	return s.cache.Get(key)
}

// Set caches an index
func (s *MemoryStore) Set(ctx context.Context, key string, index *Index) error {
	s.cache.Add(key, index)
	return nil
}

// Invalidate drops a cached index
func (s *MemoryStore) Invalidate(ctx context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// RedisStore shares fetched indexes between host processes
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore connects to redisURL and verifies the connection
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl, prefix: "ledmatrix:registry:"}, nil
}

// Get returns a cached index. Errors and corrupt entries are misses.
func (s *RedisStore) Get(ctx context.Context, key string) (*Index, bool) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}

	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		s.client.Del(ctx, s.prefix+key)
		return nil, false
	}

	return &index, true
}

// Set caches an index for the store TTL
func (s *RedisStore) Set(ctx context.Context, key string, index *Index) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Invalidate drops a cached index
func (s *RedisStore) Invalidate(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Client returns the underlying connection for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
