package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps the last good official list per region and year. It is
// shared by every tenant in the same region.
type Cache interface {
	Get(ctx context.Context, region string, year int) (CachedList, bool, error)
	Put(ctx context.Context, list CachedList) error
}

// RedisCache stores lists as JSON under holidays:official:<region>:<year>.
type RedisCache struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache keeps entries for ttl; zero keeps them forever, which is
// what past years want.
func NewRedisCache(rdb redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "holidays:official", ttl: ttl}
}

func (c *RedisCache) key(region string, year int) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, strings.ToUpper(region), year)
}

func (c *RedisCache) Get(ctx context.Context, region string, year int) (CachedList, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(region, year)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedList{}, false, nil
	}
	if err != nil {
		return CachedList{}, false, err
	}
	var list CachedList
	if err := json.Unmarshal(raw, &list); err != nil {
		return CachedList{}, false, fmt.Errorf("decode cached holidays: %w", err)
	}
	return list, true, nil
}

func (c *RedisCache) Put(ctx context.Context, list CachedList) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(list.Region, list.Year), raw, c.ttl).Err()
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu    sync.RWMutex
	lists map[string]CachedList
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{lists: map[string]CachedList{}}
}

func memoryKey(region string, year int) string {
	return fmt.Sprintf("%s:%d", strings.ToUpper(region), year)
}

func (c *MemoryCache) Get(_ context.Context, region string, year int) (CachedList, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, ok := c.lists[memoryKey(region, year)]
	return list, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, list CachedList) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[memoryKey(list.Region, list.Year)] = list
	return nil
}
