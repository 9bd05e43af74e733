package cache

import (
	"context"
	"fmt"
	"os"
	"testing"
)

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)

	c.Set(ctx, "a", true)
	c.Set(ctx, "b", false)
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("a should be cached")
	}
	c.Set(ctx, "c", true)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatal("b was least recently used and should be evicted")
	}
	if v, ok := c.Get(ctx, "a"); !ok || !v {
		t.Fatal("a should survive")
	}
	if c.Len(ctx) != 2 {
		t.Fatalf("Len = %d", c.Len(ctx))
	}
}

func TestMemoryCacheOverwriteAndEvict(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(10)

	c.Set(ctx, "k", true)
	c.Set(ctx, "k", false)
	if v, ok := c.Get(ctx, "k"); !ok || v {
		t.Fatal("overwrite lost")
	}
	c.Evict(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok || c.Len(ctx) != 0 {
		t.Fatal("evict did not remove the key")
	}
}

func TestRedisCacheCapacity(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()

	prefix := fmt.Sprintf("uwia-test:%s", t.Name())
	c := NewRedisCache(rdb, prefix, 3, nil)
	defer rdb.Del(ctx, prefix+":values", prefix+":recency")

	for i := 0; i < 5; i++ {
		c.Set(ctx, fmt.Sprintf("k%d", i), i%2 == 0)
	}
	if n := c.Len(ctx); n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}
	if _, ok := c.Get(ctx, "k0"); ok {
		t.Fatal("oldest key should be trimmed")
	}
	if v, ok := c.Get(ctx, "k4"); !ok || !v {
		t.Fatal("newest key should be present")
	}
	c.Evict(ctx, "k4")
	if _, ok := c.Get(ctx, "k4"); ok {
		t.Fatal("evicted key still present")
	}
}
