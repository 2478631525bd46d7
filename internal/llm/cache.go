package llm

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/dgraph-io/ristretto"
)

// CachedClient memoizes concept extraction, which every run repeats for
// the same recalled records. Generation is never cached.
type CachedClient struct {
	next  domain.LLMClient
	cache *ristretto.Cache
}

// NewCachedClient wraps next with a cache holding about size extractions.
func NewCachedClient(next domain.LLMClient, size int64) (*CachedClient, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create concept cache: %w", err)
	}
	return &CachedClient{next: next, cache: cache}, nil
}

func (c *CachedClient) ExtractConcepts(ctx context.Context, text string) ([]string, error) {
	if v, ok := c.cache.Get(text); ok {
		if concepts, ok := v.([]string); ok {
			return append([]string(nil), concepts...), nil
		}
	}
	concepts, err := c.next.ExtractConcepts(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]string(nil), concepts...), 1)
	return concepts, nil
}

func (c *CachedClient) Generate(ctx context.Context, prompt, background string) (string, float64, error) {
	return c.next.Generate(ctx, prompt, background)
}

// Wait blocks until pending cache writes are visible.
func (c *CachedClient) Wait() {
	c.cache.Wait()
}

func (c *CachedClient) Close() {
	c.cache.Close()
}
