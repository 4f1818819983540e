package embedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	domain "github.com/yanqian/rag-service/internal/domain/rag"
)

// ValkeyCache persists embedding vectors in a Valkey-compatible database,
// the out-of-process counterpart selected by embedding_cache_backend=redis.
type ValkeyCache struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyCache constructs a cache backed by client. ttl <= 0 stores keys
// without expiration.
func NewValkeyCache(client valkey.Client, prefix string, ttl time.Duration) *ValkeyCache {
	if prefix == "" {
		prefix = "embed"
	}
	return &ValkeyCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *ValkeyCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	cmd := c.client.B().Get().Key(c.entryKey(key)).Build()
	payload, err := c.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var vector []float32
	if err := json.Unmarshal([]byte(payload), &vector); err != nil {
		return nil, false, fmt.Errorf("decode cached embedding: %w", err)
	}
	return vector, true, nil
}

func (c *ValkeyCache) Set(ctx context.Context, key string, vector []float32) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	builder := c.client.B().Set().Key(c.entryKey(key)).Value(string(payload))
	var cmd valkey.Completed
	if c.ttl > 0 {
		ttl := c.ttl
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

func (c *ValkeyCache) entryKey(key string) string {
	return c.prefix + ":" + key
}

var _ domain.EmbeddingCache = (*ValkeyCache)(nil)
