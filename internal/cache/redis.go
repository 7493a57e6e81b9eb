package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/collabcore/docserver/internal/crdt"
)

const keyPrefix = "doc:"

// RedisCache is the production hot tier: document records live in a
// shared external key-value layer so multiple processes see the same
// live state between edits.
type RedisCache struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisCache wraps an already-connected client. Connection lifecycle is
// owned by the caller.
func NewRedisCache(client *redis.Client, log *zap.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*crdt.Document, bool, error) {
	var data string
	var miss bool
	err := withRetry(ctx, func() error {
		res, getErr := c.client.Get(ctx, keyPrefix+id).Result()
		if getErr == redis.Nil {
			// A cache miss is a normal answer, not a transient fault —
			// it must not burn retry backoff.
			miss = true
			return nil
		}
		if getErr != nil {
			return getErr
		}
		miss = false
		data = res
		return nil
	})
	if err != nil {
		c.log.Warn("hot tier unavailable on read, degrading to absent", zap.String("doc", id), zap.Error(err))
		return nil, false, nil
	}
	if miss {
		return nil, false, nil
	}
	var doc crdt.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, false, fmt.Errorf("cache: unmarshal doc %s: %w", id, err)
	}
	return &doc, true, nil
}

func (c *RedisCache) Put(ctx context.Context, id string, doc *crdt.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache: marshal doc %s: %w", id, err)
	}
	err = withRetry(ctx, func() error {
		return c.client.Set(ctx, keyPrefix+id, data, 0).Err()
	})
	if err != nil {
		// The caller must see the failure: an edit that never reached
		// the hot tier cannot be reported as applied.
		c.log.Warn("hot tier unavailable on write", zap.String("doc", id), zap.Error(err))
		return fmt.Errorf("cache: put doc %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	err := withRetry(ctx, func() error {
		return c.client.Del(ctx, keyPrefix+id).Err()
	})
	if err != nil {
		c.log.Warn("hot tier unavailable on delete", zap.String("doc", id), zap.Error(err))
		return fmt.Errorf("cache: delete doc %s: %w", id, err)
	}
	return nil
}

func (c *RedisCache) Update(ctx context.Context, id string, mutate func(*crdt.Document) (*crdt.Document, error)) (*crdt.Document, bool, error) {
	doc, ok, err := c.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, ErrAbsent
	}
	updated, err := mutate(doc)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, id, updated); err != nil {
		return nil, false, err
	}
	return updated, true, nil
}

func (c *RedisCache) Keys(ctx context.Context) ([]string, error) {
	var ids []string
	err := withRetry(ctx, func() error {
		ids = ids[:0]
		iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			ids = append(ids, iter.Val()[len(keyPrefix):])
		}
		return iter.Err()
	})
	if err != nil {
		c.log.Warn("hot tier unavailable on key scan", zap.Error(err))
		return nil, nil
	}
	return ids, nil
}

func (c *RedisCache) Flush(ctx context.Context) error {
	err := withRetry(ctx, func() error {
		iter := c.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		c.log.Warn("hot tier flush failed at startup", zap.Error(err))
		return fmt.Errorf("cache: flush: %w", err)
	}
	return nil
}
