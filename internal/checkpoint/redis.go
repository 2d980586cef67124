package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "shopagent:"

// RedisStore 以 Hash 保存每个线程的检查点，字段为 state/next_node/status/updated_at。
// TTL 大于 0 时每次写入都会刷新过期时间。
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a new Redis-based checkpoint store
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "checkpoint:", ttl: ttl}
}

// threadKey returns the Redis key for a thread's checkpoint
func (s *RedisStore) threadKey(threadID string) string {
	return s.keyPrefix + threadID
}

func (s *RedisStore) SaveCheckpoint(ctx context.Context, threadID, nextNode, status string, state []byte) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("thread id is required")
	}
	key := s.threadKey(threadID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"state", state,
		"next_node", nextNode,
		"status", status,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	data, err := s.client.HGet(ctx, s.threadKey(threadID), "state").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return data, nil
}

func (s *RedisStore) Get(ctx context.Context, threadID string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.threadKey(threadID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
	}
	rec := &Record{
		ThreadID: threadID,
		NextNode: fields["next_node"],
		Status:   fields["status"],
		State:    []byte(fields["state"]),
	}
	if ts := fields["updated_at"]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			rec.UpdatedAt = t
		}
	}
	return rec, nil
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
