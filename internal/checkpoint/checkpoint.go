// Package checkpoint 提供按线程保存会话状态快照的后端：关系型数据库（默认）与 Redis。
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wwwzy/ShopAgent/internal/agent"
	"github.com/wwwzy/ShopAgent/internal/storage"
)

const (
	BackendDB    = "db"
	BackendRedis = "redis"
)

// ErrNotFound 线程没有检查点。
var ErrNotFound = errors.New("checkpoint: not found")

// Config 检查点后端配置
type Config struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Record 为一条检查点及其元数据。
type Record struct {
	ThreadID  string
	NextNode  string
	Status    string
	State     []byte
	UpdatedAt time.Time
}

// Store 在 agent.CheckpointStore 之上增加按线程读取元数据，供 CLI 使用。
type Store interface {
	agent.CheckpointStore
	Get(ctx context.Context, threadID string) (*Record, error)
}

// Open 按配置选择后端。返回的关闭函数只释放后端自己创建的连接。
func Open(ctx context.Context, cfg Config, db *storage.Storage, logger *zap.Logger) (Store, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case BackendDB, "":
		if db == nil {
			return nil, nil, errors.New("checkpoint: db backend requires storage")
		}
		return NewDBStore(db), func() error { return nil }, nil
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info("checkpoint backend ready", zap.String("backend", BackendRedis), zap.String("addr", cfg.Redis.Addr))
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}

// DBStore 将检查点保存在 storage 的 checkpoints 表中。
type DBStore struct {
	db *storage.Storage
}

func NewDBStore(db *storage.Storage) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	return s.db.LoadCheckpoint(ctx, threadID)
}

func (s *DBStore) SaveCheckpoint(ctx context.Context, threadID, nextNode, status string, state []byte) error {
	return s.db.SaveCheckpoint(ctx, threadID, nextNode, status, state)
}

func (s *DBStore) Get(ctx context.Context, threadID string) (*Record, error) {
	cp, err := s.db.GetCheckpoint(ctx, threadID)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, threadID)
		}
		return nil, err
	}
	return &Record{
		ThreadID:  cp.ThreadID,
		NextNode:  cp.NextNode,
		Status:    cp.Status,
		State:     []byte(cp.StateJSON),
		UpdatedAt: cp.UpdatedAt,
	}, nil
}
