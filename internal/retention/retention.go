// Package retention 定期清理过期的工具审计记录与已完成的会话检查点。
package retention

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Workers   int           `mapstructure:"workers"`
	BatchRows int           `mapstructure:"batch_rows"`
	IdleSleep time.Duration `mapstructure:"idle_sleep"`
	// AuditKeepFor 审计记录保留时长，0 表示不清理。
	AuditKeepFor time.Duration `mapstructure:"audit_keep_for"`
	// CheckpointKeepFor 已完成检查点的保留时长，0 表示不清理；running 状态的检查点始终保留。
	// 检查点是线程唯一持久化的会话记录，开启后超期线程的历史会被删除，默认不清理。
	CheckpointKeepFor time.Duration `mapstructure:"checkpoint_keep_for"`
	// OnError 为后台清理失败时的回调；默认丢弃。
	OnError func(error) `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     6 * time.Hour,
		Workers:      2,
		BatchRows:    500,
		IdleSleep:    50 * time.Millisecond,
		AuditKeepFor: 30 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchRows <= 0 {
		c.BatchRows = d.BatchRows
	}
	if c.IdleSleep < 0 {
		c.IdleSleep = 0
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

// Store 为清理所需的存储接口，由 storage.Storage 实现。
type Store interface {
	DeleteAuditRecordsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
	DeleteCheckpointsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error)
}

// Result 为一轮清理删除的行数。
type Result struct {
	AuditRecords int64
	Checkpoints  int64
}

type Collector struct {
	cfg    Config
	store  Store
	logger *zap.Logger
}

func NewCollector(store Store, cfg Config, logger *zap.Logger) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cfg: cfg.withDefaults(), store: store, logger: logger}, nil
}

// Run 立即执行一轮，然后按 Interval 周期执行，直到 ctx 结束。
func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 以 now 为基准执行一轮清理。
func (c *Collector) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	if c == nil || c.store == nil {
		return Result{}, errors.New("retention collector not initialized")
	}

	var audit, checkpoints atomic.Int64
	var tasks []func(context.Context) error

	if c.cfg.AuditKeepFor > 0 {
		cut := now.Add(-c.cfg.AuditKeepFor)
		tasks = append(tasks, func(ctx context.Context) error {
			return c.drain(ctx, &audit, func(ctx context.Context) (int64, error) {
				return c.store.DeleteAuditRecordsBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
		})
	}
	if c.cfg.CheckpointKeepFor > 0 {
		cut := now.Add(-c.cfg.CheckpointKeepFor)
		tasks = append(tasks, func(ctx context.Context) error {
			return c.drain(ctx, &checkpoints, func(ctx context.Context) (int64, error) {
				return c.store.DeleteCheckpointsBeforeLimited(ctx, cut, c.cfg.BatchRows)
			})
		})
	}
	if len(tasks) == 0 {
		return Result{}, nil
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return Result{}, ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	res := Result{AuditRecords: audit.Load(), Checkpoints: checkpoints.Load()}
	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			c.logger.Warn("retention pass failed", zap.Error(err))
			return res, err
		}
	}
	if res.AuditRecords > 0 || res.Checkpoints > 0 {
		c.logger.Info("retention pass done",
			zap.Int64("audit_records", res.AuditRecords),
			zap.Int64("checkpoints", res.Checkpoints),
		)
	}
	return res, nil
}

// drain 分批删除直到没有可删的行
func (c *Collector) drain(ctx context.Context, total *atomic.Int64, batch func(context.Context) (int64, error)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := batch(ctx)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		total.Add(affected)
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *Collector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
