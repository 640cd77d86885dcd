// Package analytics はアクセスログの非同期記録と集計を提供する。
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/storefront/internal/metrics"
	"github.com/hitoshi/storefront/internal/model"
	"github.com/hitoshi/storefront/internal/repository"
)

// CollectorConfig はCollectorの設定。
type CollectorConfig struct {
	QueueSize    int           // キューの容量
	Workers      int           // 書き込みワーカー数
	WriteTimeout time.Duration // 1件あたりの書き込みタイムアウト
}

// DefaultCollectorConfig はデフォルト設定を返す。
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		QueueSize:    1024,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// Collector はアクセスログをキュー経由で非同期に書き込む。
// Record はリクエスト処理をブロックせず、書き込みの失敗は呼び出し元に伝播しない。
type Collector struct {
	repo    repository.VisitorRepository
	metrics metrics.MetricsCollector
	config  CollectorConfig
	now     func() time.Time

	queue chan model.VisitorRecord

	mu      sync.RWMutex
	stopped bool

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCollector はCollectorを生成する。metricsがnilの場合は記録しない。
func NewCollector(repo repository.VisitorRepository, m metrics.MetricsCollector, config CollectorConfig) *Collector {
	defaults := DefaultCollectorConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Collector{
		repo:    repo,
		metrics: m,
		config:  config,
		now:     time.Now,
		queue:   make(chan model.VisitorRecord, config.QueueSize),
	}
}

// Record はアクセスログをキューに投入する。
// キューが満杯、または停止済みの場合は破棄してログに残す。
func (c *Collector) Record(rec model.VisitorRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped {
		c.drop(rec, "collector stopped")
		return
	}

	select {
	case c.queue <- rec:
		c.metrics.RecordAnalyticsEnqueued()
		c.metrics.SetAnalyticsQueueDepth(len(c.queue))
	default:
		c.drop(rec, "queue full")
	}
}

func (c *Collector) drop(rec model.VisitorRecord, reason string) {
	c.metrics.RecordAnalyticsDropped()
	slog.Warn("visitor record dropped",
		slog.String("reason", reason),
		slog.String("path", rec.Path),
	)
}

// Start は書き込みワーカーを起動する。複数回呼んでも起動は1度だけ。
// ワーカーはリクエストのコンテキストとは独立して動作し、Stop まで実行を続ける。
func (c *Collector) Start() {
	c.startOnce.Do(func() {
		slog.Info("analytics collector started",
			slog.Int("workers", c.config.Workers),
			slog.Int("queue_size", c.config.QueueSize),
		)
		for i := 0; i < c.config.Workers; i++ {
			c.wg.Add(1)
			go c.run()
		}
	})
}

func (c *Collector) run() {
	defer c.wg.Done()
	for rec := range c.queue {
		c.metrics.SetAnalyticsQueueDepth(len(c.queue))
		c.write(rec)
	}
}

// write は1件を書き込む。タイムアウトはリクエストではなくバックグラウンドのコンテキストから派生させる。
func (c *Collector) write(rec model.VisitorRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordAnalyticsFailed()
			slog.Error("panic while writing visitor record", slog.Any("panic", r))
		}
	}()

	if err := c.repo.Insert(ctx, &rec); err != nil {
		c.metrics.RecordAnalyticsFailed()
		slog.Warn("failed to write visitor record",
			slog.String("record_id", rec.ID),
			slog.String("path", rec.Path),
			slog.String("error", err.Error()),
		)
		return
	}
	c.metrics.RecordAnalyticsWritten()
}

// Stop は新規の受付を止め、キューに残ったログの書き込み完了を待つ。
// ctx の期限までに終わらない場合は ctx.Err() を返す。
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		close(c.queue)
		c.mu.Unlock()
	})

	// Start されていない場合でもキューを空にする
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.run()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("analytics collector stopped")
		return nil
	case <-ctx.Done():
		slog.Warn("analytics collector stop timed out",
			slog.Int("pending", len(c.queue)),
		)
		return ctx.Err()
	}
}

// Pending はキューに残っている件数を返す。
func (c *Collector) Pending() int {
	return len(c.queue)
}
