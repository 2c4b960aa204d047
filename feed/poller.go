package feed

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tradedeck/logger"
	"tradedeck/metrics"
	"tradedeck/reconcile"
)

// Sink 对账引擎的消息入口（由 reconcile.Engine 实现）
type Sink interface {
	Submit(msg *reconcile.Message)
}

// SnapshotSource 快照数据源（由 BinanceClient 实现，测试时注入模拟实现）
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, generation uint64) (*reconcile.Snapshot, error)
}

// SnapshotPoller 持仓快照轮询器
// 周期性拉取全量持仓与账户快照投递给引擎；代号在发起请求时分配，
// 引擎据此丢弃被后续请求超越的慢响应
type SnapshotPoller struct {
	source   SnapshotSource
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	pm       *metrics.PrometheusMetrics

	generation atomic.Uint64
	triggerCh  chan struct{}
}

// NewSnapshotPoller 创建快照轮询器
func NewSnapshotPoller(source SnapshotSource, sink Sink, interval, timeout time.Duration, ratePerSec float64) *SnapshotPoller {
	if ratePerSec <= 0 {
		ratePerSec = 0.5
	}
	return &SnapshotPoller{
		source:   source,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), 1),
		pm:       metrics.GetPrometheusMetrics(),
		// 容量1：成交后紧跟的多次触发合并为一次补拉
		triggerCh: make(chan struct{}, 1),
	}
}

// TriggerNow 请求立即补拉一次快照（非阻塞，重复请求合并）
// 成交事件到达后用增量更新先行，再用权威快照校正
func (sp *SnapshotPoller) TriggerNow() {
	select {
	case sp.triggerCh <- struct{}{}:
	default:
	}
}

// Run 轮询主循环，阻塞直到 ctx 取消
func (sp *SnapshotPoller) Run(ctx context.Context) {
	logger.Info("🔄 [快照] 轮询启动, 间隔 %v, 超时 %v", sp.interval, sp.timeout)

	// 启动即拉取一次
	sp.fetchOnce(ctx)

	ticker := time.NewTicker(sp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 [快照] 轮询退出")
			return
		case <-ticker.C:
			sp.fetchOnce(ctx)
		case <-sp.triggerCh:
			sp.fetchOnce(ctx)
		}
	}
}

// fetchOnce 发起一次快照拉取
// 失败或超时不清空缓存，只投递过期标记，页面继续展示旧数据
func (sp *SnapshotPoller) fetchOnce(ctx context.Context) {
	// 速率限制：成交触发的补拉与周期轮询共享同一配额
	if err := sp.limiter.Wait(ctx); err != nil {
		return
	}

	generation := sp.generation.Add(1)

	fetchCtx, cancel := context.WithTimeout(ctx, sp.timeout)
	defer cancel()

	snap, err := sp.source.FetchSnapshot(fetchCtx, generation)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			sp.pm.RecordSnapshotFetch("timeout")
		} else {
			sp.pm.RecordSnapshotFetch("error")
		}
		logger.Warn("⚠️ [快照] 拉取失败 (generation=%d): %v", generation, err)
		sp.sink.Submit(&reconcile.Message{Type: reconcile.MsgFeedState, Stale: true})
		return
	}

	sp.pm.RecordSnapshotFetch("success")
	sp.sink.Submit(&reconcile.Message{Type: reconcile.MsgSnapshot, Snapshot: snap})
}
