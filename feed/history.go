package feed

import (
	"context"
	"sync"
	"time"

	"tradedeck/event"
	"tradedeck/logger"
	"tradedeck/metrics"
	"tradedeck/reconcile"
)

// HistorySource 成交历史数据源（由 BinanceClient 实现）
type HistorySource interface {
	FetchTradeHistory(ctx context.Context, symbols []string, limit int) ([]*reconcile.TradeRecord, error)
}

// HistoryView 成交历史的只读视图：记录列表加开仓/加仓标签
type HistoryView struct {
	History []*reconcile.TradeRecord     `json:"history"`
	Tags    map[int64]reconcile.TradeTag `json:"tags"`
	Total   int                          `json:"total"`
}

// HistoryService 成交历史服务
// 成交事件触发刷新：拉取最近订单，做开仓/加仓分类，经通知水位线
// 判定哪些成交需要发通知，再把变化后的视图广播出去
type HistoryService struct {
	source    HistorySource
	watermark *reconcile.Watermark
	bus       *event.EventBus
	symbols   []string
	limit     int
	pm        *metrics.PrometheusMetrics

	refreshCh chan struct{}

	mu      sync.RWMutex
	view    *HistoryView
	prevSig string

	onUpdate func(*HistoryView)
}

// NewHistoryService 创建成交历史服务
func NewHistoryService(source HistorySource, watermark *reconcile.Watermark, bus *event.EventBus, symbols []string, limit int) *HistoryService {
	return &HistoryService{
		source:    source,
		watermark: watermark,
		bus:       bus,
		symbols:   symbols,
		limit:     limit,
		pm:        metrics.GetPrometheusMetrics(),
		// 容量1：密集成交下的多次触发合并为一次刷新
		refreshCh: make(chan struct{}, 1),
	}
}

// SetOnUpdate 注册视图变化回调（必须在 Run 之前调用）
func (hs *HistoryService) SetOnUpdate(fn func(*HistoryView)) {
	hs.onUpdate = fn
}

// Trigger 请求刷新成交历史（非阻塞，重复请求合并）
func (hs *HistoryService) Trigger() {
	select {
	case hs.refreshCh <- struct{}{}:
	default:
	}
}

// GetView 获取最近一次刷新的视图，尚未刷新时返回 nil
func (hs *HistoryService) GetView() *HistoryView {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return hs.view
}

// Filtered 按状态过滤当前视图的记录（status 为空返回全部）
// 两种状态视图共享同一份数据，不触发重新拉取
func (hs *HistoryService) Filtered(status string) []*reconcile.TradeRecord {
	view := hs.GetView()
	if view == nil {
		return nil
	}
	return reconcile.FilterByStatus(view.History, status)
}

// Run 刷新主循环，阻塞直到 ctx 取消
func (hs *HistoryService) Run(ctx context.Context) {
	// 启动即刷新一次（水位线播种在首批数据上完成）
	hs.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hs.refreshCh:
			hs.Refresh(ctx)
			// 合并触发后留出一个最小间隔，避免连续成交打爆查询接口
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// Refresh 拉取并处理一次成交历史
func (hs *HistoryService) Refresh(ctx context.Context) {
	records, err := hs.source.FetchTradeHistory(ctx, hs.symbols, hs.limit)
	if err != nil {
		logger.Warn("⚠️ [历史] 拉取成交历史失败: %v", err)
		return
	}

	tags := reconcile.ClassifyHistory(records)

	// 水位线判定需要通知的成交
	if hs.watermark != nil {
		toNotify := hs.watermark.OnNewFilled(ctx, records)
		for _, rec := range toNotify {
			if hs.bus != nil {
				hs.bus.PublishType(event.EventTypeOrderFilled, map[string]interface{}{
					"record_id": rec.ID,
					"symbol":    rec.Symbol,
					"side":      rec.Side,
					"price":     rec.Price,
					"is_add_on": tags[rec.ID].IsAddOn,
				})
			}
		}
	}

	view := &HistoryView{History: records, Tags: tags, Total: len(records)}

	// 签名不变不广播
	sig := reconcile.TradesSignature(records)
	hs.mu.Lock()
	hs.view = view
	changed := reconcile.ShouldRender(hs.prevSig, sig)
	hs.prevSig = sig
	hs.mu.Unlock()

	if !changed {
		hs.pm.RecordRenderSkip("history")
		return
	}
	hs.pm.RecordRenderBroadcast("history")
	if hs.onUpdate != nil {
		hs.onUpdate(view)
	}
}
