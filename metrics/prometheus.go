package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// 对账引擎指标
	engineEventTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_engine_event_total",
			Help: "Total number of events processed by the reconciliation engine",
		},
		[]string{"type"},
	)

	engineEventDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_engine_event_dropped_total",
			Help: "Total number of events dropped (inbox full or stale generation)",
		},
		[]string{"type", "reason"},
	)

	malformedEventTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_malformed_event_total",
			Help: "Total number of malformed events discarded",
		},
		[]string{"type"},
	)

	// 渲染指标
	renderBroadcastTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_render_broadcast_total",
			Help: "Total number of read model broadcasts",
		},
		[]string{"view"},
	)

	renderSkipTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_render_skip_total",
			Help: "Total number of renders skipped due to unchanged signature",
		},
		[]string{"view"},
	)

	// 快照指标
	snapshotFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_snapshot_fetch_total",
			Help: "Total number of snapshot fetch attempts",
		},
		[]string{"status"}, // status: success, timeout, error, superseded
	)

	feedStale = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_feed_stale",
			Help: "Whether the read model is serving stale data (0=fresh, 1=stale)",
		},
	)

	// WebSocket 指标
	websocketConnected = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradedeck_websocket_connected",
			Help: "WebSocket connection status (0=disconnected, 1=connected)",
		},
		[]string{"stream_type"},
	)

	websocketReconnectCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_websocket_reconnect_count_total",
			Help: "Total number of WebSocket reconnections",
		},
		[]string{"stream_type"},
	)

	// 通知指标
	notificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradedeck_notification_total",
			Help: "Total number of notifications emitted",
		},
		[]string{"type"},
	)

	notificationSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradedeck_notification_skipped_total",
			Help: "Total number of fill notifications acknowledged but not re-emitted",
		},
	)

	// 读模型指标
	totalPnL = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_total_pnl",
			Help: "Current total unrealized PnL across positions",
		},
	)

	totalAssetValue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_total_asset_value",
			Help: "Current total asset value (equity)",
		},
	)

	positionCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_position_count",
			Help: "Number of open positions in the cache",
		},
	)

	// 系统指标
	processCPUPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_process_cpu_percent",
			Help: "Process CPU usage percentage",
		},
	)

	processMemoryMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_process_memory_mb",
			Help: "Process resident memory in MB",
		},
	)

	goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradedeck_goroutine_count",
			Help: "Number of goroutines",
		},
	)
)

// PrometheusMetrics Prometheus 指标收集器
type PrometheusMetrics struct{}

// 全局实例
var globalPrometheusMetrics *PrometheusMetrics

// GetPrometheusMetrics 获取全局 Prometheus 指标收集器
func GetPrometheusMetrics() *PrometheusMetrics {
	once.Do(func() {
		globalPrometheusMetrics = &PrometheusMetrics{}
	})
	return globalPrometheusMetrics
}

// RecordEngineEvent 记录引擎处理的事件
func (pm *PrometheusMetrics) RecordEngineEvent(eventType string) {
	engineEventTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped 记录被丢弃的事件
func (pm *PrometheusMetrics) RecordEventDropped(eventType, reason string) {
	engineEventDropped.WithLabelValues(eventType, reason).Inc()
}

// RecordMalformedEvent 记录非法事件
func (pm *PrometheusMetrics) RecordMalformedEvent(eventType string) {
	malformedEventTotal.WithLabelValues(eventType).Inc()
}

// RecordRenderBroadcast 记录读模型广播
func (pm *PrometheusMetrics) RecordRenderBroadcast(view string) {
	renderBroadcastTotal.WithLabelValues(view).Inc()
}

// RecordRenderSkip 记录因签名未变化跳过的渲染
func (pm *PrometheusMetrics) RecordRenderSkip(view string) {
	renderSkipTotal.WithLabelValues(view).Inc()
}

// RecordSnapshotFetch 记录快照拉取结果
func (pm *PrometheusMetrics) RecordSnapshotFetch(status string) {
	snapshotFetchTotal.WithLabelValues(status).Inc()
}

// SetFeedStale 设置数据过期状态
func (pm *PrometheusMetrics) SetFeedStale(stale bool) {
	value := 0.0
	if stale {
		value = 1.0
	}
	feedStale.Set(value)
}

// SetWebSocketStatus 设置 WebSocket 连接状态
func (pm *PrometheusMetrics) SetWebSocketStatus(streamType string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	websocketConnected.WithLabelValues(streamType).Set(value)
}

// RecordWebSocketReconnect 记录 WebSocket 重连
func (pm *PrometheusMetrics) RecordWebSocketReconnect(streamType string) {
	websocketReconnectCount.WithLabelValues(streamType).Inc()
}

// RecordNotification 记录发出的通知
func (pm *PrometheusMetrics) RecordNotification(notifyType string) {
	notificationTotal.WithLabelValues(notifyType).Inc()
}

// RecordNotificationSkipped 记录被确认但不补发的通知
func (pm *PrometheusMetrics) RecordNotificationSkipped(count int) {
	notificationSkipped.Add(float64(count))
}

// SetTotalPnL 设置当前总浮动盈亏
func (pm *PrometheusMetrics) SetTotalPnL(pnl float64) {
	totalPnL.Set(pnl)
}

// SetTotalAssetValue 设置当前总资产价值
func (pm *PrometheusMetrics) SetTotalAssetValue(value float64) {
	totalAssetValue.Set(value)
}

// SetPositionCount 设置当前持仓数量
func (pm *PrometheusMetrics) SetPositionCount(count int) {
	positionCount.Set(float64(count))
}

// SetProcessCPUPercent 设置进程CPU占用
func (pm *PrometheusMetrics) SetProcessCPUPercent(percent float64) {
	processCPUPercent.Set(percent)
}

// SetProcessMemoryMB 设置进程内存占用
func (pm *PrometheusMetrics) SetProcessMemoryMB(mb float64) {
	processMemoryMB.Set(mb)
}

// SetGoroutineCount 设置协程数量
func (pm *PrometheusMetrics) SetGoroutineCount(count int) {
	goroutineCount.Set(float64(count))
}
