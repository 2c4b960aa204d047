package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradedeck/logger"
	"tradedeck/metrics"
	"tradedeck/reconcile"
)

// StreamTiming WebSocket 连接的时间参数（来自配置 Timing 段）
type StreamTiming struct {
	ReconnectDelay time.Duration
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

// miniTickerEvent 币安 24 小时迷你行情推送
type miniTickerEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
	Open      string `json:"o"`
}

// combinedStreamFrame 组合流外层封装
type combinedStreamFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// MiniTickerStream 行情推送流
// 订阅指定交易对（为空则订阅全市场）的迷你行情，批量换算成价格事件投递给引擎
type MiniTickerStream struct {
	wsBase  string
	symbols []string
	sink    Sink
	timing  StreamTiming
	pm      *metrics.PrometheusMetrics
}

// NewMiniTickerStream 创建行情流
func NewMiniTickerStream(wsBase string, symbols []string, sink Sink, timing StreamTiming) *MiniTickerStream {
	return &MiniTickerStream{
		wsBase:  wsBase,
		symbols: symbols,
		sink:    sink,
		timing:  timing,
		pm:      metrics.GetPrometheusMetrics(),
	}
}

// url 构造订阅地址：指定交易对走组合流，否则走全市场数组流
func (mt *MiniTickerStream) url() string {
	if len(mt.symbols) == 0 {
		return mt.wsBase + "/ws/!miniTicker@arr"
	}
	streams := make([]string, 0, len(mt.symbols))
	for _, symbol := range mt.symbols {
		streams = append(streams, strings.ToLower(symbol)+"@miniTicker")
	}
	return mt.wsBase + "/stream?streams=" + strings.Join(streams, "/")
}

// Run 行情流主循环：断线后按配置延迟自动重连，阻塞直到 ctx 取消
func (mt *MiniTickerStream) Run(ctx context.Context) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !first {
			mt.pm.RecordWebSocketReconnect("miniTicker")
			select {
			case <-ctx.Done():
				return
			case <-time.After(mt.timing.ReconnectDelay):
			}
		}
		first = false

		if err := mt.runOnce(ctx); err != nil {
			logger.Warn("⚠️ [行情流] 连接中断: %v", err)
		}
		mt.pm.SetWebSocketStatus("miniTicker", false)
	}
}

// runOnce 单次连接生命周期
func (mt *MiniTickerStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, mt.url(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	mt.pm.SetWebSocketStatus("miniTicker", true)
	logger.Info("✅ [行情流] 已连接: %d 个交易对", len(mt.symbols))

	conn.SetReadDeadline(time.Now().Add(mt.timing.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(mt.timing.PongWait))
		return nil
	})
	// 币安服务端主动发 ping，收到也刷新读超时
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(mt.timing.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(mt.timing.WriteWait))
	})

	// 客户端心跳
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(mt.timing.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(mt.timing.WriteWait))
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		ticks := parseMiniTickerPayload(payload)
		if len(ticks) > 0 {
			mt.sink.Submit(&reconcile.Message{Type: reconcile.MsgPriceTick, Ticks: ticks})
		}
	}
}

// parseMiniTickerPayload 解析行情推送
// 兼容三种格式：组合流封装、单条事件、全市场数组；解析失败返回空映射
func parseMiniTickerPayload(payload []byte) map[string]reconcile.PriceTick {
	data := payload

	// 组合流：剥掉外层封装
	var frame combinedStreamFrame
	if err := json.Unmarshal(payload, &frame); err == nil && len(frame.Data) > 0 {
		data = frame.Data
	}

	var events []miniTickerEvent
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil
		}
	} else {
		var single miniTickerEvent
		if err := json.Unmarshal(data, &single); err != nil {
			return nil
		}
		events = append(events, single)
	}

	ticks := make(map[string]reconcile.PriceTick, len(events))
	for _, ev := range events {
		if ev.EventType != "24hrMiniTicker" || ev.Symbol == "" {
			continue
		}
		price, err := strconv.ParseFloat(ev.Close, 64)
		if err != nil || price <= 0 {
			continue
		}
		tick := reconcile.PriceTick{Price: price}
		if open, oerr := strconv.ParseFloat(ev.Open, 64); oerr == nil && open > 0 {
			tick.Change24h = (price - open) / open * 100
		}
		ticks[ev.Symbol] = tick
	}
	return ticks
}
