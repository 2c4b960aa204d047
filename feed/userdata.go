package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradedeck/event"
	"tradedeck/logger"
	"tradedeck/metrics"
	"tradedeck/reconcile"
)

// UserStreamSource 用户数据流的 listenKey 管理（由 BinanceClient 实现）
type UserStreamSource interface {
	StartUserStream(ctx context.Context) (string, error)
	KeepAliveUserStream(ctx context.Context, listenKey string) error
	WsBase() string
}

// orderTradeUpdate 币安 ORDER_TRADE_UPDATE 推送
type orderTradeUpdate struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol        string `json:"s"`
		Side          string `json:"S"`  // BUY / SELL
		PositionSide  string `json:"ps"` // LONG / SHORT / BOTH
		Status        string `json:"X"`  // NEW / PARTIALLY_FILLED / FILLED / ...
		OrderID       int64  `json:"i"`
		FilledQty     string `json:"z"`  // 累计成交数量
		AvgPrice      string `json:"ap"` // 平均成交价
		ReduceOnly    bool   `json:"R"`
		ClosePosition bool   `json:"cp"`
	} `json:"o"`
}

// UserDataStream 用户数据流
// 通过 listenKey 订阅账户私有推送，把订单成交事件转投给对账引擎
type UserDataStream struct {
	source            UserStreamSource
	sink              Sink
	bus               *event.EventBus
	timing            StreamTiming
	keepAliveInterval time.Duration
	pm                *metrics.PrometheusMetrics
}

// NewUserDataStream 创建用户数据流
func NewUserDataStream(source UserStreamSource, sink Sink, bus *event.EventBus, timing StreamTiming, keepAliveInterval time.Duration) *UserDataStream {
	return &UserDataStream{
		source:            source,
		sink:              sink,
		bus:               bus,
		timing:            timing,
		keepAliveInterval: keepAliveInterval,
		pm:                metrics.GetPrometheusMetrics(),
	}
}

// Run 用户数据流主循环：断线后重新申请 listenKey 并重连，阻塞直到 ctx 取消
func (ud *UserDataStream) Run(ctx context.Context) {
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !first {
			ud.pm.RecordWebSocketReconnect("userData")
			if ud.bus != nil {
				ud.bus.PublishType(event.EventTypeWebSocketDisconnected, map[string]interface{}{
					"stream": "userData",
				})
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(ud.timing.ReconnectDelay):
			}
		}
		first = false

		if err := ud.runOnce(ctx); err != nil {
			logger.Warn("⚠️ [成交流] 连接中断: %v", err)
		}
		ud.pm.SetWebSocketStatus("userData", false)
	}
}

// runOnce 单次连接生命周期：申请 listenKey → 连接 → 保活 → 读消息
func (ud *UserDataStream) runOnce(ctx context.Context) error {
	listenKey, err := ud.source.StartUserStream(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ud.source.WsBase()+"/ws/"+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ud.pm.SetWebSocketStatus("userData", true)
	logger.Info("✅ [成交流] 用户数据流已连接")

	conn.SetReadDeadline(time.Now().Add(ud.timing.PongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(ud.timing.PongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(ud.timing.WriteWait))
	})

	// listenKey 保活循环
	keepAliveCtx, cancelKeepAlive := context.WithCancel(ctx)
	defer cancelKeepAlive()
	go func() {
		ticker := time.NewTicker(ud.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-keepAliveCtx.Done():
				return
			case <-ticker.C:
				if err := ud.source.KeepAliveUserStream(keepAliveCtx, listenKey); err != nil {
					logger.Warn("⚠️ [成交流] listenKey 保活失败: %v", err)
				}
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

		fill, ok := parseOrderTradeUpdate(payload)
		if !ok {
			continue
		}
		ud.sink.Submit(&reconcile.Message{Type: reconcile.MsgFill, Fill: fill})
	}
}

// parseOrderTradeUpdate 解析订单成交推送
// 只有完全成交（FILLED）的订单才触发对账，其余状态与无关事件返回 false
func parseOrderTradeUpdate(payload []byte) (*reconcile.FillEvent, bool) {
	var update orderTradeUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return nil, false
	}
	if update.EventType != "ORDER_TRADE_UPDATE" {
		return nil, false
	}
	if update.Order.Status != "FILLED" {
		return nil, false
	}

	filledQty, err := strconv.ParseFloat(update.Order.FilledQty, 64)
	if err != nil {
		return nil, false
	}
	avgPrice, err := strconv.ParseFloat(update.Order.AvgPrice, 64)
	if err != nil {
		return nil, false
	}

	positionSide := update.Order.PositionSide
	if positionSide == "BOTH" {
		// 单向持仓模式：按启发式由方向与 reduce_only 反推
		positionSide = ""
	}

	return &reconcile.FillEvent{
		OrderID:       update.Order.OrderID,
		Symbol:        update.Order.Symbol,
		Side:          update.Order.Side,
		PositionSide:  positionSide,
		FilledQty:     filledQty,
		AvgPrice:      avgPrice,
		ReduceOnly:    update.Order.ReduceOnly,
		ClosePosition: update.Order.ClosePosition,
		Status:        update.Order.Status,
	}, true
}
