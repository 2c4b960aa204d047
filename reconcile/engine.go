package reconcile

import (
	"context"
	"sync"
	"time"

	"tradedeck/event"
	"tradedeck/logger"
	"tradedeck/metrics"
)

// MessageType 引擎收件箱消息类型
type MessageType string

const (
	MsgSnapshot  MessageType = "snapshot"
	MsgPriceTick MessageType = "price_tick"
	MsgFill      MessageType = "fill"
	MsgFeedState MessageType = "feed_state"
)

// Message 收件箱消息（带类型标签的联合体，按 Type 取对应字段）
type Message struct {
	Type     MessageType
	Snapshot *Snapshot            // MsgSnapshot
	Ticks    map[string]PriceTick // MsgPriceTick
	Fill     *FillEvent           // MsgFill
	Stale    bool                 // MsgFeedState
}

// ReadModel 对外发布的只读视图
// 引擎每次发布都构造全新实例，读取方拿到后不得修改
type ReadModel struct {
	Positions  []*Position   `json:"positions"`
	Account    AccountTotals `json:"account"`
	Stale      bool          `json:"stale"`
	Generation uint64        `json:"generation"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Engine 对账引擎
// 所有状态变更都发生在 Run 的单一消费协程内，生产者只通过 Submit 投递消息，
// 外部读取只通过 GetReadModel 拿已发布的副本，缓存本身无锁。
type Engine struct {
	cache *PositionCache
	inbox chan *Message
	bus   *event.EventBus
	pm    *metrics.PrometheusMetrics

	// 以下字段仅消费协程访问
	lastGeneration uint64
	usdtTotal      float64
	accountReady   bool
	stale          bool
	prevPosSig     string
	prevAcctSig    string

	onUpdate func(*ReadModel)
	onFill   func(*FillEvent)

	mu        sync.RWMutex
	readModel *ReadModel
}

// NewEngine 创建对账引擎
func NewEngine(inboxSize int, bus *event.EventBus) *Engine {
	if inboxSize <= 0 {
		inboxSize = 1000
	}
	return &Engine{
		cache: NewPositionCache(),
		inbox: make(chan *Message, inboxSize),
		bus:   bus,
		pm:    metrics.GetPrometheusMetrics(),
	}
}

// SetOnUpdate 注册读模型发布回调（必须在 Run 之前调用）
// 只有签名发生变化时才会触发，回调内不得阻塞
func (e *Engine) SetOnUpdate(fn func(*ReadModel)) {
	e.onUpdate = fn
}

// SetOnFill 注册成交回调（必须在 Run 之前调用）
// 用于触发成交历史刷新，回调内不得阻塞
func (e *Engine) SetOnFill(fn func(*FillEvent)) {
	e.onFill = fn
}

// Submit 投递消息到收件箱（非阻塞）
// 收件箱满时丢弃并告警：行情和快照丢失可由下一次推送/拉取自愈
func (e *Engine) Submit(msg *Message) {
	if msg == nil {
		return
	}
	select {
	case e.inbox <- msg:
	default:
		e.pm.RecordEventDropped(string(msg.Type), "inbox_full")
		logger.Warn("⚠️ [引擎] 收件箱已满，丢弃消息: %s", msg.Type)
	}
}

// GetReadModel 获取最近发布的读模型，尚未发布时返回 nil
func (e *Engine) GetReadModel() *ReadModel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readModel
}

// Run 引擎主循环（单一消费者），阻塞直到 ctx 取消
func (e *Engine) Run(ctx context.Context) {
	logger.Info("🚀 [引擎] 对账引擎启动, 收件箱容量 %d", cap(e.inbox))
	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 [引擎] 对账引擎退出")
			return
		case msg := <-e.inbox:
			if msg == nil {
				continue
			}
			e.handle(msg)
		}
	}
}

// handle 分发单条消息，处理完毕后尝试发布读模型
func (e *Engine) handle(msg *Message) {
	e.pm.RecordEngineEvent(string(msg.Type))

	switch msg.Type {
	case MsgSnapshot:
		e.applySnapshot(msg.Snapshot)
	case MsgPriceTick:
		if len(msg.Ticks) > 0 {
			e.cache.ApplyPriceTicks(msg.Ticks)
		}
	case MsgFill:
		e.applyFill(msg.Fill)
	case MsgFeedState:
		e.setStale(msg.Stale)
	default:
		e.pm.RecordMalformedEvent(string(msg.Type))
		logger.Debug("🗑️ [引擎] 未知消息类型: %s", msg.Type)
		return
	}

	e.publish()
}

// applySnapshot 应用全量快照
// 代号小于已应用快照的迟到响应直接丢弃，防止慢请求回退新状态
func (e *Engine) applySnapshot(snap *Snapshot) {
	if snap == nil {
		e.pm.RecordMalformedEvent(string(MsgSnapshot))
		return
	}
	if snap.Generation < e.lastGeneration {
		e.pm.RecordEventDropped(string(MsgSnapshot), "superseded")
		logger.Debug("🗑️ [引擎] 丢弃过期快照: generation %d < %d", snap.Generation, e.lastGeneration)
		return
	}
	e.lastGeneration = snap.Generation

	e.cache.ApplySnapshot(snap.Positions)
	if snap.Account != nil {
		e.usdtTotal = snap.Account.USDTTotal
		e.accountReady = true
	}
	// 快照成功到达意味着数据源恢复
	e.setStale(false)
}

// applyFill 应用成交事件，并触发成交历史刷新
func (e *Engine) applyFill(ev *FillEvent) {
	if ev == nil {
		e.pm.RecordMalformedEvent(string(MsgFill))
		return
	}
	if ev.Status != "" && ev.Status != "FILLED" {
		logger.Debug("🤷 [引擎] 忽略非成交状态事件: %s %s", ev.Symbol, ev.Status)
		return
	}
	e.cache.ApplyFill(ev)
	if e.onFill != nil {
		e.onFill(ev)
	}
}

// setStale 切换数据过期标记并广播状态事件
func (e *Engine) setStale(stale bool) {
	if e.stale == stale {
		return
	}
	e.stale = stale
	e.pm.SetFeedStale(stale)
	if e.bus != nil {
		if stale {
			e.bus.PublishType(event.EventTypeFeedStale, nil)
		} else {
			e.bus.PublishType(event.EventTypeFeedRecovered, nil)
		}
	}
	if stale {
		logger.Warn("⚠️ [引擎] 数据源超时, 读模型标记为过期")
	} else {
		logger.Info("✅ [引擎] 数据源恢复")
	}
}

// publish 构造读模型并按签名门控发布
// 持仓或账户任一签名变化才发布新模型，否则跳过，避免无意义的重绘与广播
func (e *Engine) publish() {
	positions := e.cache.Get()
	totals := ComputeTotals(positions, e.usdtTotal, e.accountReady)

	posSig := PositionsSignature(positions)
	acctSig := AccountSignature(totals, e.stale)

	posChanged := ShouldRender(e.prevPosSig, posSig)
	acctChanged := ShouldRender(e.prevAcctSig, acctSig)

	if posChanged {
		e.pm.RecordRenderBroadcast("positions")
	} else {
		e.pm.RecordRenderSkip("positions")
	}
	if acctChanged {
		e.pm.RecordRenderBroadcast("account")
	} else {
		e.pm.RecordRenderSkip("account")
	}

	if !posChanged && !acctChanged {
		return
	}
	e.prevPosSig = posSig
	e.prevAcctSig = acctSig

	model := &ReadModel{
		Positions:  positions,
		Account:    totals,
		Stale:      e.stale,
		Generation: e.lastGeneration,
		UpdatedAt:  time.Now(),
	}

	e.mu.Lock()
	e.readModel = model
	e.mu.Unlock()

	e.pm.SetPositionCount(len(positions))
	if totals.Ready {
		e.pm.SetTotalPnL(totals.TotalPnL)
		e.pm.SetTotalAssetValue(totals.TotalAssetValue)
	}

	if e.onUpdate != nil {
		e.onUpdate(model)
	}
}

// Drain 处理收件箱中已有的全部消息后返回，供测试做确定性驱动
func (e *Engine) Drain() {
	for {
		select {
		case msg := <-e.inbox:
			if msg != nil {
				e.handle(msg)
			}
		default:
			return
		}
	}
}
