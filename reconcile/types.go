package reconcile

import (
	"time"
)

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// 数量小于该阈值的持仓视为已清零
const dustThreshold = 1e-8

// Position 单个持仓，以 (symbol, side) 为唯一键
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	Quantity         float64 `json:"quantity"`
	AvgPrice         float64 `json:"avg_price"`
	CurrentPrice     float64 `json:"current_price"`
	Change24h        float64 `json:"change_24h"` // 24小时涨跌幅（展示用，不参与对账）
	Leverage         float64 `json:"leverage"`   // 小于1表示未知，保证金回退为成本价值
	CostValue        float64 `json:"cost_value"`
	MarketValue      float64 `json:"market_value"`
	PnL              float64 `json:"pnl"`
	PnLPct           float64 `json:"pnl_pct"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// Key 返回持仓的复合键（symbol+side），与数组下标无关，
// 列表中其他位置的增删不会影响该键的稳定性
func (p *Position) Key() string {
	return p.Symbol + "/" + string(p.Side)
}

// margin 计算保证金：市值/杠杆，杠杆未知时回退为成本价值
func (p *Position) margin() float64 {
	if p.Leverage >= 1 {
		return p.MarketValue / p.Leverage
	}
	return p.CostValue
}

// recompute 重算衍生字段，所有事件处理的最后一步都要调用，
// 保证无论成交和行情以何种顺序到达，衍生值都基于最新的
// quantity/avg_price/current_price
func (p *Position) recompute() {
	p.CostValue = p.Quantity * p.AvgPrice
	p.MarketValue = p.Quantity * p.CurrentPrice
	if p.Side == SideShort {
		p.PnL = (p.AvgPrice - p.CurrentPrice) * p.Quantity
	} else {
		p.PnL = (p.CurrentPrice - p.AvgPrice) * p.Quantity
	}
	if m := p.margin(); m > 0 {
		p.PnLPct = p.PnL / m * 100
	} else {
		p.PnLPct = 0
	}
}

// Clone 返回持仓的只读副本
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// FillEvent 订单成交推送事件
type FillEvent struct {
	OrderID       int64   `json:"order_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`          // BUY / SELL
	PositionSide  string  `json:"position_side"` // LONG / SHORT / 空（单向持仓模式）
	FilledQty     float64 `json:"filled_qty"`
	AvgPrice      float64 `json:"avg_price"`
	ReduceOnly    bool    `json:"reduce_only"`
	ClosePosition bool    `json:"close_position"`
	Status        string  `json:"status"` // 仅 FILLED 触发对账
}

// PriceTick 单个交易对的行情快照
type PriceTick struct {
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// SnapshotSummary 持仓汇总视图（由读模型现算，保证与行情更新后的持仓一致）
type SnapshotSummary struct {
	TotalCost     float64 `json:"total_cost"`
	TotalValue    float64 `json:"total_value"`
	TotalPnL      float64 `json:"total_pnl"`
	PositionCount int     `json:"position_count"`
}

// AccountSnapshot 账户余额快照
type AccountSnapshot struct {
	USDTFree  float64 `json:"usdt_free"`
	USDTTotal float64 `json:"usdt_total"` // 可用余额 + 已用保证金
}

// Snapshot 全量持仓快照（last-write-wins 整体替换）
type Snapshot struct {
	Generation uint64           `json:"generation"` // 单调递增的请求代号，旧代快照会被丢弃
	Positions  []*Position      `json:"positions"`
	Account    *AccountSnapshot `json:"account"` // 可能为空（账户接口失败时仅更新持仓）
}

// TradeRecord 服务端生成的成交记录，客户端只读
type TradeRecord struct {
	ID              int64     `json:"id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`   // BUY=开多 SELL=平多 SHORT=开空 COVER=平空
	Status          string    `json:"status"` // filled / failed / skipped / pending
	Price           float64   `json:"price"`
	QuoteAmount     float64   `json:"quote_amount"`
	RealizedPnL     float64   `json:"realized_pnl"`
	ExchangeOrderID string    `json:"exchange_order_id"`
	CreatedAt       time.Time `json:"created_at"`
	ErrorMsg        string    `json:"error_msg"`
}

// AccountTotals 账户总值汇总
// Ready 为 false 时数值无意义，调用方必须渲染"未知"而不是 0
type AccountTotals struct {
	TotalAssetValue float64 `json:"total_asset_value"`
	TotalPnL        float64 `json:"total_pnl"`
	TotalPnLPct     float64 `json:"total_pnl_pct"`
	Ready           bool    `json:"ready"`
}

// AggregateTotals 行情更新后返回的聚合值，供权益计算使用
type AggregateTotals struct {
	TotalPnL    float64 `json:"total_pnl"`
	TotalMargin float64 `json:"total_margin"`
}
