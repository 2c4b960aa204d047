package reconcile

import (
	"math"
	"sort"

	"tradedeck/logger"
)

// PositionCache 持仓缓存与成交对账器
// 状态私有，只能通过 ApplyFill / ApplySnapshot / ApplyPriceTicks 变更，
// 读取方拿到的永远是副本。非并发安全：只允许对账引擎的单一消费协程访问。
type PositionCache struct {
	positions map[string]*Position // key: symbol/side
}

// NewPositionCache 创建持仓缓存
func NewPositionCache() *PositionCache {
	return &PositionCache{
		positions: make(map[string]*Position),
	}
}

// finite 判断数值是否为有效的有限数
func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// classifyFill 成交方向判定表，按顺序求值：
//  1. position_side=LONG：目标多头；SELL 或 reduce_only 为平仓，否则开/加仓
//  2. position_side=SHORT：目标空头；BUY 或 reduce_only 为平仓，否则开/加仓
//  3. 无 position_side：reduce_only 时按惯例反推平仓方向（SELL→平多，BUY→平空），
//     否则 BUY→开多，SELL→开空
//
// 对冲模式下同币种双向持仓时第3条的推断存在歧义，此处保留原有启发式不做修正
func classifyFill(ev *FillEvent) (side Side, isClose bool) {
	switch ev.PositionSide {
	case "LONG":
		return SideLong, ev.Side == "SELL" || ev.ReduceOnly
	case "SHORT":
		return SideShort, ev.Side == "BUY" || ev.ReduceOnly
	default:
		if ev.ReduceOnly {
			if ev.Side == "SELL" {
				return SideLong, true
			}
			return SideShort, true
		}
		if ev.Side == "BUY" {
			return SideLong, false
		}
		return SideShort, false
	}
}

// ApplyFill 将成交事件应用到持仓缓存
// 非法事件（缺少交易对、数值非有限）直接丢弃，系统降级运行，绝不硬失败
func (pc *PositionCache) ApplyFill(ev *FillEvent) {
	if ev == nil || ev.Symbol == "" {
		logger.Debug("🗑️ [持仓] 丢弃非法成交事件: 缺少交易对")
		return
	}
	if !finite(ev.FilledQty, ev.AvgPrice) || ev.FilledQty < 0 || ev.AvgPrice < 0 {
		logger.Debug("🗑️ [持仓] 丢弃非法成交事件: %s 数值异常", ev.Symbol)
		return
	}

	side, isClose := classifyFill(ev)
	key := ev.Symbol + "/" + string(side)
	pos, exists := pc.positions[key]

	if isClose {
		if !exists {
			// 防御：缓存中没有对应持仓时平仓为空操作，不生成负持仓
			logger.Debug("🤷 [持仓] 平仓事件无对应持仓, 忽略: %s %s", ev.Symbol, side)
			return
		}
		remaining := pos.Quantity - ev.FilledQty
		if remaining <= dustThreshold {
			// 剩余为负时同样按全部平掉处理（不变式：数量永不为负）
			delete(pc.positions, key)
			logger.Debug("📕 [持仓] 平仓完成: %s %s", ev.Symbol, side)
			return
		}
		pos.Quantity = remaining
		pos.recompute()
		logger.Debug("📉 [持仓] 部分平仓: %s %s 剩余 %.8f", ev.Symbol, side, remaining)
		return
	}

	// 开仓 / 加仓
	if exists {
		total := pos.Quantity + ev.FilledQty
		if total > 0 && ev.FilledQty > 0 && ev.AvgPrice > 0 {
			// 数量加权均价
			pos.AvgPrice = (pos.Quantity*pos.AvgPrice + ev.FilledQty*ev.AvgPrice) / total
			pos.Quantity = total
			pos.recompute()
			logger.Debug("📈 [持仓] 加仓: %s %s 数量 %.8f 均价 %.4f", ev.Symbol, side, pos.Quantity, pos.AvgPrice)
		}
		return
	}

	if ev.FilledQty > 0 && ev.AvgPrice > 0 {
		pos = &Position{
			Symbol:       ev.Symbol,
			Side:         side,
			Quantity:     ev.FilledQty,
			AvgPrice:     ev.AvgPrice,
			CurrentPrice: ev.AvgPrice, // 最新价以成交价为种子，等待行情覆盖
		}
		pos.recompute()
		pc.positions[key] = pos
		logger.Debug("📗 [持仓] 开仓: %s %s 数量 %.8f @ %.4f", ev.Symbol, side, ev.FilledQty, ev.AvgPrice)
	}
}

// ApplySnapshot 全量替换持仓（last-write-wins）
// 快照内的非法条目跳过，不影响其他条目
func (pc *PositionCache) ApplySnapshot(positions []*Position) {
	next := make(map[string]*Position, len(positions))
	for _, p := range positions {
		if p == nil || p.Symbol == "" {
			continue
		}
		if !finite(p.Quantity, p.AvgPrice, p.CurrentPrice, p.Leverage) || p.Quantity <= dustThreshold {
			continue
		}
		cp := p.Clone()
		if cp.Side != SideShort {
			cp.Side = SideLong
		}
		cp.recompute()
		next[cp.Key()] = cp
	}
	pc.positions = next
}

// ApplyPriceTicks 行情推送：重算匹配交易对的最新价与浮动盈亏
// 只更新已有持仓，绝不创建或删除；没有行情的持仓保留原值，仍计入聚合
func (pc *PositionCache) ApplyPriceTicks(ticks map[string]PriceTick) AggregateTotals {
	var totals AggregateTotals
	for _, pos := range pc.positions {
		if tick, ok := ticks[pos.Symbol]; ok && tick.Price > 0 && finite(tick.Price) {
			pos.CurrentPrice = tick.Price
			pos.Change24h = tick.Change24h
			pos.recompute()
		}
		totals.TotalPnL += pos.PnL
		totals.TotalMargin += pos.margin()
	}
	return totals
}

// Totals 返回当前缓存的聚合值（不触发任何重算）
func (pc *PositionCache) Totals() AggregateTotals {
	var totals AggregateTotals
	for _, pos := range pc.positions {
		totals.TotalPnL += pos.PnL
		totals.TotalMargin += pos.margin()
	}
	return totals
}

// Get 返回按键排序的持仓副本列表，供渲染方只读使用
func (pc *PositionCache) Get() []*Position {
	out := make([]*Position, 0, len(pc.positions))
	for _, pos := range pc.positions {
		out = append(out, pos.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Len 当前持仓数量
func (pc *PositionCache) Len() int {
	return len(pc.positions)
}
