package reconcile

import (
	"math"
	"testing"
)

// TestClassifyFill 测试成交方向判定表
func TestClassifyFill(t *testing.T) {
	cases := []struct {
		name       string
		side       string
		posSide    string
		reduceOnly bool
		wantSide   Side
		wantClose  bool
	}{
		{"LONG买入开仓", "BUY", "LONG", false, SideLong, false},
		{"LONG卖出平仓", "SELL", "LONG", false, SideLong, true},
		{"LONG只减仓买入也是平仓", "BUY", "LONG", true, SideLong, true},
		{"SHORT卖出开仓", "SELL", "SHORT", false, SideShort, false},
		{"SHORT买入平仓", "BUY", "SHORT", false, SideShort, true},
		{"SHORT只减仓卖出也是平仓", "SELL", "SHORT", true, SideShort, true},
		{"单向模式买入开多", "BUY", "", false, SideLong, false},
		{"单向模式卖出开空", "SELL", "", false, SideShort, false},
		{"单向模式只减仓卖出平多", "SELL", "", true, SideLong, true},
		{"单向模式只减仓买入平空", "BUY", "", true, SideShort, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &FillEvent{Side: tc.side, PositionSide: tc.posSide, ReduceOnly: tc.reduceOnly}
			side, isClose := classifyFill(ev)
			if side != tc.wantSide || isClose != tc.wantClose {
				t.Errorf("判定错误: 期望 (%s, %v), 实际 (%s, %v)", tc.wantSide, tc.wantClose, side, isClose)
			}
		})
	}
}

// TestApplyFillOpenThenTick 测试开仓后行情更新的盈亏计算
func TestApplyFillOpenThenTick(t *testing.T) {
	pc := NewPositionCache()

	// 多头 1 BTC @ 50000
	pc.ApplyFill(&FillEvent{
		Symbol:    "BTCUSDT",
		Side:      "BUY",
		FilledQty: 1,
		AvgPrice:  50000,
	})

	if pc.Len() != 1 {
		t.Fatalf("持仓数量错误: 期望 1, 实际 %d", pc.Len())
	}

	// 行情 51000 → 盈亏 1000
	pc.ApplyPriceTicks(map[string]PriceTick{
		"BTCUSDT": {Price: 51000, Change24h: 2.0},
	})

	pos := pc.Get()[0]
	if pos.PnL != 1000 {
		t.Errorf("多头盈亏错误: 期望 1000, 实际 %.4f", pos.PnL)
	}
	if pos.MarketValue != 51000 {
		t.Errorf("市值错误: 期望 51000, 实际 %.4f", pos.MarketValue)
	}
	if pos.Change24h != 2.0 {
		t.Errorf("涨跌幅未更新: %.2f", pos.Change24h)
	}
}

// TestApplyFillShortPnL 测试空头盈亏方向
func TestApplyFillShortPnL(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{
		Symbol:       "ETHUSDT",
		Side:         "SELL",
		PositionSide: "SHORT",
		FilledQty:    2,
		AvgPrice:     3000,
	})

	// 价格下跌，空头盈利
	pc.ApplyPriceTicks(map[string]PriceTick{
		"ETHUSDT": {Price: 2900},
	})

	pos := pc.Get()[0]
	if pos.Side != SideShort {
		t.Fatalf("方向错误: %s", pos.Side)
	}
	if pos.PnL != 200 {
		t.Errorf("空头盈亏错误: 期望 200, 实际 %.4f", pos.PnL)
	}
}

// TestApplyFillWeightedAvg 测试加仓的数量加权均价
func TestApplyFillWeightedAvg(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 52000})

	pos := pc.Get()[0]
	if pos.Quantity != 2 {
		t.Errorf("加仓后数量错误: 期望 2, 实际 %.8f", pos.Quantity)
	}
	if pos.AvgPrice != 51000 {
		t.Errorf("加权均价错误: 期望 51000, 实际 %.4f", pos.AvgPrice)
	}
}

// TestApplyFillPartialAndFullClose 测试部分平仓与清零移除
func TestApplyFillPartialAndFullClose(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 2, AvgPrice: 50000})

	// 部分平仓
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "SELL", FilledQty: 0.5, AvgPrice: 51000})
	pos := pc.Get()[0]
	if pos.Quantity != 1.5 {
		t.Errorf("部分平仓后数量错误: 期望 1.5, 实际 %.8f", pos.Quantity)
	}
	if pos.AvgPrice != 50000 {
		t.Errorf("平仓不应改变均价: %.4f", pos.AvgPrice)
	}

	// 全部平仓（剩余低于灰尘阈值时移除）
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "SELL", FilledQty: 1.5, AvgPrice: 51000})
	if pc.Len() != 0 {
		t.Errorf("全部平仓后应移除持仓, 实际剩余 %d", pc.Len())
	}
}

// TestApplyFillOverClose 测试超量平仓不产生负持仓
func TestApplyFillOverClose(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "SELL", FilledQty: 3, AvgPrice: 50000})

	if pc.Len() != 0 {
		t.Errorf("超量平仓应按全部平掉处理, 实际剩余 %d", pc.Len())
	}
}

// TestApplyFillCloseWithoutPosition 测试无持仓时平仓为空操作
func TestApplyFillCloseWithoutPosition(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "SELL", ReduceOnly: true, FilledQty: 1, AvgPrice: 50000})

	if pc.Len() != 0 {
		t.Errorf("无持仓平仓不应创建持仓, 实际 %d", pc.Len())
	}
}

// TestApplyFillMalformed 测试非法事件被丢弃
func TestApplyFillMalformed(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(nil)
	pc.ApplyFill(&FillEvent{Side: "BUY", FilledQty: 1, AvgPrice: 50000})                            // 缺少交易对
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: math.NaN(), AvgPrice: 100}) // NaN
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: math.Inf(1)})  // Inf
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: -1, AvgPrice: 100})         // 负数量

	if pc.Len() != 0 {
		t.Errorf("非法事件不应修改缓存, 实际持仓 %d", pc.Len())
	}
}

// TestApplySnapshotReplace 测试快照整体替换
func TestApplySnapshotReplace(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})

	pc.ApplySnapshot([]*Position{
		{Symbol: "ETHUSDT", Side: SideLong, Quantity: 5, AvgPrice: 3000, CurrentPrice: 3100, Leverage: 10},
		{Symbol: "", Quantity: 1, AvgPrice: 1, CurrentPrice: 1},         // 非法条目跳过
		{Symbol: "XRPUSDT", Side: SideLong, Quantity: 0, AvgPrice: 0.5}, // 零数量跳过
	})

	positions := pc.Get()
	if len(positions) != 1 {
		t.Fatalf("快照替换后持仓数量错误: 期望 1, 实际 %d", len(positions))
	}
	if positions[0].Symbol != "ETHUSDT" {
		t.Errorf("旧持仓未被替换: %s", positions[0].Symbol)
	}
	if positions[0].PnL != 500 {
		t.Errorf("快照应用后应重算衍生值: 期望盈亏 500, 实际 %.4f", positions[0].PnL)
	}
}

// TestApplyPriceTicksNeverCreates 测试行情只更新已有持仓
func TestApplyPriceTicksNeverCreates(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})

	totals := pc.ApplyPriceTicks(map[string]PriceTick{
		"BTCUSDT": {Price: 51000},
		"ETHUSDT": {Price: 3000}, // 无对应持仓，应被忽略
		"DOGUSDT": {Price: -1},   // 非法价格，应被忽略
	})

	if pc.Len() != 1 {
		t.Errorf("行情不应创建持仓, 实际 %d", pc.Len())
	}
	if totals.TotalPnL != 1000 {
		t.Errorf("聚合盈亏错误: 期望 1000, 实际 %.4f", totals.TotalPnL)
	}
}

// TestApplyPriceTicksKeepsUnmatched 测试无行情的持仓保留原值且计入聚合
func TestApplyPriceTicksKeepsUnmatched(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})
	pc.ApplyFill(&FillEvent{Symbol: "ETHUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 3000})

	pc.ApplyPriceTicks(map[string]PriceTick{"BTCUSDT": {Price: 51000}})

	totals := pc.ApplyPriceTicks(map[string]PriceTick{})
	// BTCUSDT 盈亏 1000，ETHUSDT 最新价仍为成交价，盈亏 0
	if totals.TotalPnL != 1000 {
		t.Errorf("无行情持仓应保留并计入聚合: 期望 1000, 实际 %.4f", totals.TotalPnL)
	}
}

// TestGetReturnsSortedClones 测试读取返回排序副本
func TestGetReturnsSortedClones(t *testing.T) {
	pc := NewPositionCache()

	pc.ApplyFill(&FillEvent{Symbol: "ETHUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 3000})
	pc.ApplyFill(&FillEvent{Symbol: "BTCUSDT", Side: "BUY", FilledQty: 1, AvgPrice: 50000})

	positions := pc.Get()
	if positions[0].Symbol != "BTCUSDT" {
		t.Errorf("持仓列表应按键排序: 首位 %s", positions[0].Symbol)
	}

	// 修改副本不影响缓存
	positions[0].Quantity = 999
	if pc.Get()[0].Quantity == 999 {
		t.Error("读取方拿到的应是副本, 修改不应影响缓存")
	}
}
