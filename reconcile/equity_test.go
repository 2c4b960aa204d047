package reconcile

import (
	"testing"
)

// TestComputeTotalsNotReady 测试余额就绪前返回未知哨兵
func TestComputeTotalsNotReady(t *testing.T) {
	positions := []*Position{
		{Symbol: "BTCUSDT", Side: SideLong, PnL: 1000},
	}

	totals := ComputeTotals(positions, 0, false)
	if totals.Ready {
		t.Fatal("余额未就绪时 Ready 应为 false")
	}
	if totals.TotalAssetValue != 0 || totals.TotalPnL != 0 {
		t.Error("未就绪哨兵的数值字段应为零值")
	}
}

// TestComputeTotalsReady 测试总资产与收益率计算
func TestComputeTotalsReady(t *testing.T) {
	positions := []*Position{
		{Symbol: "BTCUSDT", Side: SideLong, PnL: 1000},
		{Symbol: "ETHUSDT", Side: SideShort, PnL: -200},
	}

	totals := ComputeTotals(positions, 10000, true)
	if !totals.Ready {
		t.Fatal("余额就绪时 Ready 应为 true")
	}
	if totals.TotalPnL != 800 {
		t.Errorf("总盈亏错误: 期望 800, 实际 %.4f", totals.TotalPnL)
	}
	if totals.TotalAssetValue != 10800 {
		t.Errorf("总资产错误: 期望 10800, 实际 %.4f", totals.TotalAssetValue)
	}
	if totals.TotalPnLPct != 8 {
		t.Errorf("收益率错误: 期望 8%%, 实际 %.4f%%", totals.TotalPnLPct)
	}
}

// TestComputeTotalsZeroBalance 测试零余额时收益率为零而非除零
func TestComputeTotalsZeroBalance(t *testing.T) {
	positions := []*Position{
		{Symbol: "BTCUSDT", Side: SideLong, PnL: 100},
	}

	totals := ComputeTotals(positions, 0, true)
	if totals.TotalPnLPct != 0 {
		t.Errorf("零余额时收益率应为 0, 实际 %.4f", totals.TotalPnLPct)
	}
	if totals.TotalAssetValue != 100 {
		t.Errorf("总资产错误: 期望 100, 实际 %.4f", totals.TotalAssetValue)
	}
}

// TestComputeTotalsEmptyPositions 测试无持仓时总资产等于余额
func TestComputeTotalsEmptyPositions(t *testing.T) {
	totals := ComputeTotals(nil, 5000, true)
	if totals.TotalAssetValue != 5000 {
		t.Errorf("无持仓时总资产应等于余额: %.4f", totals.TotalAssetValue)
	}
	if totals.TotalPnL != 0 {
		t.Errorf("无持仓时总盈亏应为 0: %.4f", totals.TotalPnL)
	}
}
