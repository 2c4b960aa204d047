package reconcile

// ComputeTotals 计算账户总值
// ready 为 false 时返回"未知"哨兵（Ready=false），调用方不得把它渲染成 0，
// 避免首个权威余额到达前页面闪现 $0
func ComputeTotals(positions []*Position, usdtTotal float64, ready bool) AccountTotals {
	if !ready {
		return AccountTotals{Ready: false}
	}

	var totalPnL float64
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		totalPnL += pos.PnL
	}

	totals := AccountTotals{
		TotalAssetValue: usdtTotal + totalPnL,
		TotalPnL:        totalPnL,
		Ready:           true,
	}
	if usdtTotal > 0 {
		totals.TotalPnLPct = totalPnL / usdtTotal * 100
	}
	return totals
}
