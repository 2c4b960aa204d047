package reconcile

import (
	"strconv"
	"strings"
)

// 签名分隔符使用控制字符，避免与字段内容冲突
const (
	fieldSep = "\x1f"
	rowSep   = "\x1e"
)

// formatNum 数值的规范化字符串表示
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Signature 将若干行的语义字段拼接为规范化签名字符串
// 字段内用 fieldSep 分隔，行间用 rowSep 分隔；
// 签名相等意味着可见状态没有变化，渲染方必须跳过本次更新
func Signature(rows [][]string) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = strings.Join(row, fieldSep)
	}
	return strings.Join(parts, rowSep)
}

// PositionsSignature 持仓列表的渲染签名
// 只选取语义字段（键、数量、均价、最新价、杠杆），
// 不包含易变的格式化/展示字段，避免无意义的重绘
func PositionsSignature(positions []*Position) string {
	rows := make([][]string, 0, len(positions))
	for _, pos := range positions {
		if pos == nil {
			continue
		}
		rows = append(rows, []string{
			pos.Key(),
			formatNum(pos.Quantity),
			formatNum(pos.AvgPrice),
			formatNum(pos.CurrentPrice),
			formatNum(pos.Leverage),
		})
	}
	return Signature(rows)
}

// TradesSignature 成交列表的渲染签名，以记录 id 为稳定行键
func TradesSignature(records []*TradeRecord) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.ID, 10),
			rec.Status,
			formatNum(rec.Price),
			formatNum(rec.RealizedPnL),
		})
	}
	return Signature(rows)
}

// AccountSignature 账户汇总的渲染签名
func AccountSignature(totals AccountTotals, stale bool) string {
	if !totals.Ready {
		if stale {
			return "pending" + fieldSep + "stale"
		}
		return "pending"
	}
	row := []string{
		formatNum(totals.TotalAssetValue),
		formatNum(totals.TotalPnL),
		formatNum(totals.TotalPnLPct),
		strconv.FormatBool(stale),
	}
	return strings.Join(row, fieldSep)
}

// ShouldRender 签名不同才需要重绘
func ShouldRender(prev, next string) bool {
	return prev != next
}
