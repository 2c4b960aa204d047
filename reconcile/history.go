package reconcile

import (
	"sort"
)

// TradeTag 成交记录的展示标签（开仓 vs 加仓）
type TradeTag struct {
	IsAddOn bool `json:"is_add_on"`
}

// StatusFilled 已成交状态
const StatusFilled = "filled"

// historySideKey 将记录的买卖方向映射为持仓键方向
// BUY/SELL 作用于多头，SHORT/COVER 作用于空头
func historySideKey(side string) (Side, bool) {
	switch side {
	case "BUY", "SELL":
		return SideLong, true
	case "SHORT", "COVER":
		return SideShort, true
	default:
		return "", false
	}
}

// isOpeningSide 开仓方向（BUY 开多、SHORT 开空）
func isOpeningSide(side string) bool {
	return side == "BUY" || side == "SHORT"
}

// ClassifyHistory 对成交历史做开仓/加仓分类
//
// 步骤：过滤已成交 → 按交易所订单号去重（首次出现保留，重复丢弃，
// 抵御 at-least-once 投递）→ 按 (created_at, id) 升序还原执行顺序 →
// 按 (symbol, 方向) 维护在场开仓计数：开仓记录在计数已大于0时标记为加仓，
// 平仓记录将计数减一（下限0），永不标记加仓。
//
// 输出只用于展示标注，不修改 TradeRecord 本身。
func ClassifyHistory(history []*TradeRecord) map[int64]TradeTag {
	tags := make(map[int64]TradeTag)

	// 过滤 + 去重
	seen := make(map[string]bool)
	filled := make([]*TradeRecord, 0, len(history))
	for _, rec := range history {
		if rec == nil || rec.Status != StatusFilled {
			continue
		}
		if rec.ExchangeOrderID != "" {
			if seen[rec.ExchangeOrderID] {
				continue
			}
			seen[rec.ExchangeOrderID] = true
		}
		filled = append(filled, rec)
	}

	// 按执行顺序排序
	sort.SliceStable(filled, func(i, j int) bool {
		if !filled[i].CreatedAt.Equal(filled[j].CreatedAt) {
			return filled[i].CreatedAt.Before(filled[j].CreatedAt)
		}
		return filled[i].ID < filled[j].ID
	})

	// 按 (symbol, 方向) 维护开仓计数
	openCount := make(map[string]int)
	for _, rec := range filled {
		side, ok := historySideKey(rec.Side)
		if !ok {
			tags[rec.ID] = TradeTag{}
			continue
		}
		key := rec.Symbol + "/" + string(side)

		if isOpeningSide(rec.Side) {
			tags[rec.ID] = TradeTag{IsAddOn: openCount[key] > 0}
			openCount[key]++
		} else {
			tags[rec.ID] = TradeTag{}
			if openCount[key] > 0 {
				openCount[key]--
			}
		}
	}

	return tags
}

// FilterByStatus 按状态过滤成交历史，status 为空返回全部记录
// "仅已成交"和"全部状态"两种视图都基于同一份数据派生，无需重新拉取
func FilterByStatus(history []*TradeRecord, status string) []*TradeRecord {
	if status == "" {
		out := make([]*TradeRecord, len(history))
		copy(out, history)
		return out
	}
	out := make([]*TradeRecord, 0, len(history))
	for _, rec := range history {
		if rec != nil && rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}
