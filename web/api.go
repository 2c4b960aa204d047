package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradedeck/reconcile"
	"tradedeck/utils"
)

// PositionsPayload 持仓视图
func PositionsPayload(model *reconcile.ReadModel) gin.H {
	return gin.H{
		"positions":  model.Positions,
		"stale":      model.Stale,
		"updated_at": model.UpdatedAt,
	}
}

// AccountPayload 账户视图
// 余额未就绪时数值字段渲染为 null，渲染端必须显示"未知"而不是 0
func AccountPayload(model *reconcile.ReadModel) gin.H {
	if !model.Account.Ready {
		return gin.H{
			"ready":             false,
			"total_asset_value": nil,
			"total_pnl":         nil,
			"total_pnl_pct":     nil,
			"stale":             model.Stale,
		}
	}
	return gin.H{
		"ready":             true,
		"total_asset_value": model.Account.TotalAssetValue,
		"total_pnl":         model.Account.TotalPnL,
		"total_pnl_pct":     model.Account.TotalPnLPct,
		"stale":             model.Stale,
	}
}

// getPositions GET /api/positions
func (s *Server) getPositions(c *gin.Context) {
	model := s.engine.GetReadModel()
	if model == nil {
		c.JSON(http.StatusOK, gin.H{"positions": []*reconcile.Position{}, "stale": true})
		return
	}
	c.JSON(http.StatusOK, PositionsPayload(model))
}

// getPositionsSummary GET /api/positions/summary
func (s *Server) getPositionsSummary(c *gin.Context) {
	model := s.engine.GetReadModel()
	summary := reconcile.SnapshotSummary{}
	stale := true
	if model != nil {
		stale = model.Stale
		for _, pos := range model.Positions {
			summary.TotalCost += pos.CostValue
			summary.TotalValue += pos.MarketValue
			summary.TotalPnL += pos.PnL
		}
		summary.PositionCount = len(model.Positions)
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "stale": stale})
}

// getAccount GET /api/account
func (s *Server) getAccount(c *gin.Context) {
	model := s.engine.GetReadModel()
	if model == nil {
		c.JSON(http.StatusOK, gin.H{
			"ready":             false,
			"total_asset_value": nil,
			"total_pnl":         nil,
			"total_pnl_pct":     nil,
			"stale":             true,
		})
		return
	}
	c.JSON(http.StatusOK, AccountPayload(model))
}

// getHistory GET /api/history?status=filled&today=true&limit=50
// "仅已成交"与"全部状态"视图共用同一份已拉取数据
func (s *Server) getHistory(c *gin.Context) {
	status := c.Query("status")
	records := s.history.Filtered(status)

	// 只看今天（按配置时区的自然日）
	if c.Query("today") == "true" {
		now := utils.NowConfiguredTimezone()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		todays := make([]*reconcile.TradeRecord, 0, len(records))
		for _, rec := range records {
			if !utils.ToConfiguredTimezone(rec.CreatedAt).Before(dayStart) {
				todays = append(todays, rec)
			}
		}
		records = todays
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(records) {
			records = records[:limit]
		}
	}

	tags := map[int64]reconcile.TradeTag{}
	if view := s.history.GetView(); view != nil {
		tags = view.Tags
	}

	c.JSON(http.StatusOK, gin.H{
		"history": records,
		"tags":    tags,
		"total":   len(records),
	})
}

// refreshHistory POST /api/history/refresh
func (s *Server) refreshHistory(c *gin.Context) {
	s.history.Trigger()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getStatus GET /api/status
func (s *Server) getStatus(c *gin.Context) {
	model := s.engine.GetReadModel()

	status := gin.H{
		"uptime_seconds": int(time.Since(s.startAt).Seconds()),
		"server_time":    utils.NowConfiguredTimezone(),
		"clients":        s.hub.ClientCount(),
		"ready":          model != nil,
	}
	if model != nil {
		status["stale"] = model.Stale
		status["generation"] = model.Generation
		status["position_count"] = len(model.Positions)
		status["updated_at"] = model.UpdatedAt
	}
	c.JSON(http.StatusOK, status)
}
