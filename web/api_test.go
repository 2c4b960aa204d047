package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradedeck/config"
	"tradedeck/feed"
	"tradedeck/reconcile"
)

// mockEngine 模拟读模型来源
type mockEngine struct {
	model *reconcile.ReadModel
}

func (me *mockEngine) GetReadModel() *reconcile.ReadModel {
	return me.model
}

// stubHistorySource 固定返回的历史数据源
type stubHistorySource struct {
	records []*reconcile.TradeRecord
}

func (ss *stubHistorySource) FetchTradeHistory(_ context.Context, _ []string, _ int) ([]*reconcile.TradeRecord, error) {
	return ss.records, nil
}

func newTestServer(t *testing.T, model *reconcile.ReadModel, records []*reconcile.TradeRecord) *Server {
	cfg := &config.Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("配置校验失败: %v", err)
	}

	history := feed.NewHistoryService(&stubHistorySource{records: records}, nil, nil, nil, 200)
	if records != nil {
		history.Refresh(context.Background())
	}

	return NewServer(cfg, &mockEngine{model: model}, history)
}

func doRequest(t *testing.T, s *Server, method, path string) map[string]interface{} {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("%s %s 状态码错误: %d", method, path, w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	return body
}

// TestGetAccountNotReady 测试余额未就绪时返回 null 而不是 0
func TestGetAccountNotReady(t *testing.T) {
	model := &reconcile.ReadModel{
		Account:   reconcile.AccountTotals{Ready: false},
		UpdatedAt: time.Now(),
	}
	s := newTestServer(t, model, nil)

	body := doRequest(t, s, "GET", "/api/account")
	if body["ready"] != false {
		t.Error("ready 应为 false")
	}
	if body["total_asset_value"] != nil {
		t.Errorf("未就绪时总资产应为 null: %v", body["total_asset_value"])
	}
}

// TestGetAccountReady 测试就绪后的账户视图
func TestGetAccountReady(t *testing.T) {
	model := &reconcile.ReadModel{
		Account: reconcile.AccountTotals{
			Ready:           true,
			TotalAssetValue: 11000,
			TotalPnL:        1000,
			TotalPnLPct:     10,
		},
	}
	s := newTestServer(t, model, nil)

	body := doRequest(t, s, "GET", "/api/account")
	if body["total_asset_value"].(float64) != 11000 {
		t.Errorf("总资产错误: %v", body["total_asset_value"])
	}
}

// TestGetPositions 测试持仓列表接口
func TestGetPositions(t *testing.T) {
	model := &reconcile.ReadModel{
		Positions: []*reconcile.Position{
			{Symbol: "BTCUSDT", Side: reconcile.SideLong, Quantity: 1, AvgPrice: 50000, CurrentPrice: 51000, PnL: 1000},
		},
		Stale: false,
	}
	s := newTestServer(t, model, nil)

	body := doRequest(t, s, "GET", "/api/positions")
	positions := body["positions"].([]interface{})
	if len(positions) != 1 {
		t.Fatalf("持仓数量错误: %d", len(positions))
	}
	if body["stale"] != false {
		t.Error("stale 标记错误")
	}
}

// TestGetPositionsSummary 测试汇总接口由读模型现算
func TestGetPositionsSummary(t *testing.T) {
	model := &reconcile.ReadModel{
		Positions: []*reconcile.Position{
			{Symbol: "BTCUSDT", Side: reconcile.SideLong, CostValue: 50000, MarketValue: 51000, PnL: 1000},
			{Symbol: "ETHUSDT", Side: reconcile.SideShort, CostValue: 6000, MarketValue: 5800, PnL: 200},
		},
	}
	s := newTestServer(t, model, nil)

	body := doRequest(t, s, "GET", "/api/positions/summary")
	summary := body["summary"].(map[string]interface{})
	if summary["total_pnl"].(float64) != 1200 {
		t.Errorf("汇总盈亏错误: %v", summary["total_pnl"])
	}
	if summary["position_count"].(float64) != 2 {
		t.Errorf("持仓数量错误: %v", summary["position_count"])
	}
}

// TestGetPositionsNoModel 测试读模型未就绪时返回空列表
func TestGetPositionsNoModel(t *testing.T) {
	s := newTestServer(t, nil, nil)

	body := doRequest(t, s, "GET", "/api/positions")
	if body["stale"] != true {
		t.Error("无读模型时应标记为过期")
	}
}

// TestGetHistoryFiltered 测试历史接口的状态过滤
func TestGetHistoryFiltered(t *testing.T) {
	now := time.Now()
	records := []*reconcile.TradeRecord{
		{ID: 1, Symbol: "BTCUSDT", Side: "BUY", Status: reconcile.StatusFilled, CreatedAt: now},
		{ID: 2, Symbol: "BTCUSDT", Side: "BUY", Status: "failed", CreatedAt: now},
	}
	s := newTestServer(t, nil, records)

	body := doRequest(t, s, "GET", "/api/history?status=filled")
	if body["total"].(float64) != 1 {
		t.Errorf("已成交过滤错误: %v", body["total"])
	}

	body = doRequest(t, s, "GET", "/api/history")
	if body["total"].(float64) != 2 {
		t.Errorf("全部状态应返回两条: %v", body["total"])
	}
}

// TestGetHistoryToday 测试只看今天的过滤
func TestGetHistoryToday(t *testing.T) {
	records := []*reconcile.TradeRecord{
		{ID: 1, Symbol: "BTCUSDT", Side: "BUY", Status: reconcile.StatusFilled, CreatedAt: time.Now()},
		{ID: 2, Symbol: "BTCUSDT", Side: "BUY", Status: reconcile.StatusFilled, CreatedAt: time.Now().AddDate(0, 0, -2)},
	}
	s := newTestServer(t, nil, records)

	body := doRequest(t, s, "GET", "/api/history?today=true")
	if body["total"].(float64) != 1 {
		t.Errorf("今日过滤应只剩一条: %v", body["total"])
	}
}

// TestGetStatus 测试状态接口
func TestGetStatus(t *testing.T) {
	model := &reconcile.ReadModel{Generation: 7, Stale: false, UpdatedAt: time.Now()}
	s := newTestServer(t, model, nil)

	body := doRequest(t, s, "GET", "/api/status")
	if body["ready"] != true {
		t.Error("有读模型时 ready 应为 true")
	}
	if body["generation"].(float64) != 7 {
		t.Errorf("代号错误: %v", body["generation"])
	}
}
