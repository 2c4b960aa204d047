package notify

import (
	"testing"
	"time"

	"tradedeck/config"
	"tradedeck/event"
)

func testConfig(t *testing.T) *config.Config {
	cfg, err := config.LoadConfigFromBytes([]byte(`
notifications:
  enabled: true
  rules:
    order_filled: true
    feed_stale: false
    websocket_disconnected: true
    error: true
`))
	if err != nil {
		t.Fatalf("加载测试配置失败: %v", err)
	}
	return cfg
}

// TestShouldNotifyRules 测试通知规则过滤
func TestShouldNotifyRules(t *testing.T) {
	ns := NewNotificationService(testConfig(t))

	cases := []struct {
		eventType event.EventType
		want      bool
	}{
		{event.EventTypeOrderFilled, true},
		{event.EventTypeFeedStale, false},
		{event.EventTypeFeedRecovered, false}, // 与 feed_stale 共用开关
		{event.EventTypeWebSocketDisconnected, true},
		{event.EventTypeWebSocketReconnected, true},
		{event.EventTypeError, true},
		{event.EventTypeSystemStart, true}, // 系统事件默认通知
	}

	for _, tc := range cases {
		if got := ns.shouldNotify(tc.eventType); got != tc.want {
			t.Errorf("%s: 期望 %v, 实际 %v", tc.eventType, tc.want, got)
		}
	}
}

// TestShouldNotifyDisabled 测试总开关关闭时全部不通知
func TestShouldNotifyDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Notifications.Enabled = false
	ns := NewNotificationService(cfg)

	if ns.shouldNotify(event.EventTypeOrderFilled) {
		t.Error("总开关关闭时不应通知")
	}
}

// TestUpdateConfig 测试通知规则热更新
func TestUpdateConfig(t *testing.T) {
	ns := NewNotificationService(testConfig(t))

	newCfg := testConfig(t)
	newCfg.Notifications.Rules.OrderFilled = false
	ns.UpdateConfig(newCfg)

	if ns.shouldNotify(event.EventTypeOrderFilled) {
		t.Error("热更新后应使用新规则")
	}
}

// TestFormatMessageOrderFilled 测试成交通知的格式化
func TestFormatMessageOrderFilled(t *testing.T) {
	evt := &event.Event{
		Type:      event.EventTypeOrderFilled,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"symbol":    "BTCUSDT",
			"side":      "BUY",
			"price":     50000.0,
			"is_add_on": true,
		},
	}

	title, body := FormatMessage(evt)
	if title == "" || body == "" {
		t.Errorf("格式化结果不应为空: title=%q body=%q", title, body)
	}
}
