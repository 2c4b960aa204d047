package event

import (
	"testing"
)

// TestPublishSubscribe 测试发布订阅
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus(4)

	bus.PublishType(EventTypeOrderFilled, map[string]interface{}{"symbol": "BTCUSDT"})

	select {
	case ev := <-bus.Subscribe():
		if ev.Type != EventTypeOrderFilled {
			t.Errorf("事件类型错误: %s", ev.Type)
		}
		if ev.Timestamp.IsZero() {
			t.Error("时间戳应自动填充")
		}
		if ev.Data["symbol"] != "BTCUSDT" {
			t.Errorf("事件数据错误: %v", ev.Data)
		}
	default:
		t.Fatal("应收到已发布的事件")
	}
}

// TestPublishFullDrops 测试队列满时丢弃不阻塞
func TestPublishFullDrops(t *testing.T) {
	bus := NewEventBus(2)

	// 超量发布不应阻塞
	for i := 0; i < 10; i++ {
		bus.PublishType(EventTypeError, nil)
	}

	if got := len(bus.Subscribe()); got != 2 {
		t.Errorf("队列应保留容量上限条事件: 期望 2, 实际 %d", got)
	}
}

// TestPublishNil 测试空事件被忽略
func TestPublishNil(t *testing.T) {
	bus := NewEventBus(2)
	bus.Publish(nil)
	if len(bus.Subscribe()) != 0 {
		t.Error("空事件不应入队")
	}
}
