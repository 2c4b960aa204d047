package reconcile

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

// memStore 内存版状态存储，用于测试注入
type memStore struct {
	data    map[string]string
	failSet bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (ms *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := ms.data[key]
	return v, ok, nil
}

func (ms *memStore) Set(_ context.Context, key, value string) error {
	if ms.failSet {
		return errors.New("存储不可用")
	}
	ms.data[key] = value
	return nil
}

func filledRec(id int64, orderID string) *TradeRecord {
	return &TradeRecord{
		ID:              id,
		Symbol:          "BTCUSDT",
		Side:            "BUY",
		Status:          StatusFilled,
		ExchangeOrderID: orderID,
		CreatedAt:       time.Now(),
	}
}

// TestWatermarkSeedThenBackfill 测试播种与有界补发
func TestWatermarkSeedThenBackfill(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	wm := NewWatermark(ctx, store, 2, 200)

	// 首次调用：播种到最大 id，零通知
	got := wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(1, "E-1"), filledRec(2, "E-2"), filledRec(3, "E-3"),
	})
	if len(got) != 0 {
		t.Fatalf("播种调用不应产生通知, 实际 %d 条", len(got))
	}
	if wm.LastNotifiedID() != 3 {
		t.Fatalf("播种后水位线错误: 期望 3, 实际 %d", wm.LastNotifiedID())
	}

	// 第二次调用：id 1..5，补发上限 2 → 只通知 4、5
	got = wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(1, "E-1"), filledRec(2, "E-2"), filledRec(3, "E-3"),
		filledRec(4, "E-4"), filledRec(5, "E-5"),
	})
	if len(got) != 2 {
		t.Fatalf("补发数量错误: 期望 2, 实际 %d", len(got))
	}
	if got[0].ID != 4 || got[1].ID != 5 {
		t.Errorf("应补发最后两条: 实际 [%d, %d]", got[0].ID, got[1].ID)
	}
	if wm.LastNotifiedID() != 5 {
		t.Errorf("水位线应推进到 5, 实际 %d", wm.LastNotifiedID())
	}
}

// TestWatermarkSkippedAreAcknowledged 测试被跳过的记录不会在后续调用补发
func TestWatermarkSkippedAreAcknowledged(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 1, 200)

	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(1, "E-1")})

	// 一次到达 3 条，上限 1 → 只通知 id=4，id 2、3 被确认
	got := wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(2, "E-2"), filledRec(3, "E-3"), filledRec(4, "E-4"),
	})
	if len(got) != 1 || got[0].ID != 4 {
		t.Fatalf("应只补发最后一条: %v", got)
	}

	// 同一批再来一次：全部已低于水位线，零通知
	got = wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(2, "E-2"), filledRec(3, "E-3"), filledRec(4, "E-4"),
	})
	if len(got) != 0 {
		t.Errorf("已确认记录不应重新补发, 实际 %d 条", len(got))
	}
}

// TestWatermarkResumeFromStore 测试重启后从存储恢复水位线
func TestWatermarkResumeFromStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	wm := NewWatermark(ctx, store, 3, 200)
	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(1, "E-1"), filledRec(2, "E-2")})

	// 新实例从同一存储加载：不重新播种，直接对新 id 发通知
	wm2 := NewWatermark(ctx, store, 3, 200)
	if wm2.LastNotifiedID() != 2 {
		t.Fatalf("恢复后水位线错误: 期望 2, 实际 %d", wm2.LastNotifiedID())
	}
	got := wm2.OnNewFilled(ctx, []*TradeRecord{filledRec(2, "E-2"), filledRec(3, "E-3")})
	if len(got) != 1 || got[0].ID != 3 {
		t.Errorf("恢复后应直接通知新记录: %v", got)
	}
}

// TestWatermarkDedupByOrderID 测试已通知订单号不重复通知
func TestWatermarkDedupByOrderID(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 5, 200)

	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(1, "E-1")})
	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(2, "E-2")})

	// 同一交易所订单换了记录 id（重建场景），不应再通知
	got := wm.OnNewFilled(ctx, []*TradeRecord{filledRec(9, "E-2")})
	if len(got) != 0 {
		t.Errorf("同订单号不应重复通知, 实际 %d 条", len(got))
	}
}

// TestWatermarkNotifiedSetEviction 测试已通知集合的容量淘汰
func TestWatermarkNotifiedSetEviction(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 10, 2)

	wm.OnNewFilled(ctx, nil) // 播种（空集）
	wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(1, "E-1"), filledRec(2, "E-2"), filledRec(3, "E-3"),
	})

	if len(wm.notifiedSet) != 2 {
		t.Errorf("已通知集合应淘汰到容量上限: 期望 2, 实际 %d", len(wm.notifiedSet))
	}
	if wm.notifiedSet["E-1"] {
		t.Error("最旧的订单号应被淘汰")
	}
}

// TestWatermarkPersistFailureNonFatal 测试存储失败不影响本会话去重
func TestWatermarkPersistFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failSet = true
	wm := NewWatermark(ctx, store, 3, 200)

	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(1, "E-1")})
	got := wm.OnNewFilled(ctx, []*TradeRecord{filledRec(2, "E-2")})
	if len(got) != 1 {
		t.Fatalf("存储失败不应阻止通知: %v", got)
	}

	// 同批再来：内存水位线已推进，不重复
	got = wm.OnNewFilled(ctx, []*TradeRecord{filledRec(2, "E-2")})
	if len(got) != 0 {
		t.Errorf("持久化失败后本会话仍不应重复通知, 实际 %d 条", len(got))
	}
}

// TestWatermarkConcurrentLimitUpdate 测试补发上限热更新与通知判定并发安全
func TestWatermarkConcurrentLimitUpdate(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 3, 200)
	wm.OnNewFilled(ctx, nil) // 播种

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 配置热更新协程持续改写上限
		for i := 1; i <= 100; i++ {
			wm.SetBackfillLimit(i%5 + 1)
		}
	}()

	for id := int64(1); id <= 100; id++ {
		wm.OnNewFilled(ctx, []*TradeRecord{filledRec(id, "E-"+strconv.FormatInt(id, 10))})
	}
	<-done

	if wm.LastNotifiedID() != 100 {
		t.Errorf("并发更新上限不应影响水位线推进: %d", wm.LastNotifiedID())
	}
}

// TestWatermarkSetBackfillLimitIgnoresInvalid 测试非法上限被忽略
func TestWatermarkSetBackfillLimitIgnoresInvalid(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 2, 200)
	wm.SetBackfillLimit(0)
	wm.SetBackfillLimit(-5)

	wm.OnNewFilled(ctx, nil) // 播种
	got := wm.OnNewFilled(ctx, []*TradeRecord{
		filledRec(1, "E-1"), filledRec(2, "E-2"), filledRec(3, "E-3"),
	})
	if len(got) != 2 {
		t.Errorf("非法上限不应生效, 仍按 2 补发: 实际 %d", len(got))
	}
}

// TestWatermarkIgnoresUnfilled 测试非成交状态记录不推进水位线
func TestWatermarkIgnoresUnfilled(t *testing.T) {
	ctx := context.Background()
	wm := NewWatermark(ctx, newMemStore(), 3, 200)

	wm.OnNewFilled(ctx, []*TradeRecord{filledRec(1, "E-1")})

	failed := filledRec(5, "E-5")
	failed.Status = "failed"
	got := wm.OnNewFilled(ctx, []*TradeRecord{failed})
	if len(got) != 0 {
		t.Errorf("未成交记录不应触发通知, 实际 %d 条", len(got))
	}
	if wm.LastNotifiedID() != 1 {
		t.Errorf("未成交记录不应推进水位线: %d", wm.LastNotifiedID())
	}
}
