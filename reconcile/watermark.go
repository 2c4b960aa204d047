package reconcile

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync/atomic"

	"tradedeck/logger"
	"tradedeck/metrics"
)

// StateStore 水位线持久化接口（由 store 包实现，测试时注入内存实现）
type StateStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// 持久化键
const (
	keyWatermark   = "notify:watermark"
	keyNotifiedIDs = "notify:recent_ids"
)

// Watermark 通知水位线
// 记录已发出通知的最大成交记录 id（单调不减），配合有界的最近已通知
// 订单号集合，保证断线重连、页面刷新后每笔成交最多通知一次。
type Watermark struct {
	store          StateStore
	backfillLimit  atomic.Int64 // 重连后补发通知的上限（配置热更新协程会并发写入）
	notifiedSetCap int          // 最近已通知订单号集合容量

	lastNotifiedID int64
	seeded         bool
	notifiedOrder  []string        // FIFO，用于容量淘汰
	notifiedSet    map[string]bool // 最近已通知的交易所订单号
}

// NewWatermark 创建通知水位线并从存储恢复状态
func NewWatermark(ctx context.Context, store StateStore, backfillLimit, notifiedSetCap int) *Watermark {
	if backfillLimit <= 0 {
		backfillLimit = 3
	}
	if notifiedSetCap <= 0 {
		notifiedSetCap = 200
	}
	wm := &Watermark{
		store:          store,
		notifiedSetCap: notifiedSetCap,
		notifiedSet:    make(map[string]bool),
	}
	wm.backfillLimit.Store(int64(backfillLimit))
	wm.load(ctx)
	return wm
}

// SetBackfillLimit 更新补发上限（配置热更新，与 OnNewFilled 并发调用）
func (wm *Watermark) SetBackfillLimit(limit int) {
	if limit > 0 {
		wm.backfillLimit.Store(int64(limit))
	}
}

// LastNotifiedID 当前水位线
func (wm *Watermark) LastNotifiedID() int64 {
	return wm.lastNotifiedID
}

// load 从存储恢复水位线与最近已通知集合
func (wm *Watermark) load(ctx context.Context) {
	if wm.store == nil {
		return
	}

	if val, ok, err := wm.store.Get(ctx, keyWatermark); err != nil {
		logger.Warn("⚠️ [水位线] 读取失败: %v", err)
	} else if ok {
		if id, perr := strconv.ParseInt(val, 10, 64); perr == nil {
			wm.lastNotifiedID = id
			wm.seeded = true
		}
	}

	if val, ok, err := wm.store.Get(ctx, keyNotifiedIDs); err == nil && ok {
		var ids []string
		if jerr := json.Unmarshal([]byte(val), &ids); jerr == nil {
			for _, id := range ids {
				wm.rememberNotified(id)
			}
		}
	}
}

// persist 持久化当前状态
// 失败不致命：内存中的水位线已经推进，本会话不会重复通知；
// 重启后最坏情况是重新播种，只会漏发不会重发
func (wm *Watermark) persist(ctx context.Context) {
	if wm.store == nil {
		return
	}
	if err := wm.store.Set(ctx, keyWatermark, strconv.FormatInt(wm.lastNotifiedID, 10)); err != nil {
		logger.Warn("⚠️ [水位线] 保存失败: %v", err)
		return
	}
	data, err := json.Marshal(wm.notifiedOrder)
	if err != nil {
		return
	}
	if err := wm.store.Set(ctx, keyNotifiedIDs, string(data)); err != nil {
		logger.Warn("⚠️ [水位线] 保存已通知集合失败: %v", err)
	}
}

// rememberNotified 记录已通知订单号，超出容量时淘汰最旧条目
func (wm *Watermark) rememberNotified(orderID string) {
	if orderID == "" || wm.notifiedSet[orderID] {
		return
	}
	wm.notifiedSet[orderID] = true
	wm.notifiedOrder = append(wm.notifiedOrder, orderID)
	for len(wm.notifiedOrder) > wm.notifiedSetCap {
		oldest := wm.notifiedOrder[0]
		wm.notifiedOrder = wm.notifiedOrder[1:]
		delete(wm.notifiedSet, oldest)
	}
}

// notifyKey 通知去重键：优先交易所订单号，缺失时退回记录 id
func notifyKey(rec *TradeRecord) string {
	if rec.ExchangeOrderID != "" {
		return rec.ExchangeOrderID
	}
	return "rec:" + strconv.FormatInt(rec.ID, 10)
}

// OnNewFilled 处理一批已成交记录，返回需要实际发出通知的子集
//
// 首次调用（无持久化状态）只把水位线播种到当前最大 id，零通知，
// 避免页面加载时重放全部历史成交造成通知风暴。
// 后续调用取 id 大于水位线的记录，推进水位线到新的最大值，
// 但只补发其中最后 backfillLimit 条——更早的漏发记录被确认
// （水位线已越过）但不再通知，防止长时间断线后的提示音风暴。
func (wm *Watermark) OnNewFilled(ctx context.Context, records []*TradeRecord) []*TradeRecord {
	// 只考虑已成交记录
	filled := make([]*TradeRecord, 0, len(records))
	maxID := int64(0)
	for _, rec := range records {
		if rec == nil || rec.Status != StatusFilled {
			continue
		}
		filled = append(filled, rec)
		if rec.ID > maxID {
			maxID = rec.ID
		}
	}

	if !wm.seeded {
		wm.seeded = true
		wm.lastNotifiedID = maxID
		wm.persist(ctx)
		logger.Info("🔖 [水位线] 初始化播种至 id=%d, 不补发历史通知", maxID)
		return nil
	}

	newer := make([]*TradeRecord, 0)
	for _, rec := range filled {
		if rec.ID > wm.lastNotifiedID && !wm.notifiedSet[notifyKey(rec)] {
			newer = append(newer, rec)
		}
	}
	if len(newer) == 0 {
		return nil
	}

	sort.Slice(newer, func(i, j int) bool { return newer[i].ID < newer[j].ID })

	// 水位线推进到全部新记录的最大 id（漏发的也被确认）
	wm.lastNotifiedID = newer[len(newer)-1].ID

	// 只补发最后 N 条
	toNotify := newer
	limit := int(wm.backfillLimit.Load())
	if len(toNotify) > limit {
		skipped := len(toNotify) - limit
		toNotify = toNotify[skipped:]
		metrics.GetPrometheusMetrics().RecordNotificationSkipped(skipped)
		logger.Info("🔕 [水位线] 跳过 %d 条过旧的成交通知", skipped)
	}

	for _, rec := range toNotify {
		wm.rememberNotified(notifyKey(rec))
	}
	wm.persist(ctx)

	return toNotify
}
