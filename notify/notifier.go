package notify

import (
	"context"
	"fmt"
	"sync"

	"tradedeck/config"
	"tradedeck/event"
	"tradedeck/i18n"
	"tradedeck/logger"
	"tradedeck/metrics"
)

// Notifier 通知接口
type Notifier interface {
	Send(event *event.Event) error
	Name() string
}

// NotificationService 通知服务
// 消费事件总线上的面板事件，按配置规则过滤后并发推送到所有启用的渠道
type NotificationService struct {
	notifiers []Notifier
	cfg       *config.Config
	pm        *metrics.PrometheusMetrics

	mu sync.RWMutex // 保护 cfg（配置热更新）
}

// NewNotificationService 创建通知服务
func NewNotificationService(cfg *config.Config) *NotificationService {
	ns := &NotificationService{
		cfg: cfg,
		pm:  metrics.GetPrometheusMetrics(),
	}

	// 初始化启用的通知渠道
	if cfg.Notifications.Enabled {
		if cfg.Notifications.Telegram.Enabled && cfg.Notifications.Telegram.BotToken != "" {
			telegramNotifier, err := NewTelegramNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Telegram 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, telegramNotifier)
				logger.Info("✅ Telegram 通知已启用")
			}
		}

		if cfg.Notifications.Webhook.Enabled && cfg.Notifications.Webhook.URL != "" {
			webhookNotifier, err := NewWebhookNotifier(cfg)
			if err != nil {
				logger.Warn("⚠️ 初始化 Webhook 通知失败: %v", err)
			} else {
				ns.notifiers = append(ns.notifiers, webhookNotifier)
				logger.Info("✅ Webhook 通知已启用")
			}
		}
	}

	return ns
}

// UpdateConfig 更新通知规则（配置热更新，只更新规则，不重建渠道）
func (ns *NotificationService) UpdateConfig(cfg *config.Config) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.cfg = cfg
}

// shouldNotify 检查事件类型是否需要通知
func (ns *NotificationService) shouldNotify(eventType event.EventType) bool {
	ns.mu.RLock()
	cfg := ns.cfg
	ns.mu.RUnlock()

	if !cfg.Notifications.Enabled {
		return false
	}

	rules := cfg.Notifications.Rules
	switch eventType {
	case event.EventTypeOrderFilled:
		return rules.OrderFilled
	case event.EventTypeFeedStale, event.EventTypeFeedRecovered:
		return rules.FeedStale
	case event.EventTypeWebSocketDisconnected, event.EventTypeWebSocketReconnected:
		return rules.WebSocketDisconnected
	case event.EventTypeError:
		return rules.Error
	default:
		// 系统启停等其他事件默认通知
		return true
	}
}

// Send 发送通知（异步，不阻塞调用方）
func (ns *NotificationService) Send(evt *event.Event) {
	if evt == nil {
		return
	}
	if !ns.shouldNotify(evt.Type) {
		return
	}

	ns.pm.RecordNotification(string(evt.Type))

	go func() {
		var wg sync.WaitGroup
		for _, notifier := range ns.notifiers {
			wg.Add(1)
			go func(n Notifier) {
				defer wg.Done()
				if err := n.Send(evt); err != nil {
					logger.Warn("⚠️ [%s] 发送通知失败: %v", n.Name(), err)
				}
			}(notifier)
		}
		wg.Wait()
	}()
}

// Run 消费事件总线，阻塞直到 ctx 取消
func (ns *NotificationService) Run(ctx context.Context, bus *event.EventBus) {
	events := bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			ns.Send(evt)
		}
	}
}

// FormatMessage 按系统语言格式化事件的标题与正文
func FormatMessage(evt *event.Event) (title, body string) {
	key := "notify." + string(evt.Type)
	title = i18n.T(key + ".title")

	data := map[string]interface{}{}
	switch evt.Type {
	case event.EventTypeOrderFilled:
		data["Symbol"] = evt.Data["symbol"]
		if side, ok := evt.Data["side"].(string); ok {
			data["Side"] = i18n.T("side." + side)
		}
		if price, ok := evt.Data["price"].(float64); ok {
			data["Price"] = fmt.Sprintf("%.4f", price)
		}
	case event.EventTypeWebSocketDisconnected, event.EventTypeWebSocketReconnected:
		data["Stream"] = evt.Data["stream"]
	case event.EventTypeError:
		data["Message"] = evt.Data["message"]
	}

	body = i18n.T(key+".body", data)

	// 加仓标注追加到正文
	if evt.Type == event.EventTypeOrderFilled {
		if isAddOn, ok := evt.Data["is_add_on"].(bool); ok && isAddOn {
			body += i18n.T(key + ".add_on")
		}
	}
	return title, body
}
