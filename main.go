package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradedeck/config"
	"tradedeck/event"
	"tradedeck/feed"
	"tradedeck/i18n"
	"tradedeck/logger"
	"tradedeck/metrics"
	"tradedeck/notify"
	"tradedeck/reconcile"
	"tradedeck/store"
	"tradedeck/utils"
	"tradedeck/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}

	// 日志与时区
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 设置时区失败: %v", err)
	}
	logger.SetLocation(utils.GlobalLocation)
	if err := logger.InitWebLogger(); err != nil {
		logger.Warn("⚠️ 初始化Web日志失败: %v", err)
	}
	defer logger.Close()

	// 消息语言
	if err := i18n.Init(cfg.System.Language); err != nil {
		logger.Warn("⚠️ 初始化多语言失败: %v", err)
	}

	logger.Info("🚀 tradedeck 启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 状态存储（通知水位线持久化）
	stateStore, err := store.NewStateStore(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化状态存储失败: %v", err)
	}
	defer stateStore.Close()

	// 事件总线与通知
	bus := event.NewEventBus(cfg.Reconcile.InboxSize)
	notifier := notify.NewNotificationService(cfg)
	go notifier.Run(ctx, bus)

	// 对账引擎
	engine := reconcile.NewEngine(cfg.Reconcile.InboxSize, bus)

	// 交易所数据客户端
	client, err := feed.NewBinanceClient(cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet)
	if err != nil {
		logger.Fatal("❌ 初始化交易所客户端失败: %v", err)
	}

	timing := feed.StreamTiming{
		ReconnectDelay: time.Duration(cfg.Timing.WebSocketReconnectDelay) * time.Second,
		WriteWait:      time.Duration(cfg.Timing.WebSocketWriteWait) * time.Second,
		PongWait:       time.Duration(cfg.Timing.WebSocketPongWait) * time.Second,
		PingInterval:   time.Duration(cfg.Timing.WebSocketPingInterval) * time.Second,
	}

	// 快照轮询
	poller := feed.NewSnapshotPoller(
		client, engine,
		time.Duration(cfg.Feeds.SnapshotInterval)*time.Second,
		time.Duration(cfg.Feeds.SnapshotTimeout)*time.Second,
		cfg.Feeds.SnapshotRateLimit,
	)

	// 成交历史 + 通知水位线
	watermark := reconcile.NewWatermark(ctx, stateStore, cfg.Reconcile.NotifyBackfillLimit, cfg.Reconcile.NotifiedSetCap)
	history := feed.NewHistoryService(client, watermark, bus, cfg.Feeds.Symbols, cfg.Feeds.HistoryLimit)

	// Web 服务
	server := web.NewServer(cfg, engine, history)
	hub := server.Hub()

	// 引擎读模型变化 → 推送渲染端；成交 → 刷新历史 + 补拉快照
	engine.SetOnUpdate(func(model *reconcile.ReadModel) {
		hub.Broadcast("positions", web.PositionsPayload(model))
		hub.Broadcast("account", web.AccountPayload(model))
	})
	engine.SetOnFill(func(_ *reconcile.FillEvent) {
		history.Trigger()
		poller.TriggerNow()
	})
	history.SetOnUpdate(func(view *feed.HistoryView) {
		hub.Broadcast("history", view)
	})

	// 数据源
	go engine.Run(ctx)
	go poller.Run(ctx)
	go history.Run(ctx)
	go feed.NewMiniTickerStream(client.WsBase(), cfg.Feeds.Symbols, engine, timing).Run(ctx)
	go feed.NewUserDataStream(client, engine, bus, timing,
		time.Duration(cfg.Timing.ListenKeyKeepAliveInterval)*time.Minute).Run(ctx)

	// 进程指标采集
	var collector *metrics.SystemMetricsCollector
	if cfg.Metrics.Enabled {
		collector = metrics.NewSystemMetricsCollector(time.Duration(cfg.Metrics.CollectInterval) * time.Second)
		collector.Start()
		defer collector.Stop()
	}

	server.Start(ctx)

	// 配置热更新：日志级别、消息语言、通知规则、补发上限
	watcher, err := config.NewConfigWatcher(*configPath, func(newCfg *config.Config) {
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
		i18n.SetSystemLanguage(newCfg.System.Language)
		notifier.UpdateConfig(newCfg)
		watermark.SetBackfillLimit(newCfg.Reconcile.NotifyBackfillLimit)
		logger.Info("🔄 配置已热更新")
	})
	if err != nil {
		logger.Warn("⚠️ 初始化配置监视失败: %v", err)
	} else {
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("⚠️ 启动配置监视失败: %v", err)
		}
		defer watcher.Stop()
	}

	bus.PublishType(event.EventTypeSystemStart, nil)
	logger.Info("✅ tradedeck 已启动")

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("🛑 收到退出信号，正在关闭...")
	bus.PublishType(event.EventTypeSystemStop, nil)
	cancel()

	// 给各协程与通知留出退出时间
	time.Sleep(time.Second)
	logger.Info("👋 tradedeck 已退出")
}
