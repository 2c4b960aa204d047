package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 交易面板服务配置
type Config struct {
	// 交易所配置（行情与账户数据来源）
	Exchange struct {
		APIKey    string `yaml:"api_key"`
		SecretKey string `yaml:"secret_key"`
		Testnet   bool   `yaml:"testnet"` // 是否使用测试网
	} `yaml:"exchange"`

	// 数据源配置
	Feeds struct {
		Symbols           []string `yaml:"symbols"`             // 订阅行情的交易对，为空表示订阅全市场
		SnapshotInterval  int      `yaml:"snapshot_interval"`   // 持仓快照轮询间隔（秒，默认30）
		SnapshotTimeout   int      `yaml:"snapshot_timeout"`    // 快照请求超时（秒，默认10）
		SnapshotRateLimit float64  `yaml:"snapshot_rate_limit"` // 快照请求速率上限（次/秒，默认0.5）
		HistoryLimit      int      `yaml:"history_limit"`       // 单次拉取历史成交条数（默认200）
	} `yaml:"feeds"`

	// 对账引擎配置
	Reconcile struct {
		InboxSize           int `yaml:"inbox_size"`            // 事件队列长度（默认1000）
		NotifyBackfillLimit int `yaml:"notify_backfill_limit"` // 重连后补发通知上限（默认3）
		NotifiedSetCap      int `yaml:"notified_set_cap"`      // 最近已通知订单ID集合容量（默认200）
	} `yaml:"reconcile"`

	// 通知配置
	Notifications struct {
		Enabled bool `yaml:"enabled"`

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 超时（秒，默认3）
		} `yaml:"webhook"`

		// 按事件类型的通知开关
		Rules struct {
			OrderFilled           bool `yaml:"order_filled"`           // 订单成交
			FeedStale             bool `yaml:"feed_stale"`             // 数据源过期
			WebSocketDisconnected bool `yaml:"websocket_disconnected"` // WebSocket 断开
			Error                 bool `yaml:"error"`                  // 错误事件
		} `yaml:"rules"`
	} `yaml:"notifications"`

	// 数据库配置（支持 SQLite、PostgreSQL、MySQL）
	Database struct {
		Type            string `yaml:"type"`              // 数据库类型: sqlite, postgres, mysql，默认 sqlite
		DSN             string `yaml:"dsn"`               // 数据源名称，默认 ./data/tradedeck.db
		MaxOpenConns    int    `yaml:"max_open_conns"`    // 最大打开连接数，默认50
		MaxIdleConns    int    `yaml:"max_idle_conns"`    // 最大空闲连接数，默认5
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 连接最大生命周期（秒），默认3600
		LogLevel        string `yaml:"log_level"`         // 日志级别: silent, error, warn, info，默认 error
	} `yaml:"database"`

	// 持久化状态存储配置（通知水位线等）
	StateStore struct {
		Type string `yaml:"type"` // 存储类型: database, redis, memory，默认 database

		Redis struct {
			Addr     string `yaml:"addr"`      // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"`  // Redis 密码，默认为空
			DB       int    `yaml:"db"`        // Redis 数据库，默认0
			PoolSize int    `yaml:"pool_size"` // 连接池大小，默认10
		} `yaml:"redis"`
	} `yaml:"state_store"`

	// Web 服务配置
	Web struct {
		Host string `yaml:"host"` // 监听地址，默认 0.0.0.0
		Port int    `yaml:"port"` // 监听端口，默认 28899
	} `yaml:"web"`

	System struct {
		LogLevel string `yaml:"log_level"` // 日志级别，默认 INFO
		Timezone string `yaml:"timezone"`  // 时区，如 "Asia/Shanghai"
		Language string `yaml:"language"`  // 消息语言，如 "zh-CN" 或 "en-US"
	} `yaml:"system"`

	// 时间间隔配置（单位：秒，除非特别说明）
	Timing struct {
		WebSocketReconnectDelay    int `yaml:"websocket_reconnect_delay"`     // WebSocket断线重连等待时间（秒，默认5）
		WebSocketWriteWait         int `yaml:"websocket_write_wait"`          // WebSocket写入等待时间（秒，默认10）
		WebSocketPongWait          int `yaml:"websocket_pong_wait"`           // WebSocket PONG等待时间（秒，默认60）
		WebSocketPingInterval      int `yaml:"websocket_ping_interval"`       // WebSocket PING间隔（秒，默认20）
		ListenKeyKeepAliveInterval int `yaml:"listen_key_keepalive_interval"` // listenKey保活间隔（分钟，默认30）
		BroadcastInterval          int `yaml:"broadcast_interval"`            // 状态广播最小间隔（毫秒，默认200）
	} `yaml:"timing"`

	// 监控配置
	Metrics struct {
		Enabled         bool `yaml:"enabled"`          // 是否启用进程指标采集，默认true
		CollectInterval int  `yaml:"collect_interval"` // 采集间隔（秒，默认60）
	} `yaml:"metrics"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数据加载配置
func LoadConfigFromBytes(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	// 数据源默认值
	if c.Feeds.SnapshotInterval <= 0 {
		c.Feeds.SnapshotInterval = 30 // 默认30秒
	}
	if c.Feeds.SnapshotTimeout <= 0 {
		c.Feeds.SnapshotTimeout = 10 // 默认10秒
	}
	if c.Feeds.SnapshotTimeout >= c.Feeds.SnapshotInterval {
		c.Feeds.SnapshotTimeout = c.Feeds.SnapshotInterval / 2
		if c.Feeds.SnapshotTimeout <= 0 {
			c.Feeds.SnapshotTimeout = 1
		}
	}
	if c.Feeds.SnapshotRateLimit <= 0 {
		c.Feeds.SnapshotRateLimit = 0.5 // 默认每2秒最多1次
	}
	if c.Feeds.HistoryLimit <= 0 {
		c.Feeds.HistoryLimit = 200 // 默认200条
	}

	// 对账引擎默认值
	if c.Reconcile.InboxSize <= 0 {
		c.Reconcile.InboxSize = 1000 // 默认1000
	}
	if c.Reconcile.NotifyBackfillLimit <= 0 {
		c.Reconcile.NotifyBackfillLimit = 3 // 默认补发最近3条
	}
	if c.Reconcile.NotifiedSetCap <= 0 {
		c.Reconcile.NotifiedSetCap = 200 // 默认保留200个订单ID
	}

	// 通知默认值
	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3 // 默认3秒
	}

	// 数据库默认值
	if c.Database.Type == "" {
		c.Database.Type = "sqlite" // 默认 SQLite（单机模式）
	}
	if c.Database.DSN == "" {
		if c.Database.Type == "sqlite" {
			c.Database.DSN = "./data/tradedeck.db" // 默认 SQLite 路径
		}
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 50 // 默认50
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5 // 默认5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600 // 默认1小时
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "error" // 默认只记录错误
	}

	// 状态存储默认值
	if c.StateStore.Type == "" {
		c.StateStore.Type = "database" // 默认复用主数据库
	}
	if c.StateStore.Redis.Addr == "" {
		c.StateStore.Redis.Addr = "localhost:6379" // 默认 Redis 地址
	}
	if c.StateStore.Redis.PoolSize <= 0 {
		c.StateStore.Redis.PoolSize = 10 // 默认连接池大小
	}

	// Web 服务默认值
	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0" // 默认监听所有地址
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 28899 // 默认端口（使用10000以上端口，避免常见端口冲突）
	}

	// 系统默认值
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Shanghai"
	}
	if c.System.Language == "" {
		c.System.Language = "zh-CN"
	}

	// 时间间隔默认值
	if c.Timing.WebSocketReconnectDelay <= 0 {
		c.Timing.WebSocketReconnectDelay = 5 // 默认5秒
	}
	if c.Timing.WebSocketWriteWait <= 0 {
		c.Timing.WebSocketWriteWait = 10 // 默认10秒
	}
	if c.Timing.WebSocketPongWait <= 0 {
		c.Timing.WebSocketPongWait = 60 // 默认60秒
	}
	if c.Timing.WebSocketPingInterval <= 0 {
		c.Timing.WebSocketPingInterval = 20 // 默认20秒
	}
	if c.Timing.WebSocketPingInterval >= c.Timing.WebSocketPongWait {
		c.Timing.WebSocketPingInterval = c.Timing.WebSocketPongWait / 3
	}
	if c.Timing.ListenKeyKeepAliveInterval <= 0 {
		c.Timing.ListenKeyKeepAliveInterval = 30 // 默认30分钟
	}
	if c.Timing.BroadcastInterval <= 0 {
		c.Timing.BroadcastInterval = 200 // 默认200毫秒
	}

	// 监控默认值
	if c.Metrics.CollectInterval <= 0 {
		c.Metrics.CollectInterval = 60 // 默认60秒
	}

	return nil
}
