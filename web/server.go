package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradedeck/config"
	"tradedeck/feed"
	"tradedeck/logger"
	"tradedeck/reconcile"
)

// ReadModelProvider 读模型来源（由 reconcile.Engine 实现）
type ReadModelProvider interface {
	GetReadModel() *reconcile.ReadModel
}

// Server Web 服务器：REST API + 渲染端 WebSocket 推送
type Server struct {
	server  *http.Server
	cfg     *config.Config
	engine  ReadModelProvider
	history *feed.HistoryService
	hub     *WebSocketHub
	startAt time.Time
}

// NewServer 创建 Web 服务器
func NewServer(cfg *config.Config, engine ReadModelProvider, history *feed.HistoryService) *Server {
	// 设置 Gin 模式
	if cfg.System.LogLevel == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		engine:  engine,
		history: history,
		hub: NewWebSocketHub(
			time.Duration(cfg.Timing.WebSocketWriteWait)*time.Second,
			time.Duration(cfg.Timing.BroadcastInterval)*time.Millisecond,
		),
		startAt: time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(cfg.System.LogLevel == "DEBUG"))
	s.setupRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub 推送中心（供引擎与历史服务的更新回调接入）
func (s *Server) Hub() *WebSocketHub {
	return s.hub
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(r *gin.Engine) {
	// Prometheus metrics 端点（供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 渲染端推送
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	{
		api.GET("/positions", s.getPositions)
		api.GET("/positions/summary", s.getPositionsSummary)
		api.GET("/account", s.getAccount)
		api.GET("/history", s.getHistory)
		api.POST("/history/refresh", s.refreshHistory)
		api.GET("/status", s.getStatus)
	}
}

// Start 启动 Web 服务器，ctx 取消时优雅关闭
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run()

	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web服务器启动失败: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("❌ Web服务器关闭失败: %v", err)
		} else {
			logger.Info("✅ Web服务器已关闭")
		}
	}()
}
