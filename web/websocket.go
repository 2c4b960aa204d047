package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tradedeck/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源（生产环境应该限制）
	},
}

// wsFrame 推送帧：view 标识视图，data 为对应的只读模型
type wsFrame struct {
	View string      `json:"view"`
	Data interface{} `json:"data"`
	Time time.Time   `json:"time"`
}

// WebSocketHub 渲染端推送中心
// 上游（引擎/历史服务）只在签名变化时调用 Broadcast；
// 帧按视图合并，以广播最小间隔节流发出，每帧都携带完整的最新视图
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	pending    chan wsFrame
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	writeWait  time.Duration
	interval   time.Duration
	mu         sync.RWMutex
}

// NewWebSocketHub 创建推送中心
func NewWebSocketHub(writeWait, broadcastInterval time.Duration) *WebSocketHub {
	if broadcastInterval <= 0 {
		broadcastInterval = 200 * time.Millisecond
	}
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		pending:    make(chan wsFrame, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		writeWait:  writeWait,
		interval:   broadcastInterval,
	}
}

// Run 推送中心主循环
// 同一节拍内同一视图的多次更新只发最后一帧（丢掉的帧被后来者完整覆盖）
func (h *WebSocketHub) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	latest := make(map[string]wsFrame)

	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case frame := <-h.pending:
			latest[frame.View] = frame

		case <-ticker.C:
			for view, frame := range latest {
				h.send(frame)
				delete(latest, view)
			}
		}
	}
}

// send 向所有连接写出一帧
func (h *WebSocketHub) send(frame wsFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		logger.Warn("⚠️ [推送] 序列化视图失败: %v", err)
		return
	}
	h.mu.Lock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(h.writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
	h.mu.Unlock()
}

// Broadcast 提交一帧视图更新（非阻塞，队列满时丢弃）
// 丢帧无害：下一次变化会携带完整的最新视图
func (h *WebSocketHub) Broadcast(view string, data interface{}) {
	select {
	case h.pending <- wsFrame{View: view, Data: data, Time: time.Now()}:
	default:
	}
}

// ClientCount 当前连接的渲染端数量
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket 升级连接并托管给推送中心
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	s.hub.register <- conn

	// 新连接立即补发当前视图，避免等到下一次变化才有画面
	s.sendCurrentViews(conn)

	// 读循环只用于感知断开（渲染端不上行业务数据）
	go func() {
		defer func() {
			s.hub.unregister <- conn
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// sendCurrentViews 向单个连接补发当前全部视图
func (s *Server) sendCurrentViews(conn *websocket.Conn) {
	send := func(view string, data interface{}) {
		frame := wsFrame{View: view, Data: data, Time: time.Now()}
		payload, err := json.Marshal(frame)
		if err != nil {
			return
		}
		conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
		conn.WriteMessage(websocket.TextMessage, payload)
	}

	if model := s.engine.GetReadModel(); model != nil {
		send("positions", PositionsPayload(model))
		send("account", AccountPayload(model))
	}
	if view := s.history.GetView(); view != nil {
		send("history", view)
	}
}
