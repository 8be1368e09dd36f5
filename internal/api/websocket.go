// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	sendBuffer   = 64
	maxFrameSize = 4096
)

// 服务端推送的消息类型
const (
	MessageConnected      = "connected"
	MessageTimelineUpdate = "timelines:update"
	MessageSessionClosed  = "session:closed"
	MessageError          = "error"
	MessagePong           = "pong"
)

// WebSocketClient 表示一个 WebSocket 客户端连接
type WebSocketClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
	closed    int32        // 原子操作标志，0=开启，1=关闭
	lastPing  atomic.Int64 // 最后一次活跃时间（UnixNano）
	createdAt time.Time
}

// WebSocketManager 按会话管理所有 WebSocket 连接，并作为会话变更的订阅者
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	unregister  chan *WebSocketClient
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	pingTimeout time.Duration
	logger      *utils.Logger
}

// NewWebSocketManager 创建并启动管理器
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		unregister:  make(chan *WebSocketClient, 256),
		done:        make(chan struct{}),
		pingTimeout: pongWait + pingPeriod,
		logger:      logger,
	}
	go manager.run()
	return manager
}

// newUpgrader 按允许的来源构造升级器
func newUpgrader(origins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// ========================================
// WebSocketClient 方法
// ========================================

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	client.lastPing.Store(time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return time.Since(time.Unix(0, client.lastPing.Load())) > timeout
}

// enqueue 非阻塞投递，调用方需持有管理器锁
func (client *WebSocketClient) enqueue(msg []byte) bool {
	if client.IsClosed() {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// ========================================
// WebSocketManager 方法
// ========================================

// run 运行管理器主循环
func (manager *WebSocketManager) run() {
	cleanupTicker := time.NewTicker(30 * time.Second)
	defer cleanupTicker.Stop()

	for {
		select {
		case client := <-manager.unregister:
			manager.unregisterClient(client)

		case <-cleanupTicker.C:
			manager.cleanupExpiredConnections()

		case <-manager.done:
			manager.shutdown()
			return
		}
	}
}

// registerClient 注册新客户端
func (manager *WebSocketManager) registerClient(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	client.UpdatePing()

	manager.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{"session_id": client.sessionID})
}

// closeClientLocked 关闭发送通道，写协程随后关闭连接。调用方需持有写锁。
func (manager *WebSocketManager) closeClientLocked(client *WebSocketClient) {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.send)
	}
}

// unregisterClient 安全注销客户端
func (manager *WebSocketManager) unregisterClient(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if clients, exists := manager.connections[client.sessionID]; exists {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			manager.logger.Info("🔌 WebSocket 客户端已断开连接", map[string]interface{}{"session_id": client.sessionID})
		}
		if len(clients) == 0 {
			delete(manager.connections, client.sessionID)
		}
	}
	manager.closeClientLocked(client)
}

// Unregister 请求注销客户端，管理器已关闭时直接返回
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	select {
	case manager.unregister <- client:
	case <-manager.done:
	}
}

// cleanupExpiredConnections 清理过期和死连接
func (manager *WebSocketManager) cleanupExpiredConnections() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for sessionID, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(manager.pingTimeout) {
				delete(clients, client)
				manager.closeClientLocked(client)
			}
		}
		if len(clients) == 0 {
			delete(manager.connections, sessionID)
		}
	}
}

// shutdown 关闭所有连接
func (manager *WebSocketManager) shutdown() {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	for _, clients := range manager.connections {
		for client := range clients {
			manager.closeClientLocked(client)
		}
	}
	manager.connections = make(map[string]map[*WebSocketClient]struct{})

	manager.logger.Info("✅ WebSocket 管理器已关闭", nil)
}

// Close 停止管理器
func (manager *WebSocketManager) Close() {
	manager.closeOnce.Do(func() { close(manager.done) })
}

// BroadcastToSession 向会话的所有连接广播消息
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("❌ 序列化广播消息失败", map[string]interface{}{"error": err})
		return
	}

	var dropped []*WebSocketClient
	manager.mutex.RLock()
	for client := range manager.connections[sessionID] {
		if !client.enqueue(msgBytes) && !client.IsClosed() {
			dropped = append(dropped, client)
		}
	}
	manager.mutex.RUnlock()

	// 队列已满的慢客户端直接断开，由客户端重连后重新获取完整状态
	for _, client := range dropped {
		manager.logger.Warn("⚠️ 客户端消息队列已满，断开连接", map[string]interface{}{"session_id": sessionID})
		go manager.Unregister(client)
	}
}

// SendToClient 向单个客户端发送消息
func (manager *WebSocketManager) SendToClient(client *WebSocketClient, message map[string]interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("❌ 序列化消息失败", map[string]interface{}{"error": err})
		return
	}

	manager.mutex.RLock()
	ok := client.enqueue(msgBytes)
	manager.mutex.RUnlock()

	if !ok && !client.IsClosed() {
		manager.logger.Warn("⚠️ 客户端消息队列已满，消息被丢弃", map[string]interface{}{"session_id": client.sessionID})
	}
}

// OnSessionUpdate 会话变更后推送最新状态
func (manager *WebSocketManager) OnSessionUpdate(view models.SessionView) {
	manager.BroadcastToSession(view.SessionID, map[string]interface{}{
		"type":       MessageTimelineUpdate,
		"session_id": view.SessionID,
		"data":       view,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// OnSessionClosed 会话被丢弃后通知并断开所有连接
func (manager *WebSocketManager) OnSessionClosed(sessionID string) {
	manager.BroadcastToSession(sessionID, map[string]interface{}{
		"type":       MessageSessionClosed,
		"session_id": sessionID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	manager.mutex.Lock()
	defer manager.mutex.Unlock()
	for client := range manager.connections[sessionID] {
		manager.closeClientLocked(client)
	}
	delete(manager.connections, sessionID)
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	totalConnections := 0

	for sessionID, clients := range manager.connections {
		active := 0
		for client := range clients {
			if !client.IsClosed() {
				active++
			}
		}
		sessions[sessionID] = map[string]interface{}{"client_count": active}
		totalConnections += active
	}

	return map[string]interface{}{
		"total_sessions":       len(manager.connections),
		"total_connections":    totalConnections,
		"sessions":             sessions,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}

// ConnectionCount 指定会话的连接数
func (manager *WebSocketManager) ConnectionCount(sessionID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[sessionID])
}
