// internal/api/websocket_handlers.go
package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/services"
	"github.com/Corphon/ParallelTimelines/internal/utils"
)

// ClientMessage 客户端发来的事件
type ClientMessage struct {
	Type        string `json:"type"`
	TimelineID  string `json:"timeline_id,omitempty"`
	ChoiceIndex *int   `json:"choice_index,omitempty"`
}

// WebSocketHandler 处理 WebSocket 相关的 HTTP 请求
type WebSocketHandler struct {
	sessions *services.SessionService
	manager  *WebSocketManager
	upgrader websocket.Upgrader
	response *ResponseHelper
	logger   *utils.Logger
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(sessions *services.SessionService, manager *WebSocketManager, origins []string, logger *utils.Logger) *WebSocketHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketHandler{
		sessions: sessions,
		manager:  manager,
		upgrader: newUpgrader(origins),
		response: NewResponseHelper(),
		logger:   logger,
	}
}

// SessionWebSocket 处理会话 WebSocket 连接
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := wh.sessions.View(sessionID); err != nil {
		wh.response.FromError(c, err)
		return
	}

	conn, err := wh.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.logger.Warn("❌ 会话 WebSocket 升级失败", map[string]interface{}{
			"session_id": sessionID,
			"error":      err,
		})
		return
	}
	conn.SetReadLimit(maxFrameSize)

	client := &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, sendBuffer),
		createdAt: time.Now(),
	}
	wh.manager.registerClient(client)
	go wh.handleWebSocketWrites(client)

	// 注册之后再取状态，之后的变更都会经由广播送达
	view, err := wh.sessions.View(sessionID)
	if err != nil {
		wh.sendError(client, err)
		wh.manager.Unregister(client)
		return
	}
	wh.manager.SendToClient(client, map[string]interface{}{
		"type":       MessageConnected,
		"session_id": sessionID,
		"data":       view,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	wh.handleWebSocketReads(client)
}

// handleWebSocketReads 读取客户端事件，直到连接断开
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	defer wh.manager.Unregister(client)

	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				wh.logger.Warn("❌ WebSocket 读取错误", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err,
				})
			}
			return
		}

		client.UpdatePing()
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))

		var message ClientMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			wh.sendError(client, apperrors.NewValidationError("消息不是合法的JSON", err))
			continue
		}

		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites 写出排队消息并定期发送 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				wh.logger.Warn("❌ WebSocket 写入失败", map[string]interface{}{
					"session_id": client.sessionID,
					"error":      err,
				})
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 分发客户端事件；成功的变更由会话服务广播给所有连接
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message ClientMessage) {
	switch message.Type {
	case "choice":
		if message.TimelineID == "" || message.ChoiceIndex == nil {
			wh.sendError(client, apperrors.NewValidationError("choice 事件需要 timeline_id 和 choice_index", nil))
			return
		}
		if _, _, err := wh.sessions.ChooseIndex(client.sessionID, message.TimelineID, *message.ChoiceIndex); err != nil {
			wh.sendError(client, err)
		}

	case "reset":
		if message.TimelineID == "" {
			wh.sendError(client, apperrors.NewValidationError("reset 事件需要 timeline_id", nil))
			return
		}
		if _, err := wh.sessions.ResetTimeline(client.sessionID, message.TimelineID); err != nil {
			wh.sendError(client, err)
		}

	case "collapse_all":
		if _, err := wh.sessions.ResetAll(client.sessionID); err != nil {
			wh.sendError(client, err)
		}

	case "ping":
		wh.manager.SendToClient(client, map[string]interface{}{
			"type":      MessagePong,
			"timestamp": time.Now().Unix(),
		})

	default:
		wh.sendError(client, apperrors.NewValidationError("未知的消息类型: "+message.Type, nil))
	}
}

// sendError 发送错误消息
func (wh *WebSocketHandler) sendError(client *WebSocketClient, err error) {
	wh.manager.SendToClient(client, map[string]interface{}{
		"type":      MessageError,
		"code":      errorCode(err),
		"error":     sanitizeErrorMessage(err.Error()),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// errorCode 与 HTTP 响应使用相同的错误代码
func errorCode(err error) string {
	errType, _ := apperrors.TypeOf(err)
	switch errType {
	case apperrors.ErrorTypeNotFound:
		return resourceNotFoundCode(apperrors.CodeOf(err))
	case apperrors.ErrorTypeInvalidChoice:
		return ErrorChoiceInvalid
	case apperrors.ErrorTypeValidation:
		return ErrorBadRequest
	default:
		return ErrorInternalError
	}
}
