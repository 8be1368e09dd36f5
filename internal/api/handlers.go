// internal/api/handlers.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/services"
)

// Handler 处理API请求
type Handler struct {
	Sessions         *services.SessionService // 会话服务
	Exports          *services.ExportService  // 会话导出
	WebSocketHandler *WebSocketHandler        // WebSocket 处理器
	WebSocket        *WebSocketManager        // WebSocket 连接管理
	Response         *ResponseHelper          // 响应助手
}

// ChoiceRequest 选择请求
type ChoiceRequest struct {
	ChoiceIndex *int `json:"choice_index" binding:"required"`
}

// StoryInfo 故事图概要
type StoryInfo struct {
	Start     string   `json:"start"`
	NodeCount int      `json:"node_count"`
	Scenarios []string `json:"scenarios"`
	Outcomes  []string `json:"outcomes"`
}

// ScenarioResponse 单个节点
type ScenarioResponse struct {
	Kind models.ScenarioKind `json:"kind"`
	Node models.ScenarioNode `json:"node"`
}

// ChoiceResponse 选择后的会话状态与分裂信息
type ChoiceResponse struct {
	Session models.SessionView     `json:"session"`
	Result  *services.ChoiceResult `json:"result"`
}

// NewHandler 创建API处理器
func NewHandler(sessions *services.SessionService, exports *services.ExportService, wsManager *WebSocketManager, wsHandler *WebSocketHandler) *Handler {
	return &Handler{
		Sessions:         sessions,
		Exports:          exports,
		WebSocketHandler: wsHandler,
		WebSocket:        wsManager,
		Response:         NewResponseHelper(),
	}
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"status":   "ok",
		"sessions": h.Sessions.Count(),
		"time":     time.Now().Format(time.RFC3339),
	})
}

// GetStory 返回故事图概要
func (h *Handler) GetStory(c *gin.Context) {
	graph := h.Sessions.Graph()
	h.Response.Success(c, StoryInfo{
		Start:     graph.Start(),
		NodeCount: graph.Len(),
		Scenarios: graph.Keys(),
		Outcomes:  graph.Outcomes(),
	})
}

// GetScenario 按键返回节点内容
func (h *Handler) GetScenario(c *gin.Context) {
	node, err := h.Sessions.Graph().Lookup(c.Param("key"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ScenarioResponse{Kind: node.Kind(), Node: node})
}

// CreateSession 新建会话
func (h *Handler) CreateSession(c *gin.Context) {
	h.Response.Created(c, h.Sessions.Create(), "会话已创建")
}

// GetSession 返回会话当前状态
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Sessions.View(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// DeleteSession 丢弃会话
func (h *Handler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.Sessions.Delete(sessionID); err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"session_id": sessionID}, "会话已丢弃")
}

// MakeChoice 在时间线上做出选择
func (h *Handler) MakeChoice(c *gin.Context) {
	var req ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求体需要 choice_index", err.Error())
		return
	}

	view, result, err := h.Sessions.ChooseIndex(c.Param("id"), c.Param("tid"), *req.ChoiceIndex)
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, ChoiceResponse{Session: view, Result: result})
}

// ResetTimeline 关闭一条时间线
func (h *Handler) ResetTimeline(c *gin.Context) {
	view, err := h.Sessions.ResetTimeline(c.Param("id"), c.Param("tid"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// CollapseAll 折叠所有时间线
func (h *Handler) CollapseAll(c *gin.Context) {
	view, err := h.Sessions.ResetAll(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}
	h.Response.Success(c, view, "所有时间线已折叠")
}

// ExportSession 导出会话，save=true 时归档，download=true 时直接返回文件
func (h *Handler) ExportSession(c *gin.Context) {
	result, err := h.Exports.ExportSession(c.Param("id"), c.DefaultQuery("format", "markdown"))
	if err != nil {
		h.Response.FromError(c, err)
		return
	}

	if c.Query("save") == "true" {
		if err := h.Exports.SaveExport(result); err != nil {
			h.Response.FromError(c, err)
			return
		}
	}

	if c.Query("download") != "true" {
		h.Response.Success(c, result)
		return
	}

	filename := services.ExportFilename(result)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, exportContentType(result.Format), []byte(result.Content))
}

func exportContentType(format string) string {
	switch format {
	case models.ExportFormatJSON:
		return "application/json; charset=utf-8"
	case models.ExportFormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// SessionWebSocket 处理会话 WebSocket 连接
func (h *Handler) SessionWebSocket(c *gin.Context) {
	h.WebSocketHandler.SessionWebSocket(c)
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := h.WebSocket.GetStatus()
	status["timestamp"] = time.Now().Format(time.RFC3339)
	h.Response.Success(c, status)
}
