// internal/models/export.go
package models

import (
	"time"
)

// 支持的导出格式
const (
	ExportFormatJSON     = "json"
	ExportFormatMarkdown = "markdown"
	ExportFormatText     = "txt"
)

// ExportResult 导出结果
type ExportResult struct {
	SessionID   string       `json:"session_id"`
	Title       string       `json:"title"`
	Format      string       `json:"format"`
	Content     string       `json:"content"`
	GeneratedAt time.Time    `json:"generated_at"`
	FilePath    string       `json:"file_path,omitempty"` // 归档后的文件路径
	FileSize    int64        `json:"file_size,omitempty"`
	Stats       *ExportStats `json:"stats,omitempty"`
}

// ExportStats 会话导出统计
type ExportStats struct {
	TimelineCount  int `json:"timeline_count"`
	OutcomeCount   int `json:"outcome_count"`  // 已到达结局的时间线数
	TotalChoices   int `json:"total_choices"`  // 所有路径长度之和
	LongestPath    int `json:"longest_path"`
	ScenarioVisits int `json:"scenario_visits"` // 当前停留的不同节点数
}
