// internal/models/timeline.go
package models

// MaxTimelines 同一会话中并行时间线的上限
const MaxTimelines = 4

// Palette 时间线颜色表，按创建顺序取色
var Palette = []string{
	"#8b5cf6", // purple
	"#3b82f6", // blue
	"#10b981", // green
	"#f59e0b", // amber
	"#ef4444", // red
	"#ec4899", // pink
	"#14b8a6", // teal
	"#f97316", // orange
}

// PaletteColor 返回按序号取模后的颜色
func PaletteColor(index int) string {
	return Palette[index%len(Palette)]
}

// Timeline 表示故事图上的一个游标及其历史
type Timeline struct {
	ID              string   `json:"id"`
	Path            []string `json:"path"`             // 已做出的选择文本，只追加
	CurrentScenario string   `json:"current_scenario"` // 当前节点键
	Color           string   `json:"color"`
}

// Clone 深拷贝时间线
func (t Timeline) Clone() Timeline {
	path := make([]string, len(t.Path))
	copy(path, t.Path)
	t.Path = path
	return t
}

// TimelineView 单个时间线卡片的展示数据
type TimelineView struct {
	Index       int          `json:"index"` // 从 1 开始
	ID          string       `json:"id"`
	Color       string       `json:"color"`
	Path        []string     `json:"path"`
	Scenario    string       `json:"scenario"`
	Question    string       `json:"question,omitempty"`
	Description string       `json:"description,omitempty"`
	Outcome     string       `json:"outcome,omitempty"`
	IsOutcome   bool         `json:"is_outcome"`
	Choices     []ChoiceView `json:"choices"`
	CanClose    bool         `json:"can_close"`
}

// ChoiceView 可点击的选择
type ChoiceView struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SessionView 会话的完整展示状态
type SessionView struct {
	SessionID    string         `json:"session_id"`
	Timelines    []TimelineView `json:"timelines"`
	Count        int            `json:"count"`
	MaxTimelines int            `json:"max_timelines"`
	CanCollapse  bool           `json:"can_collapse"`
}
