// internal/services/timeline_service.go
package services

import (
	"fmt"

	"github.com/google/uuid"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/story"
)

// 未找到类错误的资源代码
const (
	CodeSessionNotFound  = "SESSION_NOT_FOUND"
	CodeTimelineNotFound = "TIMELINE_NOT_FOUND"
)

// ChoiceResult 一次选择的结果
type ChoiceResult struct {
	Timeline models.Timeline  `json:"timeline"`
	Forked   *models.Timeline `json:"forked,omitempty"` // 本次分裂出的并行时间线
}

// TimelineManager 管理一个会话内的时间线集合。
// 非并发安全，调用方需保证同一时刻只有一个事件在处理。
type TimelineManager struct {
	graph     *story.Graph
	timelines []models.Timeline
	newID     func() string
}

// NewTimelineManager 创建时间线管理器，初始为根节点上的单条时间线
func NewTimelineManager(graph *story.Graph) *TimelineManager {
	m := &TimelineManager{
		graph: graph,
		newID: uuid.NewString,
	}
	m.ResetAll()
	return m
}

func (m *TimelineManager) fresh() models.Timeline {
	return models.Timeline{
		ID:              m.newID(),
		Path:            []string{},
		CurrentScenario: m.graph.Start(),
		Color:           models.PaletteColor(0),
	}
}

func (m *TimelineManager) indexOf(timelineID string) int {
	for i := range m.timelines {
		if m.timelines[i].ID == timelineID {
			return i
		}
	}
	return -1
}

func timelineNotFound(timelineID string) error {
	return apperrors.NewNotFoundError(fmt.Sprintf("时间线不存在: %s", timelineID), nil).WithCode(CodeTimelineNotFound)
}

// Graph 返回所用的故事图
func (m *TimelineManager) Graph() *story.Graph {
	return m.graph
}

// Len 当前时间线数量
func (m *TimelineManager) Len() int {
	return len(m.timelines)
}

// Timelines 按展示顺序返回时间线副本
func (m *TimelineManager) Timelines() []models.Timeline {
	out := make([]models.Timeline, len(m.timelines))
	for i, t := range m.timelines {
		out[i] = t.Clone()
	}
	return out
}

// Timeline 按ID获取时间线副本
func (m *TimelineManager) Timeline(timelineID string) (models.Timeline, error) {
	idx := m.indexOf(timelineID)
	if idx < 0 {
		return models.Timeline{}, timelineNotFound(timelineID)
	}
	return m.timelines[idx].Clone(), nil
}

// CurrentNode 返回时间线当前所在节点
func (m *TimelineManager) CurrentNode(timelineID string) (models.ScenarioNode, error) {
	idx := m.indexOf(timelineID)
	if idx < 0 {
		return nil, timelineNotFound(timelineID)
	}
	return m.graph.Lookup(m.timelines[idx].CurrentScenario)
}

// ApplyChoice 在时间线上应用一个选择。
// 当前节点有多个选择且集合未满时，为另一个选择分裂出新的时间线，插在原时间线之后。
func (m *TimelineManager) ApplyChoice(timelineID string, choice models.Choice) (*ChoiceResult, error) {
	idx := m.indexOf(timelineID)
	if idx < 0 {
		return nil, timelineNotFound(timelineID)
	}
	timeline := m.timelines[idx]

	node, err := m.graph.Lookup(timeline.CurrentScenario)
	if err != nil {
		return nil, err
	}

	branch, ok := node.(*models.Branch)
	if !ok {
		return nil, apperrors.NewInvalidChoiceError(
			fmt.Sprintf("时间线 %s 已到达结局 %s，没有可用选择", timelineID, node.Key()), nil)
	}
	if !branch.HasChoice(choice) {
		return nil, apperrors.NewInvalidChoiceError(
			fmt.Sprintf("选择 %q 不属于节点 %s", choice.Text, branch.ID), nil)
	}

	updated := timeline.Clone()
	updated.Path = append(updated.Path, choice.Text)
	updated.CurrentScenario = choice.Next

	result := &ChoiceResult{Timeline: updated.Clone()}

	next := make([]models.Timeline, 0, len(m.timelines)+1)
	next = append(next, m.timelines[:idx]...)
	next = append(next, updated)

	if len(branch.Choices) > 1 && len(m.timelines) < models.MaxTimelines {
		if other, ok := branch.OtherChoice(choice.Text); ok {
			parallel := timeline.Clone()
			parallel.ID = m.newID()
			parallel.Path = append(parallel.Path, other.Text)
			parallel.CurrentScenario = other.Next
			parallel.Color = models.PaletteColor(len(m.timelines))

			next = append(next, parallel)
			forked := parallel.Clone()
			result.Forked = &forked
		}
	}

	next = append(next, m.timelines[idx+1:]...)
	m.timelines = next

	return result, nil
}

// ChooseIndex 按当前节点上的选择序号应用选择
func (m *TimelineManager) ChooseIndex(timelineID string, choiceIndex int) (*ChoiceResult, error) {
	node, err := m.CurrentNode(timelineID)
	if err != nil {
		return nil, err
	}

	choices := models.ChoicesOf(node)
	if choiceIndex < 0 || choiceIndex >= len(choices) {
		return nil, apperrors.NewInvalidChoiceError(
			fmt.Sprintf("选择序号 %d 超出范围，节点 %s 共有 %d 个选择", choiceIndex, node.Key(), len(choices)), nil)
	}

	return m.ApplyChoice(timelineID, choices[choiceIndex])
}

// ResetTimeline 移除一条时间线；移除后集合为空则重新初始化到根节点
func (m *TimelineManager) ResetTimeline(timelineID string) error {
	idx := m.indexOf(timelineID)
	if idx < 0 {
		return timelineNotFound(timelineID)
	}

	next := make([]models.Timeline, 0, len(m.timelines))
	next = append(next, m.timelines[:idx]...)
	next = append(next, m.timelines[idx+1:]...)

	if len(next) == 0 {
		next = append(next, m.fresh())
	}
	m.timelines = next
	return nil
}

// ResetAll 折叠所有时间线，回到根节点上的单条新时间线
func (m *TimelineManager) ResetAll() {
	m.timelines = []models.Timeline{m.fresh()}
}
