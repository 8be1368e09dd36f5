// internal/services/timeline_view.go
package services

import (
	"github.com/Corphon/ParallelTimelines/internal/models"
)

// BuildSessionView 生成会话的展示数据
func BuildSessionView(sessionID string, m *TimelineManager) models.SessionView {
	timelines := m.Timelines()
	count := len(timelines)

	views := make([]models.TimelineView, 0, count)
	for i, t := range timelines {
		view := models.TimelineView{
			Index:    i + 1,
			ID:       t.ID,
			Color:    t.Color,
			Path:     t.Path,
			Scenario: t.CurrentScenario,
			Choices:  []models.ChoiceView{},
			CanClose: count > 1,
		}

		node, err := m.Graph().Lookup(t.CurrentScenario)
		if err == nil {
			switch n := node.(type) {
			case *models.Branch:
				view.Question = n.Question
				view.Description = n.Description
				for ci, c := range n.Choices {
					view.Choices = append(view.Choices, models.ChoiceView{Index: ci, Text: c.Text})
				}
			case *models.Outcome:
				view.Outcome = n.Text
				view.IsOutcome = true
			}
		}

		views = append(views, view)
	}

	return models.SessionView{
		SessionID:    sessionID,
		Timelines:    views,
		Count:        count,
		MaxTimelines: models.MaxTimelines,
		CanCollapse:  count > 1,
	}
}
