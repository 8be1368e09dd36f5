// internal/services/export_service.go
package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
	"github.com/Corphon/ParallelTimelines/internal/storage"
)

const exportDir = "exports"

// ExportService 把会话中的全部时间线导出为文档
type ExportService struct {
	Sessions *SessionService
	Archive  *storage.FileStorage // 为 nil 时不支持归档
	now      func() time.Time
}

func NewExportService(sessions *SessionService, archive *storage.FileStorage) *ExportService {
	return &ExportService{
		Sessions: sessions,
		Archive:  archive,
		now:      time.Now,
	}
}

var supportedFormats = []string{
	models.ExportFormatJSON,
	models.ExportFormatMarkdown,
	models.ExportFormatText,
}

// ExportSession 按指定格式导出会话
func (s *ExportService) ExportSession(sessionID, format string) (*models.ExportResult, error) {
	// 1. 验证格式
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = models.ExportFormatMarkdown
	}
	if !contains(supportedFormats, format) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: %v", format, supportedFormats), nil)
	}

	// 2. 获取会话快照
	view, err := s.Sessions.View(sessionID)
	if err != nil {
		return nil, err
	}

	// 3. 统计
	stats := s.analyzeSession(view)
	generatedAt := s.now()

	// 4. 根据格式生成内容
	content, err := s.formatExportContent(view, stats, format, generatedAt)
	if err != nil {
		return nil, apperrors.NewProcessingError("格式化导出内容失败", err)
	}

	return &models.ExportResult{
		SessionID:   sessionID,
		Title:       fmt.Sprintf("Parallel Timelines - %d 条时间线", view.Count),
		Format:      format,
		Content:     content,
		GeneratedAt: generatedAt,
		Stats:       stats,
	}, nil
}

// SaveExport 把导出结果写入归档目录
func (s *ExportService) SaveExport(result *models.ExportResult) error {
	if s.Archive == nil {
		return apperrors.NewValidationError("未配置导出归档目录", nil)
	}

	filename := ExportFilename(result)
	path, err := s.Archive.SaveTextFile(exportDir, filename, []byte(result.Content))
	if err != nil {
		return apperrors.NewProcessingError("保存导出文件失败", err)
	}

	result.FilePath = path
	result.FileSize = int64(len(result.Content))
	return nil
}

// ExportFilename 导出文件名：会话ID + 生成时间 + 扩展名
func ExportFilename(result *models.ExportResult) string {
	ext := result.Format
	if ext == models.ExportFormatMarkdown {
		ext = "md"
	}
	return fmt.Sprintf("timelines-%s-%s.%s", result.SessionID, result.GeneratedAt.Format("20060102-150405"), ext)
}

// analyzeSession 统计会话中的时间线
func (s *ExportService) analyzeSession(view models.SessionView) *models.ExportStats {
	stats := &models.ExportStats{TimelineCount: len(view.Timelines)}
	scenarios := make(map[string]struct{})

	for _, card := range view.Timelines {
		if card.IsOutcome {
			stats.OutcomeCount++
		}
		stats.TotalChoices += len(card.Path)
		if len(card.Path) > stats.LongestPath {
			stats.LongestPath = len(card.Path)
		}
		scenarios[card.Scenario] = struct{}{}
	}
	stats.ScenarioVisits = len(scenarios)

	return stats
}

// formatExportContent 根据格式生成内容
func (s *ExportService) formatExportContent(view models.SessionView, stats *models.ExportStats, format string, generatedAt time.Time) (string, error) {
	switch format {
	case models.ExportFormatJSON:
		return s.formatAsJSON(view, stats, generatedAt)
	case models.ExportFormatMarkdown:
		return s.formatAsMarkdown(view, stats, generatedAt), nil
	case models.ExportFormatText:
		return s.formatAsText(view, stats, generatedAt), nil
	default:
		return "", fmt.Errorf("不支持的格式: %s", format)
	}
}

// formatAsJSON JSON格式导出
func (s *ExportService) formatAsJSON(view models.SessionView, stats *models.ExportStats, generatedAt time.Time) (string, error) {
	exportData := map[string]interface{}{
		"session_id": view.SessionID,
		"timelines":  view.Timelines,
		"statistics": stats,
		"export_info": map[string]interface{}{
			"generated_at": generatedAt.Format("2006-01-02 15:04:05"),
			"format":       models.ExportFormatJSON,
			"version":      "1.0",
		},
	}

	jsonData, err := json.MarshalIndent(exportData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("JSON序列化失败: %w", err)
	}
	return string(jsonData), nil
}

// formatAsMarkdown Markdown格式导出
func (s *ExportService) formatAsMarkdown(view models.SessionView, stats *models.ExportStats, generatedAt time.Time) string {
	var content strings.Builder

	content.WriteString("# Parallel Timelines\n\n")
	content.WriteString(fmt.Sprintf("- **会话ID**: %s\n", view.SessionID))
	content.WriteString(fmt.Sprintf("- **时间线数**: %d/%d\n", view.Count, view.MaxTimelines))
	content.WriteString(fmt.Sprintf("- **已到结局**: %d\n", stats.OutcomeCount))
	content.WriteString(fmt.Sprintf("- **选择总数**: %d\n", stats.TotalChoices))
	content.WriteString(fmt.Sprintf("- **生成时间**: %s\n\n", generatedAt.Format("2006-01-02 15:04:05")))

	for _, card := range view.Timelines {
		content.WriteString(fmt.Sprintf("## Timeline %d (%s)\n\n", card.Index, card.Color))

		if len(card.Path) == 0 {
			content.WriteString("_尚未做出选择_\n\n")
		} else {
			for i, step := range card.Path {
				content.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
			}
			content.WriteString("\n")
		}

		if card.IsOutcome {
			content.WriteString(fmt.Sprintf("> **结局**: %s\n\n", card.Outcome))
			continue
		}
		content.WriteString(fmt.Sprintf("**%s**\n\n%s\n\n", card.Question, card.Description))
		for _, choice := range card.Choices {
			content.WriteString(fmt.Sprintf("- %s\n", choice.Text))
		}
		content.WriteString("\n")
	}

	return content.String()
}

// formatAsText 纯文本格式导出
func (s *ExportService) formatAsText(view models.SessionView, stats *models.ExportStats, generatedAt time.Time) string {
	var content strings.Builder

	content.WriteString("PARALLEL TIMELINES\n")
	content.WriteString(strings.Repeat("=", 40) + "\n")
	content.WriteString(fmt.Sprintf("会话ID: %s\n", view.SessionID))
	content.WriteString(fmt.Sprintf("时间线: %d/%d  结局: %d  选择: %d\n",
		view.Count, view.MaxTimelines, stats.OutcomeCount, stats.TotalChoices))
	content.WriteString(fmt.Sprintf("生成时间: %s\n\n", generatedAt.Format("2006-01-02 15:04:05")))

	for _, card := range view.Timelines {
		content.WriteString(fmt.Sprintf("[Timeline %d]\n", card.Index))
		if len(card.Path) > 0 {
			content.WriteString("  " + strings.Join(card.Path, " -> ") + "\n")
		}
		if card.IsOutcome {
			content.WriteString("  结局: " + card.Outcome + "\n\n")
		} else {
			content.WriteString("  当前: " + card.Question + "\n\n")
		}
	}

	return content.String()
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
