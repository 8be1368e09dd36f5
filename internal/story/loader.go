// internal/story/loader.go
package story

import (
	"bytes"
	_ "embed"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
)

//go:embed default_story.yaml
var defaultStoryYAML []byte

type choiceRecord struct {
	Text string `yaml:"text" validate:"required"`
	Next string `yaml:"next" validate:"required"`
}

type scenarioRecord struct {
	Question    string         `yaml:"question"`
	Description string         `yaml:"description"`
	Choices     []choiceRecord `yaml:"choices" validate:"omitempty,dive"`
	Outcome     string         `yaml:"outcome"`
}

var (
	validate     = validator.New()
	defaultOnce  sync.Once
	defaultGraph *Graph
	defaultErr   error
)

// Default 返回内嵌的默认故事图
func Default() (*Graph, error) {
	defaultOnce.Do(func() {
		defaultGraph, defaultErr = Load(bytes.NewReader(defaultStoryYAML))
	})
	return defaultGraph, defaultErr
}

// LoadFile 从 YAML 文件加载故事图；path 为空时返回默认故事
func LoadFile(path string) (*Graph, error) {
	if path == "" {
		return Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开故事文件失败: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load 解析并校验 YAML 格式的故事图
func Load(r io.Reader) (*Graph, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var records map[string]scenarioRecord
	if err := decoder.Decode(&records); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, apperrors.NewValidationError("故事文件为空", nil)
		}
		return nil, apperrors.NewValidationError("解析故事文件失败", err)
	}

	if err := validateRecords(records); err != nil {
		return nil, err
	}

	nodes := make(map[string]models.ScenarioNode, len(records))
	for key, rec := range records {
		if len(rec.Choices) == 0 {
			nodes[key] = &models.Outcome{ID: key, Text: rec.Outcome}
			continue
		}

		choices := make([]models.Choice, len(rec.Choices))
		for i, c := range rec.Choices {
			choices[i] = models.Choice{Text: c.Text, Next: c.Next}
		}
		nodes[key] = &models.Branch{
			ID:          key,
			Question:    rec.Question,
			Description: rec.Description,
			Choices:     choices,
		}
	}

	return newGraph(nodes), nil
}

// validateRecords 汇总所有编写错误后一次返回
func validateRecords(records map[string]scenarioRecord) error {
	var problems []error

	if _, ok := records[models.StartScenario]; !ok {
		problems = append(problems, fmt.Errorf("缺少根节点 %q", models.StartScenario))
	}

	for key, rec := range records {
		if err := validate.Struct(rec); err != nil {
			problems = append(problems, fmt.Errorf("节点 %s: %w", key, err))
			continue
		}

		hasChoices := len(rec.Choices) > 0
		hasOutcome := rec.Outcome != ""
		switch {
		case hasChoices && hasOutcome:
			problems = append(problems, fmt.Errorf("节点 %s 同时包含选择和结局", key))
		case !hasChoices && !hasOutcome:
			problems = append(problems, fmt.Errorf("节点 %s 既没有选择也没有结局", key))
		}

		for _, c := range rec.Choices {
			if _, ok := records[c.Next]; !ok {
				problems = append(problems, fmt.Errorf("节点 %s 的选择 %q 指向不存在的节点 %s", key, c.Text, c.Next))
			}
		}
	}

	if len(problems) > 0 {
		return apperrors.NewValidationError("故事图校验失败", stderrors.Join(problems...))
	}
	return nil
}
