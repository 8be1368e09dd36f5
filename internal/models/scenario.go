// internal/models/scenario.go
package models

// StartScenario 故事图的根节点键
const StartScenario = "start"

// ScenarioKind 区分分支节点与结局节点
type ScenarioKind string

const (
	// KindBranch 带选择的分支节点
	KindBranch ScenarioKind = "branch"
	// KindOutcome 终止的结局节点
	KindOutcome ScenarioKind = "outcome"
)

// Choice 分支节点上的一个选择
type Choice struct {
	Text string `json:"text"`
	Next string `json:"next"`
}

// ScenarioNode 故事图中的一个节点，只能是 Branch 或 Outcome 之一
type ScenarioNode interface {
	Key() string
	Kind() ScenarioKind
	isScenarioNode()
}

// Branch 非终止节点
type Branch struct {
	ID          string   `json:"id"`
	Question    string   `json:"question,omitempty"`
	Description string   `json:"description,omitempty"`
	Choices     []Choice `json:"choices"`
}

// Outcome 终止节点
type Outcome struct {
	ID   string `json:"id"`
	Text string `json:"outcome"`
}

func (b *Branch) Key() string        { return b.ID }
func (b *Branch) Kind() ScenarioKind { return KindBranch }
func (*Branch) isScenarioNode()      {}

func (o *Outcome) Key() string        { return o.ID }
func (o *Outcome) Kind() ScenarioKind { return KindOutcome }
func (*Outcome) isScenarioNode()      {}

// HasChoice 判断该分支是否包含给定选择（文本与目标均需一致）
func (b *Branch) HasChoice(choice Choice) bool {
	for _, c := range b.Choices {
		if c == choice {
			return true
		}
	}
	return false
}

// OtherChoice 按编写顺序返回第一个文本与 taken 不同的选择
func (b *Branch) OtherChoice(taken string) (Choice, bool) {
	for _, c := range b.Choices {
		if c.Text != taken {
			return c, true
		}
	}
	return Choice{}, false
}

// ChoicesOf 返回节点的选择列表，结局节点返回 nil
func ChoicesOf(node ScenarioNode) []Choice {
	if b, ok := node.(*Branch); ok {
		return b.Choices
	}
	return nil
}
