// internal/story/graph.go
package story

import (
	"fmt"
	"sort"

	apperrors "github.com/Corphon/ParallelTimelines/internal/errors"
	"github.com/Corphon/ParallelTimelines/internal/models"
)

// CodeScenarioNotFound 场景键不存在时的错误代码
const CodeScenarioNotFound = "SCENARIO_NOT_FOUND"

// Graph 只读的故事图。构造时已完成校验，之后不再修改。
type Graph struct {
	nodes map[string]models.ScenarioNode
	keys  []string
}

func newGraph(nodes map[string]models.ScenarioNode) *Graph {
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &Graph{nodes: nodes, keys: keys}
}

// Lookup 按键查找节点
func (g *Graph) Lookup(key string) (models.ScenarioNode, error) {
	node, ok := g.nodes[key]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("场景不存在: %s", key), nil).WithCode(CodeScenarioNotFound)
	}
	return node, nil
}

// Start 返回根节点键
func (g *Graph) Start() string {
	return models.StartScenario
}

// Keys 返回排序后的所有节点键
func (g *Graph) Keys() []string {
	out := make([]string, len(g.keys))
	copy(out, g.keys)
	return out
}

// Len 节点数量
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IsTerminal 判断节点是否为结局
func (g *Graph) IsTerminal(key string) bool {
	node, ok := g.nodes[key]
	return ok && node.Kind() == models.KindOutcome
}

// Outcomes 返回所有结局节点的键
func (g *Graph) Outcomes() []string {
	var out []string
	for _, k := range g.keys {
		if g.nodes[k].Kind() == models.KindOutcome {
			out = append(out, k)
		}
	}
	return out
}
