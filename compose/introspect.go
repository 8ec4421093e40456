/*
 * introspect.go - 内省
 *
 * 核心组件：
 *   - GraphInfo: 编译产物的结构描述，供编译回调、HTTP 接口和可视化使用
 *   - Mermaid: 把图渲染为 Mermaid flowchart
 */

package compose

import (
	"fmt"
	"sort"
	"strings"
)

// ====== 节点信息定义 ======

// GraphNodeInfo 节点信息
type GraphNodeInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	// Streaming 节点动作是否为流式
	Streaming  bool     `json:"streaming,omitempty"`
	Human      bool     `json:"human,omitempty"`
	OutputKeys []string `json:"output_keys,omitempty"`
	HasRetry   bool     `json:"has_retry,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
}

// GraphBranchInfo 分支信息
type GraphBranchInfo struct {
	Kind     string            `json:"kind"`
	EndNodes []string          `json:"end_nodes"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// ====== 图信息定义 ======

// GraphInfo 图信息，节点按声明顺序排列
type GraphInfo struct {
	Name  string          `json:"name"`
	Nodes []GraphNodeInfo `json:"nodes"`
	// Edges 无条件边：起点 -> 终点列表
	Edges map[string][]string `json:"edges"`
	// Branches 条件分支：起点 -> 分支列表
	Branches map[string][]GraphBranchInfo `json:"branches,omitempty"`
	// KeyStrategies 状态键 -> 策略名称
	KeyStrategies        map[string]string `json:"key_strategies,omitempty"`
	TriggerMode          NodeTriggerMode   `json:"trigger_mode"`
	MaxRunSteps          int               `json:"max_run_steps"`
	InterruptBeforeNodes []string          `json:"interrupt_before_nodes,omitempty"`
	InterruptAfterNodes  []string          `json:"interrupt_after_nodes,omitempty"`
}

// GraphInfo 返回编译产物的结构描述，每次调用返回新副本
func (cg *CompiledGraph) GraphInfo() *GraphInfo {
	info := &GraphInfo{
		Name:          cg.name,
		Edges:         map[string][]string{},
		Branches:      map[string][]GraphBranchInfo{},
		KeyStrategies: map[string]string{},
		TriggerMode:   cg.triggerMode,
		MaxRunSteps:   cg.maxRunSteps,
	}
	for _, key := range cg.nodeOrder {
		n := cg.nodes[key]
		ni := GraphNodeInfo{
			Key:        key,
			Name:       n.name(),
			Streaming:  n.lambda.IsStreaming(),
			Human:      n.opts.human,
			OutputKeys: append([]string(nil), n.opts.outputKeys...),
			HasRetry:   n.opts.retry != nil,
		}
		if n.opts.timeout > 0 {
			ni.Timeout = n.opts.timeout.String()
		}
		info.Nodes = append(info.Nodes, ni)

		if cg.interruptBefore[key] {
			info.InterruptBeforeNodes = append(info.InterruptBeforeNodes, key)
		}
		if cg.interruptAfter[key] {
			info.InterruptAfterNodes = append(info.InterruptAfterNodes, key)
		}
	}
	for from, ends := range cg.edges {
		info.Edges[from] = append([]string(nil), ends...)
	}
	for from, bs := range cg.branches {
		for _, b := range bs {
			bi := GraphBranchInfo{Kind: b.kind}
			for end := range b.endNodes {
				bi.EndNodes = append(bi.EndNodes, end)
			}
			sort.Strings(bi.EndNodes)
			if len(b.labels) > 0 {
				bi.Labels = make(map[string]string, len(b.labels))
				for l, n := range b.labels {
					bi.Labels[l] = n
				}
			}
			info.Branches[from] = append(info.Branches[from], bi)
		}
	}
	for k, s := range cg.strategies {
		info.KeyStrategies[k] = s.Name
	}
	return info
}

// ====== 可视化 ======

// Mermaid 渲染为 Mermaid flowchart。
// 条件边用虚线表示，带路由标签时标注标签；人工检查点用六边形表示。
func (info *GraphInfo) Mermaid() string {
	sb := &strings.Builder{}
	sb.WriteString("flowchart TD\n")
	sb.WriteString(fmt.Sprintf("  %s([%s])\n", mermaidID(START), START))
	sb.WriteString(fmt.Sprintf("  %s([%s])\n", mermaidID(END), END))
	for _, n := range info.Nodes {
		label := mermaidLabel(n.Name)
		if n.Human {
			sb.WriteString(fmt.Sprintf("  %s{{%s}}\n", mermaidID(n.Key), label))
		} else {
			sb.WriteString(fmt.Sprintf("  %s[%s]\n", mermaidID(n.Key), label))
		}
	}

	starts := []string{START}
	for _, n := range info.Nodes {
		starts = append(starts, n.Key)
	}
	for _, from := range starts {
		for _, to := range info.Edges[from] {
			sb.WriteString(fmt.Sprintf("  %s --> %s\n", mermaidID(from), mermaidID(to)))
		}
		for _, b := range info.Branches[from] {
			if len(b.Labels) > 0 {
				labels := make([]string, 0, len(b.Labels))
				for l := range b.Labels {
					labels = append(labels, l)
				}
				sort.Strings(labels)
				for _, l := range labels {
					sb.WriteString(fmt.Sprintf("  %s -. %s .-> %s\n", mermaidID(from), mermaidLabel(l), mermaidID(b.Labels[l])))
				}
				continue
			}
			for _, to := range b.EndNodes {
				sb.WriteString(fmt.Sprintf("  %s -.-> %s\n", mermaidID(from), mermaidID(to)))
			}
		}
	}
	return sb.String()
}

func mermaidID(key string) string {
	switch key {
	case START:
		return "__start__"
	case END:
		return "__end__"
	}
	var sb strings.Builder
	for _, r := range key {
		if r == '_' || r == '-' || ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}
	return "n_" + sb.String()
}

func mermaidLabel(s string) string {
	r := strings.NewReplacer(`"`, "'", "[", "(", "]", ")", "{", "(", "}", ")", "|", "/")
	return r.Replace(s)
}
