/*
 * branch.go - 条件边
 *
 * 核心组件：
 *   - GraphBranch: 根据合并后的状态在运行期选择后继节点
 *   - NewGraphBranch: 单选，条件函数返回一个节点
 *   - NewGraphMultiBranch: 多选，条件函数返回节点集合，选中的节点并行执行
 *   - NewConditionalBranch: 条件函数返回路由标签，按标签映射到节点
 *   - NewPredicateBranch: 每个目标一个谓词，要求恰好命中一个（或显式允许扇出）
 *
 * 所有分支在构造时声明全部可能的目标（endNodes），编译期据此做可达性检查，
 * 运行期返回声明之外的节点或不选择任何节点都会导致 ErrorKindBranch 错误。
 */

package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// GraphBranchCondition 单选分支条件
type GraphBranchCondition func(ctx context.Context, state State) (endNode string, err error)

// GraphMultiBranchCondition 多选分支条件
type GraphMultiBranchCondition func(ctx context.Context, state State) (endNodes map[string]bool, err error)

// GraphBranch 图的条件分支
type GraphBranch struct {
	invoke   func(ctx context.Context, state State) ([]string, error)
	endNodes map[string]bool
	// kind 仅用于可视化
	kind string
	// labels 路由标签到节点，仅 NewConditionalBranch 使用
	labels map[string]string
}

// GetEndNode 返回分支所有可能的目标
func (gb *GraphBranch) GetEndNode() map[string]bool {
	return gb.endNodes
}

// NewGraphBranch 创建单选分支。
//
//	branch := compose.NewGraphBranch(func(ctx context.Context, s compose.State) (string, error) {
//		if s.Value("approved").Truthy() {
//			return "publish", nil
//		}
//		return "revise", nil
//	}, map[string]bool{"publish": true, "revise": true})
func NewGraphBranch(condition GraphBranchCondition, endNodes map[string]bool) *GraphBranch {
	return &GraphBranch{
		kind:     "single",
		endNodes: endNodes,
		invoke: func(ctx context.Context, state State) ([]string, error) {
			end, err := condition(ctx, state)
			if err != nil {
				return nil, err
			}
			return []string{end}, nil
		},
	}
}

// NewGraphMultiBranch 创建多选分支，返回的节点会在下一个超级步并行执行。
func NewGraphMultiBranch(condition GraphMultiBranchCondition, endNodes map[string]bool) *GraphBranch {
	return &GraphBranch{
		kind:     "multi",
		endNodes: endNodes,
		invoke: func(ctx context.Context, state State) ([]string, error) {
			ends, err := condition(ctx, state)
			if err != nil {
				return nil, err
			}
			out := make([]string, 0, len(ends))
			for end, selected := range ends {
				if selected {
					out = append(out, end)
				}
			}
			sort.Strings(out)
			return out, nil
		},
	}
}

// NewConditionalBranch 创建标签路由分支。
// 条件函数返回的标签必须出现在 routes 中，routes 的值为目标节点。
func NewConditionalBranch(condition GraphBranchCondition, routes map[string]string) *GraphBranch {
	endNodes := make(map[string]bool, len(routes))
	labels := make(map[string]string, len(routes))
	for label, node := range routes {
		endNodes[node] = true
		labels[label] = node
	}
	return &GraphBranch{
		kind:     "conditional",
		endNodes: endNodes,
		labels:   labels,
		invoke: func(ctx context.Context, state State) ([]string, error) {
			label, err := condition(ctx, state)
			if err != nil {
				return nil, err
			}
			node, ok := labels[label]
			if !ok {
				return nil, fmt.Errorf("branch returned unknown route label %q", label)
			}
			return []string{node}, nil
		},
	}
}

// BranchCase 谓词分支的一个候选目标。When 为 nil 表示默认分支。
type BranchCase struct {
	Target string
	When   func(ctx context.Context, state State) (bool, error)
}

// NewPredicateBranch 创建谓词分支。
// 所有非默认候选的谓词都会被求值：
//   - 恰好一个命中时选择它
//   - 没有命中时选择默认候选，没有默认候选则报错
//   - 多个命中时，allowFanOut 为 true 则全部选中并行执行，否则报错
func NewPredicateBranch(cases []BranchCase, allowFanOut bool) *GraphBranch {
	endNodes := make(map[string]bool, len(cases))
	for _, c := range cases {
		endNodes[c.Target] = true
	}
	kind := "predicate"
	if allowFanOut {
		kind = "predicate_fan_out"
	}
	return &GraphBranch{
		kind:     kind,
		endNodes: endNodes,
		invoke: func(ctx context.Context, state State) ([]string, error) {
			var (
				matched  []string
				fallback []string
			)
			for _, c := range cases {
				if c.When == nil {
					fallback = append(fallback, c.Target)
					continue
				}
				ok, err := c.When(ctx, state)
				if err != nil {
					return nil, fmt.Errorf("evaluate predicate for %s: %w", c.Target, err)
				}
				if ok {
					matched = append(matched, c.Target)
				}
			}
			switch {
			case len(matched) == 1:
				return matched, nil
			case len(matched) > 1 && allowFanOut:
				return matched, nil
			case len(matched) > 1:
				return nil, fmt.Errorf("multiple branches matched: [%s]", strings.Join(matched, ", "))
			case len(fallback) > 0:
				return fallback[:1], nil
			default:
				return nil, fmt.Errorf("no branch matched")
			}
		},
	}
}

// evaluate 执行分支并校验结果
func (gb *GraphBranch) evaluate(ctx context.Context, state State) ([]string, error) {
	ends, err := gb.invoke(ctx, state)
	if err != nil {
		return nil, err
	}
	if len(ends) == 0 {
		return nil, errors.New("branch selected no successor")
	}
	for _, end := range ends {
		if !gb.endNodes[end] {
			return nil, fmt.Errorf("branch invocation returns unintended end node: %s", end)
		}
	}
	return ends, nil
}
