package dsl

import (
	"context"
	"fmt"
	"time"

	"github.com/favbox/flowgraph/compose"
)

// Build 把文档构造成图。registry 为空时使用 NewRegistry()。
func Build(doc *Document, registry *Registry) (*compose.Graph, error) {
	if doc == nil {
		return nil, fmt.Errorf("graph document is nil")
	}
	if registry == nil {
		registry = NewRegistry()
	}

	strategies := compose.KeyStrategies{}
	for key, sk := range doc.State {
		s, err := registry.strategy(sk.Strategy)
		if err != nil {
			return nil, fmt.Errorf("state key %s: %w", key, err)
		}
		strategies[key] = s
	}

	g := compose.NewGraph(compose.WithName(doc.Name), compose.WithKeyStrategies(strategies))

	for _, spec := range doc.Nodes {
		if err := addNode(g, registry, spec); err != nil {
			return nil, err
		}
	}

	// 条件边按起点分组，保持声明顺序
	var (
		groupOrder []string
		groups     = map[string][]EdgeSpec{}
	)
	for _, e := range doc.Edges {
		if !e.conditional() {
			if err := g.AddEdge(e.From, e.To); err != nil {
				return nil, err
			}
			continue
		}
		if _, ok := groups[e.From]; !ok {
			groupOrder = append(groupOrder, e.From)
		}
		groups[e.From] = append(groups[e.From], e)
	}
	for _, from := range groupOrder {
		branch, err := newWhenBranch(groups[from])
		if err != nil {
			return nil, fmt.Errorf("edges from %s: %w", from, err)
		}
		if err := g.AddBranch(from, branch); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// CompileOptions 文档中声明的编译参数
func (d *Document) CompileOptions() ([]compose.GraphCompileOption, error) {
	var opts []compose.GraphCompileOption
	if d.Name != "" {
		opts = append(opts, compose.WithGraphName(d.Name))
	}
	if d.MaxSteps > 0 {
		opts = append(opts, compose.WithMaxRunSteps(d.MaxSteps))
	}
	switch compose.NodeTriggerMode(d.TriggerMode) {
	case "":
	case compose.AnyPredecessor, compose.AllPredecessor:
		opts = append(opts, compose.WithNodeTriggerMode(compose.NodeTriggerMode(d.TriggerMode)))
	default:
		return nil, fmt.Errorf("unknown trigger mode %q", d.TriggerMode)
	}
	if len(d.InterruptBefore) > 0 {
		opts = append(opts, compose.WithInterruptBeforeNodes(d.InterruptBefore))
	}
	if len(d.InterruptAfter) > 0 {
		opts = append(opts, compose.WithInterruptAfterNodes(d.InterruptAfter))
	}
	return opts, nil
}

// Compile 构造并编译文档，extra 追加在文档声明的编译参数之后
func Compile(ctx context.Context, doc *Document, registry *Registry, extra ...compose.GraphCompileOption) (*compose.CompiledGraph, error) {
	g, err := Build(doc, registry)
	if err != nil {
		return nil, err
	}
	opts, err := doc.CompileOptions()
	if err != nil {
		return nil, err
	}
	return g.Compile(ctx, append(opts, extra...)...)
}

func addNode(g *compose.Graph, registry *Registry, spec NodeSpec) error {
	var opts []compose.GraphAddNodeOpt
	if spec.Name != "" {
		opts = append(opts, compose.WithNodeName(spec.Name))
	}
	if len(spec.OutputKeys) > 0 {
		opts = append(opts, compose.WithOutputKeys(spec.OutputKeys...))
	}
	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return fmt.Errorf("node %s: invalid timeout: %w", spec.Key, err)
		}
		opts = append(opts, compose.WithNodeTimeout(d))
	}
	if spec.Retries > 0 {
		p := compose.DefaultRetryPolicy()
		p.MaxRetries = spec.Retries
		opts = append(opts, compose.WithRetryPolicy(p))
	}

	switch spec.Type {
	case NodeTypePassthrough:
		return g.AddPassthroughNode(spec.Key, opts...)
	case NodeTypeHuman:
		// 配置了 values / paths 时，恢复后按 set 节点写入
		var action *compose.Lambda
		if len(spec.Config) > 0 {
			var err error
			if action, err = newSetNode(spec); err != nil {
				return err
			}
		}
		return g.AddHumanNode(spec.Key, action, opts...)
	}

	factory, ok := registry.factory(spec.Type)
	if !ok {
		return fmt.Errorf("node %s: unknown node type %q", spec.Key, spec.Type)
	}
	action, err := factory(spec)
	if err != nil {
		return err
	}
	return g.AddLambdaNode(spec.Key, action, opts...)
}

// newWhenBranch 把同一起点的条件边合并成谓词分支
func newWhenBranch(edges []EdgeSpec) (*compose.GraphBranch, error) {
	fanOut := false
	cases := make([]compose.BranchCase, 0, len(edges))
	for _, e := range edges {
		if e.FanOut {
			fanOut = true
		}
		if e.Default {
			if e.When != "" {
				return nil, fmt.Errorf("edge to %s: default edge cannot have a condition", e.To)
			}
			cases = append(cases, compose.BranchCase{Target: e.To})
			continue
		}
		cond, err := CompileCondition(e.When)
		if err != nil {
			return nil, err
		}
		cases = append(cases, compose.BranchCase{Target: e.To, When: cond.Eval})
	}
	return compose.NewPredicateBranch(cases, fanOut), nil
}
