package dsl

import (
	"fmt"
	"sort"
	"sync"

	"github.com/favbox/flowgraph/compose"
)

// NodeFactory 根据节点声明构造节点动作
type NodeFactory func(spec NodeSpec) (*compose.Lambda, error)

// Registry 节点类型与自定义键策略的注册表
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]NodeFactory
	strategies map[string]compose.KeyStrategy
}

// 内置节点类型
const (
	NodeTypeSet         = "set"
	NodeTypeTemplate    = "template"
	NodeTypePassthrough = "passthrough"
	NodeTypeHuman       = "human"
)

// NewRegistry 创建带内置节点类型的注册表
func NewRegistry() *Registry {
	r := &Registry{
		factories:  map[string]NodeFactory{},
		strategies: map[string]compose.KeyStrategy{},
	}
	r.Register(NodeTypeSet, newSetNode)
	r.Register(NodeTypeTemplate, newTemplateNode)
	return r
}

// Register 注册节点类型，同名覆盖。passthrough 与 human 为保留类型。
func (r *Registry) Register(typ string, factory NodeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = factory
}

// RegisterStrategy 注册自定义键策略，文档中按策略名引用
func (r *Registry) RegisterStrategy(s compose.KeyStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Name] = s
}

// Types 已注册的节点类型（含保留类型），按名称排序
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{NodeTypePassthrough, NodeTypeHuman}
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) factory(typ string) (NodeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[typ]
	return f, ok
}

func (r *Registry) strategy(name string) (compose.KeyStrategy, error) {
	if s, ok := compose.StrategyByName(name); ok {
		return s, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[name]; ok {
		return s, nil
	}
	return compose.KeyStrategy{}, fmt.Errorf("unknown key strategy %q", name)
}
