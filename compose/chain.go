/*
 * chain.go - 链式编排
 *
 * 核心组件：
 *   - Chain: 线性图的构建器，AppendXX 依次追加节点，最后 Compile
 *   - AppendParallel: 追加一组并行节点，下一个节点等它们全部完成（扇入）
 *
 * Chain 只是 Graph 的语法糖，编译产物与直接构建的图完全一致。
 */

package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrChainCompiled 链编译后再修改
var ErrChainCompiled = errors.New("chain has been compiled, cannot be modified")

// Chain 线性编排构建器
//
//	r, err := compose.NewChain().
//		AppendLambda("fetch", fetch).
//		AppendParallel(map[string]*compose.Lambda{"summarize": s, "classify": c}).
//		AppendLambda("publish", publish).
//		Compile(ctx)
type Chain struct {
	err error

	g *Graph

	nodeIdx     int
	preNodeKeys []string
	hasEnd      bool
}

// NewChain 创建空链，选项与 NewGraph 相同
func NewChain(opts ...NewGraphOption) *Chain {
	return &Chain{g: NewGraph(opts...), preNodeKeys: []string{START}}
}

func (c *Chain) nextKey(key string) string {
	c.nodeIdx++
	if key != "" {
		return key
	}
	return fmt.Sprintf("node_%d", c.nodeIdx)
}

func (c *Chain) reportError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// AppendLambda 追加一个节点，key 为空时自动生成
func (c *Chain) AppendLambda(key string, node *Lambda, opts ...GraphAddNodeOpt) *Chain {
	if c.err != nil {
		return c
	}
	if c.hasEnd {
		c.reportError(ErrChainCompiled)
		return c
	}
	key = c.nextKey(key)
	if err := c.g.AddLambdaNode(key, node, opts...); err != nil {
		c.reportError(err)
		return c
	}
	c.link(key)
	c.preNodeKeys = []string{key}
	return c
}

// AppendHuman 追加人工检查点节点
func (c *Chain) AppendHuman(key string, node *Lambda, opts ...GraphAddNodeOpt) *Chain {
	if c.err != nil {
		return c
	}
	if c.hasEnd {
		c.reportError(ErrChainCompiled)
		return c
	}
	key = c.nextKey(key)
	if err := c.g.AddHumanNode(key, node, opts...); err != nil {
		c.reportError(err)
		return c
	}
	c.link(key)
	c.preNodeKeys = []string{key}
	return c
}

// AppendParallel 追加并行节点，节点按键名排序后依次加入图
func (c *Chain) AppendParallel(nodes map[string]*Lambda, opts ...GraphAddNodeOpt) *Chain {
	if c.err != nil {
		return c
	}
	if c.hasEnd {
		c.reportError(ErrChainCompiled)
		return c
	}
	if len(nodes) < 2 {
		c.reportError(fmt.Errorf("parallel needs at least 2 nodes, got %d", len(nodes)))
		return c
	}
	keys := make([]string, 0, len(nodes))
	for k := range nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		c.nodeIdx++
		if err := c.g.AddLambdaNode(key, nodes[key], opts...); err != nil {
			c.reportError(err)
			return c
		}
		c.link(key)
	}
	c.preNodeKeys = keys
	return c
}

func (c *Chain) link(key string) {
	for _, pre := range c.preNodeKeys {
		if err := c.g.AddEdge(pre, key); err != nil {
			c.reportError(err)
			return
		}
	}
}

// Compile 连接终点并编译
func (c *Chain) Compile(ctx context.Context, opts ...GraphCompileOption) (*CompiledGraph, error) {
	if c.err != nil {
		return nil, c.err
	}
	if !c.hasEnd {
		if len(c.preNodeKeys) == 1 && c.preNodeKeys[0] == START {
			return nil, errors.New("chain has no nodes")
		}
		c.link(END)
		if c.err != nil {
			return nil, c.err
		}
		c.hasEnd = true
	}
	return c.g.Compile(ctx, opts...)
}
