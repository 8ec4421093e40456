/*
 * graph.go - 图定义与编译
 *
 * 核心组件：
 *   - Graph: 节点、边、条件分支和键合并策略的声明
 *   - Compile: 校验图结构并生成可执行的 CompiledGraph
 *
 * 编译期校验：
 *   - 节点键唯一且不使用保留字 START / END
 *   - 边和分支只能引用已声明的节点
 *   - START 至少有一个后继，且存在 START 到 END 的路径
 *   - 每个节点都可从 START 到达，并且都有到达 END 的路径
 *   - 被多个节点声明写入（WithOutputKeys）的键必须注册合并策略
 *   - AllPredecessor 模式下图必须无环
 *
 * 同一个 Graph 可以用不同选项多次编译，得到互相独立的 CompiledGraph；
 * 第一次编译之后图定义被冻结，继续修改返回 ErrGraphCompiled。
 */

package compose

import (
	"context"
	"fmt"
	"sort"
)

// START 图起始节点标识符，保留字。
const START = "start"

// END 图终止节点标识符，保留字。
const END = "end"

// graphNode 图中的一个节点
type graphNode struct {
	key    string
	lambda *Lambda
	opts   *graphAddNodeOpts
}

func (n *graphNode) name() string {
	if n.opts.nodeName != "" {
		return n.opts.nodeName
	}
	return n.key
}

// Graph 有状态图的定义。
//
//	g := compose.NewGraph(compose.WithKeyStrategies(compose.KeyStrategies{
//		"messages": compose.AppendStrategy(),
//	}))
//	_ = g.AddLambdaNode("a", compose.InvokableLambda(fnA))
//	_ = g.AddEdge(compose.START, "a")
//	_ = g.AddEdge("a", compose.END)
//	r, err := g.Compile(ctx)
type Graph struct {
	name string

	nodes     map[string]*graphNode
	nodeOrder []string

	edges    map[string][]string
	branches map[string][]*GraphBranch

	strategies KeyStrategies

	buildError error
	compiled   bool
}

type newGraphOptions struct {
	name       string
	strategies KeyStrategies
}

// NewGraphOption 创建图的选项
type NewGraphOption func(o *newGraphOptions)

// WithKeyStrategies 注册状态键合并策略
func WithKeyStrategies(ks KeyStrategies) NewGraphOption {
	return func(o *newGraphOptions) {
		for k, v := range ks {
			o.strategies[k] = v
		}
	}
}

// WithKeyStrategy 注册单个状态键的合并策略
func WithKeyStrategy(key string, s KeyStrategy) NewGraphOption {
	return func(o *newGraphOptions) {
		o.strategies[key] = s
	}
}

// WithName 设置图的默认名称，可被编译选项 WithGraphName 覆盖
func WithName(name string) NewGraphOption {
	return func(o *newGraphOptions) {
		o.name = name
	}
}

// NewGraph 创建空图
func NewGraph(opts ...NewGraphOption) *Graph {
	o := &newGraphOptions{strategies: KeyStrategies{}}
	for _, opt := range opts {
		opt(o)
	}
	return &Graph{
		name:       o.name,
		nodes:      map[string]*graphNode{},
		edges:      map[string][]string{},
		branches:   map[string][]*GraphBranch{},
		strategies: o.strategies,
	}
}

// checkMutable 统一的修改前检查，返回非空时调用方应直接返回
func (g *Graph) checkMutable() error {
	if g.buildError != nil {
		return g.buildError
	}
	if g.compiled {
		return ErrGraphCompiled
	}
	return nil
}

func (g *Graph) fail(err error) error {
	if g.buildError == nil {
		g.buildError = err
	}
	return err
}

// AddLambdaNode 添加节点
func (g *Graph) AddLambdaNode(key string, node *Lambda, opts ...GraphAddNodeOpt) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if node == nil || (node.invoke == nil && node.stream == nil) {
		return g.fail(newGraphStateError("node action is nil", key))
	}
	return g.addNode(key, node, getGraphAddNodeOpts(opts...))
}

// AddPassthroughNode 添加透传节点，不修改状态，常用于汇聚或路由
func (g *Graph) AddPassthroughNode(key string, opts ...GraphAddNodeOpt) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	return g.addNode(key, passthroughLambda(), getGraphAddNodeOpts(opts...))
}

// AddHumanNode 添加人工检查点节点，node 为空时相当于透传。
// 运行到该节点时挂起，Resume 合并反馈后再执行 node。
func (g *Graph) AddHumanNode(key string, node *Lambda, opts ...GraphAddNodeOpt) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if node == nil {
		node = passthroughLambda()
	}
	o := getGraphAddNodeOpts(opts...)
	o.human = true
	return g.addNode(key, node, o)
}

func (g *Graph) addNode(key string, node *Lambda, o *graphAddNodeOpts) error {
	if key == "" {
		return g.fail(newGraphStateError("node key is empty"))
	}
	if key == START || key == END {
		return g.fail(newGraphStateError("node key is reserved", key))
	}
	if _, ok := g.nodes[key]; ok {
		return g.fail(newGraphStateError("node already present", key))
	}
	g.nodes[key] = &graphNode{key: key, lambda: node, opts: o}
	g.nodeOrder = append(g.nodeOrder, key)
	return nil
}

// AddEdge 添加无条件边。同一个起点的多条边构成并行扇出。
func (g *Graph) AddEdge(startNode, endNode string) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if startNode == END {
		return g.fail(newGraphStateError("END cannot be a start node"))
	}
	if endNode == START {
		return g.fail(newGraphStateError("START cannot be an end node"))
	}
	if _, ok := g.nodes[startNode]; !ok && startNode != START {
		return g.fail(newGraphStateError(fmt.Sprintf("edge start node '%s' needs to be added to graph first", startNode), startNode))
	}
	if _, ok := g.nodes[endNode]; !ok && endNode != END {
		return g.fail(newGraphStateError(fmt.Sprintf("edge end node '%s' needs to be added to graph first", endNode), endNode))
	}
	for _, existing := range g.edges[startNode] {
		if existing == endNode {
			return g.fail(newGraphStateError(fmt.Sprintf("edge[%s]-[%s] has been added yet", startNode, endNode), startNode, endNode))
		}
	}
	g.edges[startNode] = append(g.edges[startNode], endNode)
	return nil
}

// AddParallelEdges 从同一起点添加多条边，目标节点在同一个超级步内并行执行
func (g *Graph) AddParallelEdges(startNode string, endNodes ...string) error {
	for _, end := range endNodes {
		if err := g.AddEdge(startNode, end); err != nil {
			return err
		}
	}
	return nil
}

// AddBranch 添加条件分支
func (g *Graph) AddBranch(startNode string, branch *GraphBranch) error {
	if err := g.checkMutable(); err != nil {
		return err
	}
	if branch == nil || branch.invoke == nil {
		return g.fail(newGraphStateError("branch is nil", startNode))
	}
	if startNode == END {
		return g.fail(newGraphStateError("END cannot be a start node"))
	}
	if _, ok := g.nodes[startNode]; !ok && startNode != START {
		return g.fail(newGraphStateError(fmt.Sprintf("branch start node '%s' needs to be added to graph first", startNode), startNode))
	}
	if len(branch.endNodes) == 0 {
		return g.fail(newGraphStateError("branch has no end nodes", startNode))
	}
	for end := range branch.endNodes {
		if end == START {
			return g.fail(newGraphStateError("START cannot be an end node"))
		}
		if _, ok := g.nodes[end]; !ok && end != END {
			return g.fail(newGraphStateError(fmt.Sprintf("branch end node '%s' needs to be added to graph first", end), end))
		}
	}
	g.branches[startNode] = append(g.branches[startNode], branch)
	return nil
}

// AddConditionalEdges 按路由标签添加条件边，等价于 AddBranch(startNode, NewConditionalBranch(condition, routes))
func (g *Graph) AddConditionalEdges(startNode string, condition GraphBranchCondition, routes map[string]string) error {
	return g.AddBranch(startNode, NewConditionalBranch(condition, routes))
}

// successors 节点的全部静态后继：先无条件边，再分支目标（字典序），去重
func (g *Graph) successors(key string) []string {
	seen := map[string]bool{}
	var out []string
	for _, end := range g.edges[key] {
		if !seen[end] {
			seen[end] = true
			out = append(out, end)
		}
	}
	for _, b := range g.branches[key] {
		ends := make([]string, 0, len(b.endNodes))
		for end := range b.endNodes {
			ends = append(ends, end)
		}
		sort.Strings(ends)
		for _, end := range ends {
			if !seen[end] {
				seen[end] = true
				out = append(out, end)
			}
		}
	}
	return out
}

// Compile 校验图并生成可执行图
func (g *Graph) Compile(ctx context.Context, opts ...GraphCompileOption) (*CompiledGraph, error) {
	if g.buildError != nil {
		return nil, g.buildError
	}

	opt := newGraphCompileOptions(opts...)
	if opt.graphName == "" {
		opt.graphName = g.name
	}

	if err := g.validate(opt); err != nil {
		err.Graph = opt.graphName
		return nil, err
	}

	g.compiled = true

	cg := newCompiledGraph(g, opt)
	if len(opt.callbacks) > 0 {
		info := cg.GraphInfo()
		for _, cb := range opt.callbacks {
			cb.OnFinish(ctx, info)
		}
	}
	return cg, nil
}

func (g *Graph) validate(opt *graphCompileOptions) *GraphStateError {
	if len(g.successors(START)) == 0 {
		return newGraphStateError("start node not set")
	}

	// 正向可达
	reachable := map[string]bool{START: true}
	queue := []string{START}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.successors(cur) {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreachable []string
	for _, key := range g.nodeOrder {
		if !reachable[key] {
			unreachable = append(unreachable, key)
		}
	}
	if len(unreachable) > 0 {
		return newGraphStateError("nodes unreachable from start", unreachable...)
	}
	if !reachable[END] {
		return newGraphStateError("no path from start to end")
	}

	// 反向可达：每个节点都要能走到 END
	predecessors := map[string][]string{}
	for _, key := range append([]string{START}, g.nodeOrder...) {
		for _, next := range g.successors(key) {
			predecessors[next] = append(predecessors[next], key)
		}
	}
	canFinish := map[string]bool{END: true}
	queue = []string{END}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range predecessors[cur] {
			if !canFinish[prev] {
				canFinish[prev] = true
				queue = append(queue, prev)
			}
		}
	}
	var deadEnds []string
	for _, key := range g.nodeOrder {
		if !canFinish[key] {
			deadEnds = append(deadEnds, key)
		}
	}
	if len(deadEnds) > 0 {
		return newGraphStateError("nodes have no path to end", deadEnds...)
	}

	// 多写者的键必须显式声明合并策略
	writers := map[string][]string{}
	for _, key := range g.nodeOrder {
		for _, out := range g.nodes[key].opts.outputKeys {
			writers[out] = append(writers[out], key)
		}
	}
	stateKeys := make([]string, 0, len(writers))
	for k := range writers {
		stateKeys = append(stateKeys, k)
	}
	sort.Strings(stateKeys)
	for _, k := range stateKeys {
		if len(writers[k]) > 1 {
			if _, ok := g.strategies[k]; !ok {
				return newGraphStateError(fmt.Sprintf("key strategy missing for state key '%s' written by multiple nodes", k), writers[k]...)
			}
		}
	}

	if err := g.validateNodeRefs("interrupt before", opt.interruptBeforeNodes); err != nil {
		return err
	}
	if err := g.validateNodeRefs("interrupt after", opt.interruptAfterNodes); err != nil {
		return err
	}
	if err := g.validateNodeRefs("merge order", opt.mergeOrder); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, key := range opt.mergeOrder {
		if seen[key] {
			return newGraphStateError("merge order contains duplicated node", key)
		}
		seen[key] = true
	}

	if opt.maxRunSteps < 0 {
		return newGraphStateError(fmt.Sprintf("max run steps must be positive, got %d", opt.maxRunSteps))
	}
	if opt.maxConcurrency < 0 {
		return newGraphStateError(fmt.Sprintf("max concurrency must not be negative, got %d", opt.maxConcurrency))
	}
	switch opt.nodeTriggerMode {
	case AnyPredecessor:
	case AllPredecessor:
		if loop := g.findLoop(); len(loop) > 0 {
			return newGraphStateError("graph with AllPredecessor trigger mode must be acyclic", loop...)
		}
	default:
		return newGraphStateError(fmt.Sprintf("unknown node trigger mode %q", opt.nodeTriggerMode))
	}

	return nil
}

func (g *Graph) validateNodeRefs(what string, keys []string) *GraphStateError {
	for _, key := range keys {
		if _, ok := g.nodes[key]; !ok {
			return newGraphStateError(fmt.Sprintf("%s references unknown node", what), key)
		}
	}
	return nil
}

// findLoop 用 Kahn 算法检测环，返回无法拓扑排序的节点（声明顺序）
func (g *Graph) findLoop() []string {
	inDegree := map[string]int{}
	all := append([]string{START}, g.nodeOrder...)
	for _, key := range all {
		for _, next := range g.successors(key) {
			inDegree[next]++
		}
	}
	queue := []string{START}
	visited := map[string]bool{}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited[cur] = true
		for _, next := range g.successors(cur) {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	var loop []string
	for _, key := range g.nodeOrder {
		if !visited[key] {
			loop = append(loop, key)
		}
	}
	return loop
}
