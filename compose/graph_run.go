/*
 * graph_run.go - 图运行器
 *
 * 核心组件：
 *   - CompiledGraph: 编译产物，不可变，可被多个 goroutine 同时调用
 *   - execution: 一次调用（Invoke / Stream / Resume）的运行上下文
 *   - runState: 运行器独占的可变状态（状态值、下一步节点、AllPredecessor 的等待表）
 *
 * 执行模型（超级步）：
 *   1. 取出当前 frontier 中除 END 以外的节点
 *   2. 存在未放行的人工检查点或 interrupt-before 节点时挂起
 *   3. 所有节点基于同一份快照并发执行，等待全部结束（屏障）
 *   4. 按合并顺序把各节点增量合并进状态，再基于合并后的状态计算后继
 *   5. 写入检查点，进入下一个超级步；frontier 只剩 END 时运行完成
 */

package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/favbox/flowgraph/callbacks"
	"github.com/favbox/flowgraph/internal"
	"github.com/favbox/flowgraph/internal/safe"
	"github.com/favbox/flowgraph/schema"
)

// CompiledGraph 编译后的图
type CompiledGraph struct {
	name      string
	nodes     map[string]*graphNode
	nodeOrder []string
	// rank 合并顺序与 frontier 排序依据
	rank map[string]int

	edges        map[string][]string
	branches     map[string][]*GraphBranch
	successors   map[string][]string
	predecessors map[string][]string

	strategies  KeyStrategies
	maxRunSteps int
	triggerMode NodeTriggerMode

	store      CheckPointStore
	bestEffort bool

	interruptBefore map[string]bool
	interruptAfter  map[string]bool

	defaultRetry   *RetryPolicy
	defaultTimeout time.Duration
	strictKeys     bool
	maxConcurrency int

	logger      logrus.FieldLogger
	threadLocks *internal.KeyedMutex
}

func newCompiledGraph(g *Graph, opt *graphCompileOptions) *CompiledGraph {
	cg := &CompiledGraph{
		name:            opt.graphName,
		nodes:           make(map[string]*graphNode, len(g.nodes)),
		nodeOrder:       append([]string(nil), g.nodeOrder...),
		rank:            map[string]int{},
		edges:           map[string][]string{},
		branches:        map[string][]*GraphBranch{},
		successors:      map[string][]string{},
		predecessors:    map[string][]string{},
		strategies:      g.strategies.clone(),
		maxRunSteps:     opt.maxRunSteps,
		triggerMode:     opt.nodeTriggerMode,
		store:           opt.checkPointStore,
		bestEffort:      opt.bestEffortCheckpoint,
		interruptBefore: toSet(opt.interruptBeforeNodes),
		interruptAfter:  toSet(opt.interruptAfterNodes),
		defaultRetry:    opt.defaultRetry,
		defaultTimeout:  opt.defaultTimeout,
		strictKeys:      opt.strictKeys,
		maxConcurrency:  opt.maxConcurrency,
		logger:          opt.logger,
		threadLocks:     internal.NewKeyedMutex(),
	}
	if cg.maxRunSteps == 0 {
		cg.maxRunSteps = DefaultMaxRunSteps
	}

	for k, n := range g.nodes {
		cg.nodes[k] = n
	}
	for k, v := range g.edges {
		cg.edges[k] = append([]string(nil), v...)
	}
	for k, v := range g.branches {
		cg.branches[k] = append([]*GraphBranch(nil), v...)
	}

	next := 0
	for _, key := range opt.mergeOrder {
		cg.rank[key] = next
		next++
	}
	for _, key := range g.nodeOrder {
		if _, ok := cg.rank[key]; !ok {
			cg.rank[key] = next
			next++
		}
	}
	cg.rank[START] = -1
	cg.rank[END] = next

	for _, key := range append([]string{START}, g.nodeOrder...) {
		succ := g.successors(key)
		cg.successors[key] = succ
		for _, s := range succ {
			cg.predecessors[s] = append(cg.predecessors[s], key)
		}
	}
	return cg
}

func toSet(keys []string) map[string]bool {
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// sortByRank 去重并按合并顺序排序
func (cg *CompiledGraph) sortByRank(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return cg.rank[out[i]] < cg.rank[out[j]]
	})
	return out
}

// ====== 对外接口 ======

// Invoke 执行图直到完成、挂起或失败。
// 设置了 thread id 且存在可继续的检查点（挂起、失败或中断）时，从检查点继续执行，input 作为额外增量合并。
// 失败时同时返回状态为 FAILED 的结果和错误。
func (cg *CompiledGraph) Invoke(ctx context.Context, input Delta, opts ...Option) (*RunResult, error) {
	return cg.execute(ctx, modeInvoke, "", input, opts)
}

// Resume 从检查点恢复挂起的运行，feedback 按键策略合并进状态后继续执行。
// 对已完成的 thread 再次调用返回已保存的结果，不会重复执行节点。
func (cg *CompiledGraph) Resume(ctx context.Context, threadID string, feedback Delta, opts ...Option) (*RunResult, error) {
	if threadID == "" {
		return nil, errors.New("resume requires a thread id")
	}
	return cg.execute(ctx, modeResume, threadID, feedback, opts)
}

// Stream 以流的形式执行图。
// 流中依次为各节点的分块与最终结果，最后一条是 OutputCompleted 或 OutputSuspended；
// 运行失败时 Recv 返回该错误。提前关闭读取端会取消运行。
func (cg *CompiledGraph) Stream(ctx context.Context, input Delta, opts ...Option) (*schema.StreamReader[*NodeOutput], error) {
	return cg.stream(ctx, modeInvoke, "", input, opts), nil
}

// ResumeStream 流式版本的 Resume
func (cg *CompiledGraph) ResumeStream(ctx context.Context, threadID string, feedback Delta, opts ...Option) (*schema.StreamReader[*NodeOutput], error) {
	if threadID == "" {
		return nil, errors.New("resume requires a thread id")
	}
	return cg.stream(ctx, modeResume, threadID, feedback, opts), nil
}

// GetState 读取 thread 的最新检查点。
// 不等待进行中的运行，返回的是最近一次写入的检查点。
func (cg *CompiledGraph) GetState(ctx context.Context, threadID string) (*Checkpoint, error) {
	if cg.store == nil {
		return nil, &CheckpointError{Op: "load", ThreadID: threadID, Err: errors.New("checkpoint store not configured")}
	}
	cp, ok, err := cg.store.Load(ctx, threadID)
	if err != nil {
		return nil, &CheckpointError{Op: "load", ThreadID: threadID, Err: err}
	}
	if !ok {
		return nil, &CheckpointError{Op: "load", ThreadID: threadID, Err: ErrNoCheckpoint}
	}
	if err := cg.checkOwnership(cp); err != nil {
		return nil, &CheckpointError{Op: "load", ThreadID: threadID, Err: err}
	}
	return cp.Clone(), nil
}

// DeleteThread 删除 thread 的检查点，之后同一 thread id 的调用从头开始。
// 属于其他图的检查点不会被删除。
func (cg *CompiledGraph) DeleteThread(ctx context.Context, threadID string) error {
	if cg.store == nil {
		return nil
	}
	unlock, err := cg.threadLocks.Lock(ctx, threadID)
	if err != nil {
		return err
	}
	defer unlock()

	cp, ok, err := cg.store.Load(ctx, threadID)
	if err != nil {
		return &CheckpointError{Op: "delete", ThreadID: threadID, Err: err}
	}
	if !ok {
		return nil
	}
	if err := cg.checkOwnership(cp); err != nil {
		return &CheckpointError{Op: "delete", ThreadID: threadID, Err: err}
	}
	if err := cg.store.Delete(ctx, threadID); err != nil {
		return &CheckpointError{Op: "delete", ThreadID: threadID, Err: err}
	}
	return nil
}

// checkOwnership 校验检查点由本图写入：图名一致，且引用的节点都存在
func (cg *CompiledGraph) checkOwnership(cp *Checkpoint) error {
	if cp.GraphName != cg.name {
		return fmt.Errorf("%w: written by graph %q", ErrCheckpointMismatch, cp.GraphName)
	}
	known := func(key string) bool {
		if key == END {
			return true
		}
		_, ok := cg.nodes[key]
		return ok
	}
	var unknown []string
	check := func(keys ...string) {
		for _, k := range keys {
			if !known(k) {
				unknown = append(unknown, k)
			}
		}
	}
	check(cp.Next...)
	for succ, preds := range cp.Pending {
		check(succ)
		for pred := range preds {
			if pred != START {
				check(pred)
			}
		}
	}
	if cp.Interrupt != nil {
		check(cp.Interrupt.BeforeNodes...)
		check(cp.Interrupt.AfterNodes...)
		check(cp.Interrupt.RerunNodes...)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown nodes %v", ErrCheckpointMismatch, unknown)
	}
	return nil
}

// ====== 单次调用 ======

type runMode uint8

const (
	modeInvoke runMode = iota
	modeResume
)

type execution struct {
	cg       *CompiledGraph
	opts     *callOptions
	threadID string
	runID    string
	// step 正在执行的超级步序号，执行期间只读
	step int

	logger  logrus.FieldLogger
	cbm     *callbacks.Manager
	emitter *emitter
	cp      *checkPointer
}

type runState struct {
	values   map[string]schema.Value
	frontier []string
	pending  map[string]map[string]bool
	// cleared 本次调用第一个超级步中已放行的挂起节点
	cleared map[string]bool
	// rerun 本次调用第一个超级步中需要以重跑模式执行的节点
	rerun     map[string]bool
	step      int
	createdAt time.Time
	// steps 本次调用执行的超级步数
	steps int
}

func (cg *CompiledGraph) execute(ctx context.Context, mode runMode, threadID string, input Delta, opts []Option) (*RunResult, error) {
	o := cg.resolveOptions(opts)
	if threadID != "" {
		o.threadID = threadID
	}
	if o.threadID == "" {
		o.threadID = uuid.NewString()
	}

	cbm := callbacks.NewManager(o.handlers...)
	ex := &execution{
		cg:       cg,
		opts:     o,
		threadID: o.threadID,
		runID:    ulid.Make().String(),
		cbm:      cbm,
		emitter:  newEmitter(ctx, o.sinks),
	}
	ex.logger = cg.logger.WithFields(logrus.Fields{"graph": cg.name, "thread_id": o.threadID})

	unlock, err := cg.threadLocks.Lock(ctx, o.threadID)
	if err != nil {
		err = newRunError(ErrorKindCanceled, 0, err)
		ex.emitter.fail(err)
		return nil, err
	}
	defer unlock()

	ex.cp = &checkPointer{
		store:      cg.store,
		bestEffort: cg.bestEffort,
		logger:     ex.logger,
		cbm:        cbm,
	}

	var (
		saved *Checkpoint
		found bool
	)
	if ex.cp.enabled() && !o.forceNewRun {
		saved, found, err = ex.cp.load(ctx, o.threadID)
		if err != nil {
			ex.emitter.fail(err)
			return nil, err
		}
	}
	if found {
		if err = cg.checkOwnership(saved); err != nil {
			err = &CheckpointError{Op: "load", ThreadID: o.threadID, Err: err}
			ex.emitter.fail(err)
			return nil, err
		}
	}
	if mode == modeResume && !found {
		err = &CheckpointError{Op: "load", ThreadID: o.threadID, Err: ErrNoCheckpoint}
		ex.emitter.fail(err)
		return nil, err
	}
	if found && saved.Status.Resumable() {
		ex.runID = saved.RunID
	}

	info := ex.runInfo()
	ex.cp.info = info
	ctx = cbm.OnStart(ctx, info, input)

	res, err := ex.run(ctx, mode, input, saved, found)
	if err != nil {
		cbm.OnError(ctx, info, err)
		ex.emitter.fail(err)
		return res, err
	}
	cbm.OnEnd(ctx, info, res)
	ex.emitter.complete(res)
	return res, nil
}

func (ex *execution) runInfo() *callbacks.RunInfo {
	return &callbacks.RunInfo{
		GraphName: ex.cg.name,
		ThreadID:  ex.threadID,
		RunID:     ex.runID,
		Component: callbacks.ComponentGraph,
	}
}

// prepare 根据检查点决定从哪里开始
func (ex *execution) prepare(ctx context.Context, mode runMode, input Delta, saved *Checkpoint, found bool) (*runState, *RunResult, error) {
	cg := ex.cg

	if found && saved.Status == StatusCompleted && mode == modeResume {
		ex.logger.Debug("thread already completed, returning saved result")
		return nil, &RunResult{
			ThreadID: ex.threadID,
			RunID:    saved.RunID,
			Status:   StatusCompleted,
			State:    NewState(saved.State),
		}, nil
	}

	rs := &runState{values: map[string]schema.Value{}, createdAt: time.Now()}

	if found && saved.Status.Resumable() {
		for k, v := range saved.State {
			rs.values[k] = v
		}
		rs.frontier = append([]string(nil), saved.Next...)
		rs.pending = saved.Clone().Pending
		rs.step = saved.Step
		if !saved.CreatedAt.IsZero() {
			rs.createdAt = saved.CreatedAt
		}
		switch {
		case saved.Status == StatusFailed:
			// 失败时 frontier 已经放行过
			rs.cleared = toSet(rs.frontier)
		case saved.Interrupt != nil && len(saved.Interrupt.RerunNodes) > 0:
			rs.cleared = toSet(rs.frontier)
			rs.rerun = toSet(saved.Interrupt.RerunNodes)
		case saved.Interrupt != nil:
			rs.cleared = toSet(saved.Interrupt.BeforeNodes)
		}
		if err := cg.strategies.apply(rs.values, input, cg.strictKeys); err != nil {
			return nil, nil, ex.inputError(err)
		}
		ex.logger.WithFields(logrus.Fields{"status": saved.Status, "step": saved.Step}).Debug("continuing from checkpoint")
		return rs, nil, nil
	}

	// 全新运行；已完成的 thread 在其最终状态上开始新一轮
	if found && saved.Status == StatusCompleted {
		for k, v := range saved.State {
			rs.values[k] = v
		}
	}
	if err := cg.strategies.apply(rs.values, input, cg.strictKeys); err != nil {
		return nil, nil, ex.inputError(err)
	}

	chosen, err := ex.choose(ctx, START, NewState(rs.values))
	if err != nil {
		return nil, nil, err
	}
	if cg.triggerMode == AllPredecessor {
		rs.pending = map[string]map[string]bool{}
		rs.frontier = cg.sortByRank(cg.report(rs.pending, START, chosen))
	} else {
		rs.frontier = cg.sortByRank(chosen)
	}
	return rs, nil, nil
}

func (ex *execution) inputError(err error) error {
	kind := ErrorKindNodeFailed
	if errors.Is(err, ErrUnknownStateKey) {
		kind = ErrorKindUnknownKey
	}
	return newRunError(kind, 0, fmt.Errorf("merge input: %w", err))
}

func (ex *execution) run(ctx context.Context, mode runMode, input Delta, saved *Checkpoint, found bool) (*RunResult, error) {
	rs, done, err := ex.prepare(ctx, mode, input, saved, found)
	if done != nil {
		return done, nil
	}
	if err != nil {
		return &RunResult{ThreadID: ex.threadID, RunID: ex.runID, Status: StatusFailed, Error: err.Error()}, err
	}

	cg := ex.cg
	for {
		if err := ctx.Err(); err != nil {
			return ex.fail(ctx, rs, newRunError(ErrorKindCanceled, rs.step, err))
		}

		runnable := make([]string, 0, len(rs.frontier))
		for _, key := range rs.frontier {
			if key != END {
				runnable = append(runnable, key)
			}
		}
		if len(runnable) == 0 {
			if !containsKey(rs.frontier, END) {
				// 所有通往 END 的路径都被分支跳过
				return ex.fail(ctx, rs, newRunError(ErrorKindBranch, rs.step, errors.New("run stopped before reaching END")))
			}
			return ex.finish(ctx, rs)
		}

		var blocked []string
		for _, key := range runnable {
			if (cg.nodes[key].opts.human || cg.interruptBefore[key]) && !rs.cleared[key] {
				blocked = append(blocked, key)
			}
		}
		if len(blocked) > 0 {
			return ex.suspend(ctx, rs, &InterruptInfo{BeforeNodes: blocked})
		}
		rs.cleared = nil

		if rs.steps >= ex.opts.maxRunSteps {
			return ex.fail(ctx, rs, newRunError(ErrorKindRecursionLimit, rs.step,
				fmt.Errorf("%w: %d", ErrExceedMaxSteps, ex.opts.maxRunSteps)))
		}

		ex.step = rs.step + 1
		tasks := make([]*task, 0, len(runnable))
		for _, key := range runnable {
			tasks = append(tasks, &task{node: cg.nodes[key], rerun: rs.rerun[key]})
		}
		rs.rerun = nil

		ex.logger.WithFields(logrus.Fields{"step": ex.step, "nodes": runnable}).Debug("superstep started")

		snapshot := NewState(rs.values)
		if err := ex.runTasks(ctx, snapshot, tasks); err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return ex.fail(ctx, rs, newRunError(ErrorKindCanceled, ex.step, cerr))
			}
			if _, ok := isInterruptError(err); ok {
				// 整个超级步作废，恢复后重新执行
				return ex.suspend(ctx, rs, collectInterrupts(tasks))
			}
			return ex.fail(ctx, rs, err)
		}
		rs.steps++

		merged := make(map[string]schema.Value, len(rs.values))
		for k, v := range rs.values {
			merged[k] = v
		}
		var finals []*NodeOutput
		for _, t := range tasks {
			if err := cg.strategies.apply(merged, t.delta, cg.strictKeys); err != nil {
				kind := ErrorKindNodeFailed
				if errors.Is(err, ErrUnknownStateKey) {
					kind = ErrorKindUnknownKey
				}
				return ex.fail(ctx, rs, &GraphRunError{Kind: kind, NodeKey: t.node.key, Step: ex.step, Err: err})
			}
			if ex.emitter.enabled() {
				s := NewState(merged)
				finals = append(finals, &NodeOutput{
					Kind:     OutputFinal,
					ThreadID: ex.threadID,
					NodeKey:  t.node.key,
					Step:     ex.step,
					Delta:    t.delta.Clone(),
					State:    &s,
				})
			}
		}

		next, pending, err := ex.route(ctx, rs, tasks, NewState(merged))
		if err != nil {
			return ex.fail(ctx, rs, err)
		}

		for _, out := range finals {
			ex.emitter.output(out)
		}

		rs.values = merged
		rs.frontier = next
		rs.pending = pending
		rs.step = ex.step

		if err := ex.cp.save(ctx, ex.checkpoint(rs, StatusRunning), false); err != nil {
			return ex.fail(ctx, rs, newRunError(ErrorKindCheckpoint, rs.step, err))
		}

		var after []string
		for _, t := range tasks {
			if cg.interruptAfter[t.node.key] {
				after = append(after, t.node.key)
			}
		}
		if len(after) > 0 {
			return ex.suspend(ctx, rs, &InterruptInfo{AfterNodes: after})
		}
	}
}

func collectInterrupts(tasks []*task) *InterruptInfo {
	var info *InterruptInfo
	for _, t := range tasks {
		extra, ok := isInterruptError(t.err)
		if !ok {
			continue
		}
		if info == nil {
			info = &InterruptInfo{RerunNodesExtra: map[string]any{}}
		}
		info.RerunNodes = append(info.RerunNodes, t.node.key)
		if extra != nil {
			info.RerunNodesExtra[t.node.key] = extra
		}
	}
	if info != nil && len(info.RerunNodesExtra) == 0 {
		info.RerunNodesExtra = nil
	}
	return info
}

// choose 计算节点在给定状态下选中的后继：无条件边加上各分支的结果
func (ex *execution) choose(ctx context.Context, from string, state State) ([]string, error) {
	chosen := append([]string(nil), ex.cg.edges[from]...)
	for _, b := range ex.cg.branches[from] {
		ends, err := evaluateBranch(ctx, b, state)
		if err != nil {
			return nil, &GraphRunError{Kind: ErrorKindBranch, NodeKey: from, Step: ex.step, Err: err}
		}
		chosen = append(chosen, ends...)
	}
	return chosen, nil
}

func evaluateBranch(ctx context.Context, b *GraphBranch, state State) (ends []string, err error) {
	defer safe.Recover(&err)
	return b.evaluate(ctx, state)
}

// route 计算下一个 frontier
func (ex *execution) route(ctx context.Context, rs *runState, tasks []*task, state State) ([]string, map[string]map[string]bool, error) {
	cg := ex.cg
	var (
		next    []string
		pending map[string]map[string]bool
	)
	if cg.triggerMode == AllPredecessor {
		pending = (&Checkpoint{Pending: rs.pending}).Clone().Pending
		if pending == nil {
			pending = map[string]map[string]bool{}
		}
	}
	for _, t := range tasks {
		chosen, err := ex.choose(ctx, t.node.key, state)
		if err != nil {
			return nil, nil, err
		}
		if cg.triggerMode == AllPredecessor {
			next = append(next, cg.report(pending, t.node.key, chosen)...)
		} else {
			next = append(next, chosen...)
		}
	}
	return cg.sortByRank(next), pending, nil
}

// report 在 AllPredecessor 模式下登记 from 对各后继的选择结果，返回已集齐前驱的节点。
// 所有前驱都未选中的节点被跳过，并继续向它的后继登记"未选中"。
func (cg *CompiledGraph) report(pending map[string]map[string]bool, from string, chosen []string) []string {
	type item struct {
		from   string
		chosen map[string]bool
	}
	var ready []string
	queue := []item{{from: from, chosen: toSet(chosen)}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, succ := range cg.successors[cur.from] {
			if pending[succ] == nil {
				pending[succ] = map[string]bool{}
			}
			pending[succ][cur.from] = cur.chosen[succ]
			if len(pending[succ]) < len(cg.predecessors[succ]) {
				continue
			}
			selected := false
			for _, v := range pending[succ] {
				selected = selected || v
			}
			delete(pending, succ)
			switch {
			case selected:
				ready = append(ready, succ)
			case succ != END:
				queue = append(queue, item{from: succ})
			}
		}
	}
	return ready
}

func (ex *execution) checkpoint(rs *runState, status RunStatus) *Checkpoint {
	cp := &Checkpoint{
		ThreadID:  ex.threadID,
		RunID:     ex.runID,
		GraphName: ex.cg.name,
		Status:    status,
		Step:      rs.step,
		State:     make(map[string]schema.Value, len(rs.values)),
		Next:      append([]string(nil), rs.frontier...),
		Pending:   rs.pending,
		CreatedAt: rs.createdAt,
	}
	for k, v := range rs.values {
		cp.State[k] = v
	}
	return cp.Clone()
}

func (ex *execution) result(rs *runState, status RunStatus) *RunResult {
	return &RunResult{
		ThreadID: ex.threadID,
		RunID:    ex.runID,
		Status:   status,
		State:    NewState(rs.values),
		Steps:    rs.steps,
	}
}

func (ex *execution) finish(ctx context.Context, rs *runState) (*RunResult, error) {
	rs.frontier = nil
	rs.pending = nil
	if err := ex.cp.save(ctx, ex.checkpoint(rs, StatusCompleted), false); err != nil {
		return ex.fail(ctx, rs, newRunError(ErrorKindCheckpoint, rs.step, err))
	}
	ex.logger.WithFields(logrus.Fields{"steps": rs.steps, "run_id": ex.runID}).Debug("run completed")
	return ex.result(rs, StatusCompleted), nil
}

func (ex *execution) suspend(ctx context.Context, rs *runState, info *InterruptInfo) (*RunResult, error) {
	cp := ex.checkpoint(rs, StatusSuspended)
	cp.Interrupt = info.clone()
	if err := ex.cp.save(ctx, cp, false); err != nil {
		return ex.fail(ctx, rs, newRunError(ErrorKindCheckpoint, rs.step, err))
	}
	if !ex.cp.enabled() {
		ex.logger.Warn("run suspended without checkpoint store, it cannot be resumed")
	}
	ex.logger.WithFields(logrus.Fields{
		"before": info.BeforeNodes,
		"after":  info.AfterNodes,
		"rerun":  info.RerunNodes,
	}).Debug("run suspended")

	res := ex.result(rs, StatusSuspended)
	res.Interrupt = info
	return res, nil
}

// fail 以失败结束运行。检查点保留失败前的状态与 frontier，可以再次恢复。
func (ex *execution) fail(ctx context.Context, rs *runState, err error) (*RunResult, error) {
	cp := ex.checkpoint(rs, StatusFailed)
	cp.Error = err.Error()
	_ = ex.cp.save(context.WithoutCancel(ctx), cp, true)

	ex.logger.WithError(err).WithField("step", rs.step).Debug("run failed")

	res := ex.result(rs, StatusFailed)
	res.Error = err.Error()
	return res, err
}

// ====== 流式 ======

// safeExecute 在独立 goroutine 中运行时使用，把 panic 转为错误
func (cg *CompiledGraph) safeExecute(ctx context.Context, mode runMode, threadID string, input Delta, opts []Option) (res *RunResult, err error) {
	defer safe.Recover(&err)
	return cg.execute(ctx, mode, threadID, input, opts)
}

type streamEvent struct {
	out *NodeOutput
	err error
}

func (cg *CompiledGraph) stream(ctx context.Context, mode runMode, threadID string, input Delta, opts []Option) *schema.StreamReader[*NodeOutput] {
	ctx, cancel := context.WithCancel(ctx)
	queue := internal.NewUnboundedChan[streamEvent]()
	sink := SinkFuncs{Output: func(_ context.Context, out *NodeOutput) {
		queue.Send(streamEvent{out: out})
	}}
	opts = append(append([]Option(nil), opts...), WithStreamSink(sink))

	go func() {
		defer queue.Close()
		res, err := cg.safeExecute(ctx, mode, threadID, input, opts)
		if err != nil {
			queue.Send(streamEvent{err: err})
			return
		}
		kind := OutputCompleted
		if res.Status == StatusSuspended {
			kind = OutputSuspended
		}
		queue.Send(streamEvent{out: &NodeOutput{Kind: kind, ThreadID: res.ThreadID, Result: res}})
	}()

	sr, sw := schema.Pipe[*NodeOutput](0)
	go func() {
		defer cancel()
		defer sw.Close()
		for {
			ev, ok := queue.Receive()
			if !ok {
				return
			}
			if closed := sw.Send(ev.out, ev.err); closed {
				return
			}
		}
	}()
	return sr
}
