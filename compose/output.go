/*
 * output.go - 流式输出
 *
 * 核心组件：
 *   - NodeOutput: 标签联合，区分增量分块、节点最终结果以及流的终止信号
 *   - StreamSink: 消费者接口，按执行顺序接收输出，并收到唯一的终止信号（出错或完成）
 *   - emitter: 运行器内部的串行化发射器
 *
 * 顺序保证：
 *   - 同一节点的分块按产出顺序发送，且都在该节点的最终结果之前
 *   - 同一超级步内各节点的最终结果按合并顺序发送
 *   - 出错后只发送一次 OnError，之后不再发送任何输出
 */

package compose

import (
	"context"
	"sync"
)

// OutputKind 输出种类
type OutputKind string

const (
	// OutputChunk 流式节点产出的增量分块
	OutputChunk OutputKind = "chunk"
	// OutputFinal 节点最终增量及合并后的状态快照
	OutputFinal OutputKind = "final"
	// OutputSuspended 运行挂起，仅出现在 Stream 返回的流末尾
	OutputSuspended OutputKind = "suspended"
	// OutputCompleted 运行完成，仅出现在 Stream 返回的流末尾
	OutputCompleted OutputKind = "completed"
)

// NodeOutput 一条输出
type NodeOutput struct {
	Kind     OutputKind `json:"kind"`
	ThreadID string     `json:"thread_id"`
	NodeKey  string     `json:"node,omitempty"`
	Step     int        `json:"step,omitempty"`
	// Chunk OutputChunk 的增量分块
	Chunk Delta `json:"chunk,omitempty"`
	// Delta OutputFinal 的节点完整增量
	Delta Delta `json:"delta,omitempty"`
	// State OutputFinal 时为合并该节点增量之后的状态
	State *State `json:"state,omitempty"`
	// Result 终止信号携带的运行结果
	Result *RunResult `json:"result,omitempty"`
}

// StreamSink 流式输出消费者
type StreamSink interface {
	OnOutput(ctx context.Context, out *NodeOutput)
	OnError(ctx context.Context, err error)
	OnComplete(ctx context.Context, res *RunResult)
}

// SinkFuncs 用函数实现 StreamSink，未设置的函数被忽略
type SinkFuncs struct {
	Output   func(ctx context.Context, out *NodeOutput)
	Error    func(ctx context.Context, err error)
	Complete func(ctx context.Context, res *RunResult)
}

func (s SinkFuncs) OnOutput(ctx context.Context, out *NodeOutput) {
	if s.Output != nil {
		s.Output(ctx, out)
	}
}

func (s SinkFuncs) OnError(ctx context.Context, err error) {
	if s.Error != nil {
		s.Error(ctx, err)
	}
}

func (s SinkFuncs) OnComplete(ctx context.Context, res *RunResult) {
	if s.Complete != nil {
		s.Complete(ctx, res)
	}
}

// emitter 把输出串行地发给所有消费者
type emitter struct {
	ctx   context.Context
	mu    sync.Mutex
	sinks []StreamSink
	done  bool
}

func newEmitter(ctx context.Context, sinks []StreamSink) *emitter {
	return &emitter{ctx: ctx, sinks: sinks}
}

func (e *emitter) enabled() bool {
	return len(e.sinks) > 0
}

func (e *emitter) output(out *NodeOutput) bool {
	if !e.enabled() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	for _, s := range e.sinks {
		s.OnOutput(e.ctx, out)
	}
	return true
}

func (e *emitter) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	for _, s := range e.sinks {
		s.OnError(e.ctx, err)
	}
}

func (e *emitter) complete(res *RunResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.done = true
	for _, s := range e.sinks {
		s.OnComplete(e.ctx, res)
	}
}

// chunkGate 单次节点执行的分块出口。
// 节点超时后运行器关闭出口，仍在后台运行的动作产出的分块会被丢弃。
type chunkGate struct {
	mu     sync.Mutex
	closed bool
	e      *emitter
}

func (g *chunkGate) emit(out *NodeOutput) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.e.output(out)
}

func (g *chunkGate) close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}
