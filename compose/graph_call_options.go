package compose

import (
	"time"

	"github.com/favbox/flowgraph/callbacks"
)

// Option 单次调用的选项（Invoke / Stream / Resume）
type Option struct {
	threadID    *string
	forceNewRun bool
	sink        StreamSink
	handlers    []callbacks.Handler
	maxRunSteps *int
	nodeTimeout *time.Duration
}

// WithThreadID 设置 thread id。
// 同一个 thread id 的多次调用共享检查点：挂起或失败的运行会从检查点继续。
// 未设置时自动生成。
func WithThreadID(threadID string) Option {
	return Option{threadID: &threadID}
}

// WithForceNewRun 忽略已有检查点，从 START 重新开始
func WithForceNewRun() Option {
	return Option{forceNewRun: true}
}

// WithStreamSink 注册流式输出消费者
func WithStreamSink(sink StreamSink) Option {
	return Option{sink: sink}
}

// WithCallbacks 注册本次调用的回调处理器
func WithCallbacks(handlers ...callbacks.Handler) Option {
	return Option{handlers: handlers}
}

// WithRuntimeMaxSteps 覆盖编译时的最大超级步数
func WithRuntimeMaxSteps(maxSteps int) Option {
	return Option{maxRunSteps: &maxSteps}
}

// WithRuntimeNodeTimeout 覆盖所有节点的超时时间
func WithRuntimeNodeTimeout(d time.Duration) Option {
	return Option{nodeTimeout: &d}
}

type callOptions struct {
	threadID    string
	forceNewRun bool
	sinks       []StreamSink
	handlers    []callbacks.Handler
	maxRunSteps int
	nodeTimeout *time.Duration
}

func (cg *CompiledGraph) resolveOptions(opts []Option) *callOptions {
	o := &callOptions{maxRunSteps: cg.maxRunSteps}
	for _, opt := range opts {
		if opt.threadID != nil {
			o.threadID = *opt.threadID
		}
		if opt.forceNewRun {
			o.forceNewRun = true
		}
		if opt.sink != nil {
			o.sinks = append(o.sinks, opt.sink)
		}
		o.handlers = append(o.handlers, opt.handlers...)
		if opt.maxRunSteps != nil && *opt.maxRunSteps > 0 {
			o.maxRunSteps = *opt.maxRunSteps
		}
		if opt.nodeTimeout != nil {
			o.nodeTimeout = opt.nodeTimeout
		}
	}
	return o
}
