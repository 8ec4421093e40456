/*
 * interface.go - 回调系统的公开接口
 *
 * 核心组件：
 *   - RunInfo: 回调触发时的运行上下文（图名、线程、节点、步数）
 *   - Handler: 生命周期回调接口（开始 / 结束 / 出错）
 *   - TimingChecker: 可选接口，声明处理器关心哪些时机
 *
 * 使用场景：
 *   - 日志：utils/callbacks.NewLogHandler
 *   - 指标：metrics.Collector
 *   - 调试：在测试中记录节点执行顺序
 */

package callbacks

import "context"

// Component 触发回调的组件类型。
type Component string

const (
	// ComponentGraph 一次完整的图运行（Invoke / Stream / Resume）
	ComponentGraph Component = "Graph"
	// ComponentNode 单个节点的一次执行
	ComponentNode Component = "Node"
	// ComponentCheckpoint 检查点读写
	ComponentCheckpoint Component = "Checkpoint"
)

// RunInfo 回调运行时信息。
type RunInfo struct {
	GraphName string
	ThreadID  string
	RunID     string
	// NodeKey 仅在 ComponentNode 时有值
	NodeKey   string
	Component Component
	// Step 当前超级步序号，从 1 开始
	Step int
	// Attempt 节点的第几次尝试，从 1 开始，重试时递增
	Attempt int
}

// CallbackInput 回调输入。
// 图运行开始时为调用方传入的增量，节点开始时为节点看到的状态快照。
type CallbackInput any

// CallbackOutput 回调输出。
// 图运行结束时为运行结果，节点结束时为节点产出的增量。
type CallbackOutput any

// Handler 回调处理器接口。
// 每个方法返回的 context 会传递给同一次执行中的后续回调，
// 可借此在 OnStart 与 OnEnd 之间携带数据（例如开始时间）。
type Handler interface {
	OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
	OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context
	OnError(ctx context.Context, info *RunInfo, err error) context.Context
}

// CallbackTiming 回调时机。
type CallbackTiming uint8

const (
	TimingOnStart CallbackTiming = iota
	TimingOnEnd
	TimingOnError
)

// TimingChecker 检查处理器是否需要在给定时机执行。
// 通过 HandlerBuilder 构建的处理器自动实现此接口。
type TimingChecker interface {
	Needed(ctx context.Context, info *RunInfo, timing CallbackTiming) bool
}

var globalHandlers []Handler

// AppendGlobalHandlers 追加全局回调处理器。
// 全局处理器在每次图运行中都会执行，并先于调用时传入的处理器。
// 非线程安全，只应在进程初始化期间调用。
func AppendGlobalHandlers(handlers ...Handler) {
	globalHandlers = append(globalHandlers, handlers...)
}
