package compose

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxRunSteps 默认的最大超级步数，是循环图唯一的安全阀
const DefaultMaxRunSteps = 25

// NodeTriggerMode 节点触发模式
type NodeTriggerMode string

const (
	// AnyPredecessor 任一前驱选中即触发（Pregel 模式），允许环，依赖步数上限终止
	AnyPredecessor NodeTriggerMode = "any_predecessor"
	// AllPredecessor 所有前驱都已完成或被分支跳过才触发（DAG 模式），要求无环
	AllPredecessor NodeTriggerMode = "all_predecessor"
)

// GraphCompileCallback 编译完成回调
type GraphCompileCallback interface {
	OnFinish(ctx context.Context, info *GraphInfo)
}

// graphCompileOptions 图编译选项
type graphCompileOptions struct {
	maxRunSteps     int
	graphName       string
	nodeTriggerMode NodeTriggerMode

	callbacks []GraphCompileCallback

	checkPointStore      CheckPointStore
	bestEffortCheckpoint bool

	interruptBeforeNodes []string
	interruptAfterNodes  []string

	// mergeOrder 同一超级步内增量的合并顺序，未列出的节点按声明顺序排在后面
	mergeOrder []string

	defaultRetry   *RetryPolicy
	defaultTimeout time.Duration
	strictKeys     bool
	maxConcurrency int

	logger logrus.FieldLogger
}

func newGraphCompileOptions(opts ...GraphCompileOption) *graphCompileOptions {
	option := &graphCompileOptions{
		nodeTriggerMode: AnyPredecessor,
	}
	for _, o := range opts {
		o(option)
	}
	if option.logger == nil {
		option.logger = logrus.StandardLogger()
	}
	return option
}

// GraphCompileOption 图编译选项
//
//	r, err := g.Compile(ctx,
//		compose.WithGraphName("review"),
//		compose.WithMaxRunSteps(50),
//		compose.WithCheckPointStore(memstore.New()))
type GraphCompileOption func(*graphCompileOptions)

// WithMaxRunSteps 设置最大超级步数，默认 DefaultMaxRunSteps。
// 超出后运行以 ErrorKindRecursionLimit 失败。
func WithMaxRunSteps(maxSteps int) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.maxRunSteps = maxSteps
	}
}

// WithGraphName 设置图名称，用于日志、回调和指标
func WithGraphName(graphName string) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.graphName = graphName
	}
}

// WithNodeTriggerMode 设置节点触发模式，默认 AnyPredecessor
func WithNodeTriggerMode(mode NodeTriggerMode) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.nodeTriggerMode = mode
	}
}

// WithGraphCompileCallbacks 设置编译完成回调
func WithGraphCompileCallbacks(cbs ...GraphCompileCallback) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.callbacks = append(o.callbacks, cbs...)
	}
}

// WithCheckPointStore 设置检查点存储。
// 配置后每个超级步结束都会写入检查点，运行可在挂起或失败后恢复。
func WithCheckPointStore(store CheckPointStore) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.checkPointStore = store
	}
}

// WithBestEffortCheckpoint 检查点写入失败时只记录日志并触发回调，不终止运行
func WithBestEffortCheckpoint() GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.bestEffortCheckpoint = true
	}
}

// WithInterruptBeforeNodes 在指定节点执行前挂起
func WithInterruptBeforeNodes(nodes []string) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.interruptBeforeNodes = nodes
	}
}

// WithInterruptAfterNodes 在指定节点执行后挂起
func WithInterruptAfterNodes(nodes []string) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.interruptAfterNodes = nodes
	}
}

// WithMergeOrder 指定并行节点增量的合并顺序
func WithMergeOrder(nodes ...string) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.mergeOrder = nodes
	}
}

// WithDefaultRetryPolicy 设置所有节点的默认重试策略
func WithDefaultRetryPolicy(p RetryPolicy) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.defaultRetry = &p
	}
}

// WithDefaultNodeTimeout 设置所有节点的默认超时
func WithDefaultNodeTimeout(d time.Duration) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.defaultTimeout = d
	}
}

// WithStrictKeys 节点写入未注册策略的键时运行失败，而不是默认替换
func WithStrictKeys() GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.strictKeys = true
	}
}

// WithMaxConcurrency 限制同一超级步内并行执行的节点数，0 表示不限制
func WithMaxConcurrency(n int) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.maxConcurrency = n
	}
}

// WithLogger 设置日志器，默认 logrus.StandardLogger()
func WithLogger(l logrus.FieldLogger) GraphCompileOption {
	return func(o *graphCompileOptions) {
		o.logger = l
	}
}
