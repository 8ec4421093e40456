package compose

import "time"

// graphAddNodeOpts 添加节点时的配置
type graphAddNodeOpts struct {
	nodeName   string
	outputKeys []string
	retry      *RetryPolicy
	timeout    time.Duration
	human      bool
}

// GraphAddNodeOpt 添加节点的函数式选项
type GraphAddNodeOpt func(o *graphAddNodeOpts)

// WithNodeName 设置节点展示名称，默认与节点键相同
func WithNodeName(n string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.nodeName = n
	}
}

// WithOutputKeys 声明节点会写入的状态键。
// 编译时据此检查：同一个键被多个节点声明写入时必须注册合并策略。
func WithOutputKeys(keys ...string) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.outputKeys = append(o.outputKeys, keys...)
	}
}

// WithRetryPolicy 设置节点级重试策略，覆盖 WithDefaultRetryPolicy
func WithRetryPolicy(p RetryPolicy) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.retry = &p
	}
}

// WithNodeTimeout 设置节点单次执行的超时时间，覆盖 WithDefaultNodeTimeout
func WithNodeTimeout(d time.Duration) GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.timeout = d
	}
}

// WithHumanInTheLoop 把节点标记为人工检查点。
// 执行流到达该节点时运行挂起，等待 Resume 提供反馈后再执行节点动作。
func WithHumanInTheLoop() GraphAddNodeOpt {
	return func(o *graphAddNodeOpts) {
		o.human = true
	}
}

func getGraphAddNodeOpts(opts ...GraphAddNodeOpt) *graphAddNodeOpts {
	o := &graphAddNodeOpts{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
