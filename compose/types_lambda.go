package compose

import (
	"context"

	"github.com/favbox/flowgraph/schema"
)

// InvokeFunc 普通节点动作：读取状态快照，返回部分更新。
type InvokeFunc func(ctx context.Context, state State) (Delta, error)

// StreamFunc 流式节点动作：逐块产出增量。
// 每个数据块会作为 OutputChunk 实时推送给流式消费者，
// 所有数据块按键拼接（见 schema.ConcatValues）后作为节点的最终增量参与合并。
type StreamFunc func(ctx context.Context, state State) (*schema.StreamReader[Delta], error)

// Lambda 节点动作的封装，二选一。
type Lambda struct {
	invoke InvokeFunc
	stream StreamFunc
}

// InvokableLambda 用普通函数创建节点动作。
//
//	node := compose.InvokableLambda(func(ctx context.Context, s compose.State) (compose.Delta, error) {
//		return compose.Delta{"x": schema.Int(1)}, nil
//	})
func InvokableLambda(fn InvokeFunc) *Lambda {
	return &Lambda{invoke: fn}
}

// StreamableLambda 用流式函数创建节点动作。
func StreamableLambda(fn StreamFunc) *Lambda {
	return &Lambda{stream: fn}
}

// IsStreaming 是否为流式动作。
func (l *Lambda) IsStreaming() bool {
	return l != nil && l.stream != nil
}

func passthroughLambda() *Lambda {
	return InvokableLambda(func(ctx context.Context, state State) (Delta, error) {
		return Delta{}, nil
	})
}
