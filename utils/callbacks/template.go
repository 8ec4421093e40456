package callbacks

import (
	"context"

	"github.com/favbox/flowgraph/callbacks"
)

// NewHandlerHelper 创建按组件类型分发的回调处理器构建器。
func NewHandlerHelper() *HandlerHelper {
	return &HandlerHelper{
		handlers: map[callbacks.Component]callbacks.Handler{},
	}
}

// HandlerHelper 按 RunInfo.Component 把回调分发给不同的处理器。
//
// 使用示例：
//
//	h := NewHandlerHelper().
//		Graph(graphHandler).
//		Node(nodeHandler).
//		Handler()
//	runnable.Invoke(ctx, input, compose.WithCallbacks(h))
type HandlerHelper struct {
	handlers map[callbacks.Component]callbacks.Handler
}

// Handler 返回构建的回调处理器。
func (c *HandlerHelper) Handler() callbacks.Handler {
	return &handlerTemplate{c}
}

// Graph 设置图运行级的回调处理器。
func (c *HandlerHelper) Graph(handler callbacks.Handler) *HandlerHelper {
	c.handlers[callbacks.ComponentGraph] = handler
	return c
}

// Node 设置节点级的回调处理器。
func (c *HandlerHelper) Node(handler callbacks.Handler) *HandlerHelper {
	c.handlers[callbacks.ComponentNode] = handler
	return c
}

// Checkpoint 设置检查点错误的回调处理器。
func (c *HandlerHelper) Checkpoint(handler callbacks.Handler) *HandlerHelper {
	c.handlers[callbacks.ComponentCheckpoint] = handler
	return c
}

type handlerTemplate struct {
	*HandlerHelper
}

func (c *handlerTemplate) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if h, ok := c.handlers[info.Component]; ok {
		return h.OnStart(ctx, info, input)
	}
	return ctx
}

func (c *handlerTemplate) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if h, ok := c.handlers[info.Component]; ok {
		return h.OnEnd(ctx, info, output)
	}
	return ctx
}

func (c *handlerTemplate) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if h, ok := c.handlers[info.Component]; ok {
		return h.OnError(ctx, info, err)
	}
	return ctx
}

// Needed 检查指定时机是否需要执行回调。
func (c *handlerTemplate) Needed(ctx context.Context, info *callbacks.RunInfo, timing callbacks.CallbackTiming) bool {
	if info == nil {
		return false
	}
	h, ok := c.handlers[info.Component]
	if !ok {
		return false
	}
	checker, ok := h.(callbacks.TimingChecker)
	return !ok || checker.Needed(ctx, info, timing)
}
