package callbacks

import "context"

// Manager 一次图运行中使用的回调处理器链。
// OnStart 按注册顺序执行，OnEnd / OnError 按相反顺序执行。
type Manager struct {
	handlers []Handler
}

// NewManager 合并全局处理器与调用时传入的处理器。
// 没有任何处理器时返回 nil，nil Manager 的所有方法都是空操作。
func NewManager(handlers ...Handler) *Manager {
	if len(globalHandlers)+len(handlers) == 0 {
		return nil
	}
	hs := make([]Handler, 0, len(globalHandlers)+len(handlers))
	hs = append(hs, globalHandlers...)
	hs = append(hs, handlers...)
	return &Manager{handlers: hs}
}

// OnStart 触发开始回调。
func (m *Manager) OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
	if m == nil {
		return ctx
	}
	for _, h := range m.handlers {
		if needed(ctx, h, info, TimingOnStart) {
			ctx = h.OnStart(ctx, info, input)
		}
	}
	return ctx
}

// OnEnd 触发结束回调。
func (m *Manager) OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
	if m == nil {
		return ctx
	}
	for i := len(m.handlers) - 1; i >= 0; i-- {
		h := m.handlers[i]
		if needed(ctx, h, info, TimingOnEnd) {
			ctx = h.OnEnd(ctx, info, output)
		}
	}
	return ctx
}

// OnError 触发出错回调。
func (m *Manager) OnError(ctx context.Context, info *RunInfo, err error) context.Context {
	if m == nil {
		return ctx
	}
	for i := len(m.handlers) - 1; i >= 0; i-- {
		h := m.handlers[i]
		if needed(ctx, h, info, TimingOnError) {
			ctx = h.OnError(ctx, info, err)
		}
	}
	return ctx
}

func needed(ctx context.Context, h Handler, info *RunInfo, timing CallbackTiming) bool {
	tc, ok := h.(TimingChecker)
	if !ok {
		return true
	}
	return tc.Needed(ctx, info, timing)
}
