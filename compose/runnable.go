package compose

import (
	"context"

	"github.com/favbox/flowgraph/schema"
)

// Runnable 编译后的图对外提供的执行接口
type Runnable interface {
	Invoke(ctx context.Context, input Delta, opts ...Option) (*RunResult, error)
	Stream(ctx context.Context, input Delta, opts ...Option) (*schema.StreamReader[*NodeOutput], error)
	Resume(ctx context.Context, threadID string, feedback Delta, opts ...Option) (*RunResult, error)
	ResumeStream(ctx context.Context, threadID string, feedback Delta, opts ...Option) (*schema.StreamReader[*NodeOutput], error)
	GetState(ctx context.Context, threadID string) (*Checkpoint, error)
	DeleteThread(ctx context.Context, threadID string) error
	GraphInfo() *GraphInfo
}

var _ Runnable = (*CompiledGraph)(nil)

// RunResult 一次调用的结果
type RunResult struct {
	ThreadID string    `json:"thread_id"`
	RunID    string    `json:"run_id"`
	Status   RunStatus `json:"status"`
	State    State     `json:"state"`
	// Steps 本次调用执行的超级步数
	Steps     int            `json:"steps"`
	Interrupt *InterruptInfo `json:"interrupt,omitempty"`
	Error     string         `json:"error,omitempty"`
}
