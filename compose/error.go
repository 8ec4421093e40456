package compose

/*
 * error.go - 错误体系
 *
 * 核心组件：
 *   - GraphStateError: 编译期结构错误（重复节点、悬空边、不可达、缺少合并策略）
 *   - GraphRunError: 运行期错误，按 ErrorKind 区分节点失败、超时、步数超限、取消等
 *   - CheckpointError: 检查点存储不可用或序列化失败
 *
 * 三类错误都实现 Unwrap，调用方可用 errors.Is / errors.As 判断根因。
 */

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ====== 基础错误定义 ======

// ErrExceedMaxSteps 执行步数超过上限，通常意味着图中存在未收敛的循环
var ErrExceedMaxSteps = errors.New("exceeds max steps")

// ErrGraphCompiled 图编译后再修改定义
var ErrGraphCompiled = errors.New("graph has been compiled, cannot be modified")

// ErrNodeTimeout 节点执行超过配置的超时时间
var ErrNodeTimeout = errors.New("node execution timed out")

// ErrNoCheckpoint 恢复运行时找不到对应 thread id 的检查点
var ErrNoCheckpoint = errors.New("no checkpoint for thread")

// ErrCheckpointMismatch 检查点属于另一个图，或引用了本图不存在的节点
var ErrCheckpointMismatch = errors.New("checkpoint does not belong to this graph")

// ErrUnknownStateKey 严格模式下节点写入了未注册合并策略的键
var ErrUnknownStateKey = errors.New("state key has no registered strategy")

// ====== 编译期错误 ======

// GraphStateError 图定义的结构性错误，由 Compile 同步返回。
type GraphStateError struct {
	// Graph 图名称，可能为空
	Graph string
	// Reason 人类可读的原因
	Reason string
	// Nodes 相关节点
	Nodes []string
	err   error
}

func (e *GraphStateError) Error() string {
	sb := strings.Builder{}
	sb.WriteString("graph state error")
	if e.Graph != "" {
		sb.WriteString("[" + e.Graph + "]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Reason)
	if len(e.Nodes) > 0 {
		sb.WriteString(" (nodes: " + strings.Join(e.Nodes, ", ") + ")")
	}
	return sb.String()
}

func (e *GraphStateError) Unwrap() error {
	return e.err
}

func newGraphStateError(reason string, nodes ...string) *GraphStateError {
	return &GraphStateError{Reason: reason, Nodes: nodes}
}

// ====== 运行期错误 ======

// ErrorKind 运行期错误类别
type ErrorKind string

const (
	ErrorKindNodeFailed     ErrorKind = "NodeFailed"
	ErrorKindTimeout        ErrorKind = "Timeout"
	ErrorKindRecursionLimit ErrorKind = "RecursionLimit"
	ErrorKindCanceled       ErrorKind = "Canceled"
	ErrorKindBranch         ErrorKind = "Branch"
	ErrorKindUnknownKey     ErrorKind = "UnknownKey"
	ErrorKindCheckpoint     ErrorKind = "Checkpoint"
)

// GraphRunError 运行期错误，导致一次运行进入 FAILED 状态。
type GraphRunError struct {
	Kind ErrorKind
	// NodeKey 出错节点，图级错误时为空
	NodeKey string
	// Step 出错时的超级步序号
	Step int
	Err  error
}

func (e *GraphRunError) Error() string {
	sb := strings.Builder{}
	sb.WriteString("[" + string(e.Kind) + "] ")
	if e.NodeKey != "" {
		sb.WriteString("node " + e.NodeKey + ": ")
	}
	if e.Err != nil {
		sb.WriteString(e.Err.Error())
	}
	if e.Step > 0 {
		sb.WriteString(fmt.Sprintf(" (step %d)", e.Step))
	}
	return sb.String()
}

func (e *GraphRunError) Unwrap() error {
	return e.Err
}

// IsRunErrorKind 判断 err 链上是否存在指定类别的运行期错误。
func IsRunErrorKind(err error, kind ErrorKind) bool {
	var re *GraphRunError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// wrapNodeError 把节点返回的错误归类。
// 已归类的错误原样返回；父 context 取消优先于超时判断。
func wrapNodeError(nodeKey string, step int, err error) error {
	if err == nil {
		return nil
	}
	var re *GraphRunError
	if errors.As(err, &re) {
		return err
	}
	if _, ok := isInterruptError(err); ok {
		return err
	}
	kind := ErrorKindNodeFailed
	switch {
	case errors.Is(err, ErrNodeTimeout):
		kind = ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		kind = ErrorKindCanceled
	}
	return &GraphRunError{Kind: kind, NodeKey: nodeKey, Step: step, Err: err}
}

func newRunError(kind ErrorKind, step int, err error) *GraphRunError {
	return &GraphRunError{Kind: kind, Step: step, Err: err}
}

// ====== 检查点错误 ======

// CheckpointError 检查点存储失败。
type CheckpointError struct {
	// Op 操作名：load / save / delete / marshal / unmarshal
	Op       string
	ThreadID string
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed for thread %q: %v", e.Op, e.ThreadID, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
